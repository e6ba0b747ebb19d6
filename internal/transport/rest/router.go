package rest

import (
	"net/http"
	"time"

	"github.com/baechuer/real-time-ressys/services/view-service/internal/metrics"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/security"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/transport/rest/response"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
)

type RouterDeps struct {
	Handler  *Handler
	Verifier security.AccessTokenVerifier

	// HTTP request limit. Limiter is used when set, else an in-process
	// per-IP limiter.
	RLEnabled bool
	RLLimit   int
	RLWindow  time.Duration
	Limiter   RequestLimiter
}

func NewRouter(d RouterDeps) http.Handler {
	if d.Handler == nil {
		panic("rest.NewRouter: nil handler")
	}
	if d.Verifier == nil {
		panic("rest.NewRouter: nil verifier")
	}

	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(RequestID)
	r.Use(HTTPLogger)
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		response.Data(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.MetricsHandler())

	r.Route("/api/v1", func(r chi.Router) {
		if d.RLEnabled {
			if d.Limiter != nil {
				r.Use(RateLimitMiddleware(d.Limiter, d.RLLimit, d.RLWindow))
			} else {
				r.Use(httprate.LimitByIP(d.RLLimit, d.RLWindow))
			}
		}
		// view tracking never answers with an auth error; a bad token counts as anonymous
		r.With(OptionalAuth(d.Verifier, AuthOptions{InvalidAsAnonymous: true})).
			Post("/profiles/{subjectID}/views", d.Handler.RecordView)

		r.Group(func(r chi.Router) {
			r.Use(OptionalAuth(d.Verifier, AuthOptions{}))
			r.Get("/profiles/{subjectID}/views/stats", d.Handler.Stats)

			r.Route("/admin", func(r chi.Router) {
				r.Use(RequireAdmin)
				r.Post("/profiles/{subjectID}/views/verify", d.Handler.Verify)
				r.Post("/profiles/{subjectID}/views/reset", d.Handler.Reset)
			})
		})
	})

	return r
}
