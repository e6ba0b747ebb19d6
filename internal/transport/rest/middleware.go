package rest

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/baechuer/real-time-ressys/services/view-service/internal/security"
)

type AuthOptions struct {
	// Treat a malformed, expired or forged token like no token at all instead of 401.
	InvalidAsAnonymous bool
}

// OptionalAuth attaches the caller identity when a bearer token is present.
// Anonymous requests pass through; a malformed or invalid token is rejected unless
// opt.InvalidAsAnonymous is set.
func OptionalAuth(verifier security.AccessTokenVerifier, opt AuthOptions) func(next http.Handler) http.Handler {
	if verifier == nil {
		panic("OptionalAuth: nil verifier")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := security.BearerToken(r.Header.Get("Authorization"))
			if errors.Is(err, security.ErrTokenMissing) {
				next.ServeHTTP(w, r)
				return
			}

			reject := func() {
				if opt.InvalidAsAnonymous {
					next.ServeHTTP(w, r)
					return
				}
				fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
			}

			if err != nil {
				reject()
				return
			}

			claims, err := verifier.VerifyAccessToken(token)
			if err != nil {
				// expired vs invalid: status stays 401 either way
				reject()
				return
			}

			ctx := withAuth(r.Context(), AuthContext{
				ViewerID: claims.ViewerID(),
				Role:     strings.TrimSpace(claims.Role),
				Admin:    claims.IsAdmin(),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin must run after OptionalAuth.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth, ok := GetAuth(r.Context())
		if !ok {
			fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
			return
		}
		if !auth.Admin {
			fail(w, r, http.StatusForbidden, "auth.forbidden", "admin role required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequestLimiter is the shared fixed-window limiter (Redis).
type RequestLimiter interface {
	AllowRequest(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

func RateLimitMiddleware(l RequestLimiter, limit int, window time.Duration) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// limiter fails open, the error is already swallowed there
			allowed, _ := l.AllowRequest(r.Context(), clientIP(r), limit, window)
			if !allowed {
				fail(w, r, http.StatusTooManyRequests, "rate_limited", "too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP is the RemoteAddr host part. RealIP runs first, so behind the
// trusted gateway this is the forwarded client address.
func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	host, _, err := net.SplitHostPort(addr)
	if err == nil && host != "" {
		return host
	}
	return addr
}

func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// JSON-only API
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'; form-action 'none'")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cross-Origin-Resource-Policy", "same-site")

		next.ServeHTTP(w, r)
	})
}
