package rest

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/baechuer/real-time-ressys/services/view-service/internal/domain"
	appCtx "github.com/baechuer/real-time-ressys/services/view-service/internal/pkg/context"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/pkg/logger"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/service"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/transport/rest/response"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// reasonUnavailable is reported when a view could not be recorded because of a store failure.
const reasonUnavailable domain.Reason = "unavailable"

type Handler struct {
	svc *service.ViewService
}

func NewHandler(svc *service.ViewService) *Handler {
	return &Handler{svc: svc}
}

type recordViewRequest struct {
	SessionID *string `json:"session_id,omitempty"`
}

// RecordView never surfaces a store failure to the page that triggered it:
// rejections and failures alike answer 202.
func (h *Handler) RecordView(w http.ResponseWriter, r *http.Request) {
	var req recordViewRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}

	in := domain.RecordViewInput{
		SubjectID:       chi.URLParam(r, "subjectID"),
		OriginAddress:   clientIP(r),
		ClientSignature: r.UserAgent(),
		SessionID:       req.SessionID,
	}
	if auth, ok := GetAuth(r.Context()); ok && auth.ViewerID != "" {
		viewer := auth.ViewerID
		in.ViewerID = &viewer
	}

	res, err := h.svc.RecordView(r.Context(), in)
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid subject id", map[string]string{
			"subject_id": "required",
		})
		return
	case err != nil:
		logger.WithCtx(r.Context()).Error().Err(err).Str("subject_id", in.SubjectID).Msg("record view failed")
		res = domain.RecordResult{Recorded: false, Reason: reasonUnavailable}
	}

	response.Data(w, http.StatusAccepted, res)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.GetStats(r.Context(), chi.URLParam(r, "subjectID"))
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, stats)
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.VerifyAndRepair(r.Context(), chi.URLParam(r, "subjectID"))
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, rep)
}

func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ResetCount(r.Context(), chi.URLParam(r, "subjectID")); err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]string{
		"msg": "reset",
	})
}

func handleErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		fail(w, r, http.StatusBadRequest, "request.invalid", err.Error(), nil)
	case errors.Is(err, domain.ErrSubjectNotFound):
		fail(w, r, http.StatusNotFound, "subject.not_found", err.Error(), nil)
	case errors.Is(err, domain.ErrTransient), errors.Is(err, domain.ErrTxConflict), errors.Is(err, context.DeadlineExceeded):
		fail(w, r, http.StatusServiceUnavailable, "store.unavailable", "try again later", nil)
	default:
		logger.WithCtx(r.Context()).Error().Err(err).Msg("request failed")
		fail(w, r, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}

func fail(w http.ResponseWriter, r *http.Request, status int, code, message string, meta map[string]string) {
	reqID := appCtx.GetRequestID(r.Context())
	if reqID == "" {
		reqID = "no-request-id"
	}
	response.Fail(w, status, code, message, meta, reqID)
}
