package audit

import (
	"context"

	"github.com/baechuer/real-time-ressys/services/view-service/internal/domain"
	appCtx "github.com/baechuer/real-time-ressys/services/view-service/internal/pkg/context"
	"github.com/rs/zerolog"
)

// Logger provides structured audit logging for view-tracking business events
type Logger struct {
	log zerolog.Logger
}

// New creates a new audit logger
func New(log zerolog.Logger) *Logger {
	return &Logger{
		log: log.With().Bool("audit", true).Logger(),
	}
}

// ViewRecorded logs an admitted view
func (l *Logger) ViewRecorded(ctx context.Context, subjectID string, viewerID *string, sessionID string, totalViews int64) {
	ev := l.log.Info().
		Str("action", "view_recorded").
		Str("subject_id", subjectID).
		Str("session_id", sessionID).
		Int64("total_views", totalViews).
		Str("trace_id", appCtx.TraceID(ctx, ""))
	if viewerID != nil {
		ev = ev.Str("viewer_id", *viewerID)
	}
	ev.Msg("Profile view recorded")
}

// ViewRejected logs a rejection outcome. Rejections are frequent, so debug level.
func (l *Logger) ViewRejected(ctx context.Context, subjectID string, reason domain.Reason, originAddress string) {
	l.log.Debug().
		Str("action", "view_rejected").
		Str("subject_id", subjectID).
		Str("reason", string(reason)).
		Str("origin", originAddress).
		Str("trace_id", appCtx.TraceID(ctx, "")).
		Msg("Profile view rejected")
}

// DriftRepaired logs a counter overwritten from the event log
func (l *Logger) DriftRepaired(ctx context.Context, rep domain.RepairReport) {
	l.log.Warn().
		Str("action", "drift_repaired").
		Str("subject_id", rep.SubjectID).
		Int64("original_count", rep.OriginalCount).
		Int64("actual_count", rep.ActualCount).
		Str("trace_id", appCtx.TraceID(ctx, "")).
		Msg("View counter drift repaired")
}

// CountReset logs an administrative reset of the counter
func (l *Logger) CountReset(ctx context.Context, subjectID string) {
	l.log.Warn().
		Str("action", "count_reset").
		Str("subject_id", subjectID).
		Str("trace_id", appCtx.TraceID(ctx, "")).
		Msg("View counter reset; event log untouched until reconciled")
}

// OutboxMessageSent logs when an outbox message is successfully published
func (l *Logger) OutboxMessageSent(ctx context.Context, messageID, routingKey string) {
	l.log.Debug().
		Str("action", "outbox_sent").
		Str("message_id", messageID).
		Str("routing_key", routingKey).
		Msg("Outbox message sent")
}

// OutboxMessageDead logs when an outbox message is moved to dead status
func (l *Logger) OutboxMessageDead(ctx context.Context, messageID, routingKey string, retries int) {
	l.log.Error().
		Str("action", "outbox_dead").
		Str("message_id", messageID).
		Str("routing_key", routingKey).
		Int("retries", retries).
		Msg("Outbox message moved to dead status")
}
