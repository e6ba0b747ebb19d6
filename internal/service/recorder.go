package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/baechuer/real-time-ressys/services/view-service/internal/contracts/event"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/domain"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/metrics"
	appCtx "github.com/baechuer/real-time-ressys/services/view-service/internal/pkg/context"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/pkg/logger"
	"github.com/google/uuid"
)

// RecordView admits or rejects one profile view.
//
// Checks run in order and short-circuit: empty subject (ErrInvalidInput, no I/O),
// self view, rate limit, session dedup. Rejections come back as a Reason with a nil
// error. An admitted view commits the counter increment, the event, the daily
// aggregate and the rate-limit bookkeeping in one transaction, or none of them.
func (s *ViewService) RecordView(ctx context.Context, in domain.RecordViewInput) (domain.RecordResult, error) {
	subjectID := strings.TrimSpace(in.SubjectID)
	if subjectID == "" {
		return domain.RecordResult{}, fmt.Errorf("%w: subject id is required", domain.ErrInvalidInput)
	}

	started := time.Now()
	defer func() { metrics.ObserveRecordDuration(time.Since(started)) }()

	origin := strings.TrimSpace(in.OriginAddress)

	if in.ViewerID != nil && strings.TrimSpace(*in.ViewerID) == subjectID {
		return s.reject(ctx, subjectID, origin, domain.ReasonSelfView), nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := s.clock.Now()
	log := logger.WithCtx(ctx)

	adm := s.limiter.Admit(ctx, subjectID, origin, now)
	if adm.Err != nil {
		metrics.RecordAdvisoryFallback("rate_limit")
		log.Warn().Err(adm.Err).Str("subject_id", subjectID).Msg("rate limit check failed; allowing view")
	}
	if !adm.Allowed {
		return s.reject(ctx, subjectID, origin, domain.ReasonRateLimited), nil
	}

	sessionID := s.sessions.Resolve(origin, in.ClientSignature, in.SessionID, now)

	chk := s.dedup.IsDuplicate(ctx, subjectID, sessionID, now)
	if chk.Err != nil {
		metrics.RecordAdvisoryFallback("dedup")
		log.Warn().Err(chk.Err).Str("subject_id", subjectID).Msg("duplicate check failed; recording view")
	}
	if chk.Duplicate {
		return s.reject(ctx, subjectID, origin, domain.ReasonDuplicate), nil
	}

	ev := domain.ViewEvent{
		SubjectID:       subjectID,
		ViewerID:        normalizeViewer(in.ViewerID),
		Timestamp:       now,
		OriginAddress:   origin,
		ClientSignature: in.ClientSignature,
		SessionID:       sessionID,
	}

	var total int64
	err := s.store.WithinTx(ctx, func(tx domain.ViewTx) error {
		if _, err := tx.LockSubject(ctx, subjectID); err != nil {
			return err
		}
		n, err := tx.IncrementSubject(ctx, subjectID, now)
		if err != nil {
			return err
		}
		if err := tx.InsertEvent(ctx, &ev); err != nil {
			return err
		}
		if err := tx.UpsertDaily(ctx, subjectID, now, now); err != nil {
			return err
		}
		if err := tx.UpsertRateLimit(ctx, subjectID, origin, now, s.limiter.Window()); err != nil {
			return err
		}
		if s.opts.PublishEvents {
			msg, err := newOutboxMessage(ctx, event.RoutingProfileViewed, now, event.ProfileViewedPayload{
				SubjectID:  subjectID,
				TotalViews: n,
				ViewedAt:   now,
			})
			if err != nil {
				return err
			}
			if err := tx.EnqueueOutbox(ctx, msg); err != nil {
				return err
			}
		}
		total = n
		return nil
	})
	if errors.Is(err, domain.ErrSubjectNotFound) {
		return s.reject(ctx, subjectID, origin, domain.ReasonSubjectNotFound), nil
	}
	if err != nil {
		kind, wrapped := classifyTxError(err)
		metrics.RecordError(kind)
		log.Warn().Err(err).Str("subject_id", subjectID).Str("kind", kind).Msg("record view failed")
		return domain.RecordResult{}, wrapped
	}

	metrics.RecordOutcome(string(domain.ReasonRecorded))
	s.audit.ViewRecorded(ctx, subjectID, ev.ViewerID, sessionID, total)

	return domain.RecordResult{Recorded: true, Reason: domain.ReasonRecorded, TotalViews: total}, nil
}

func (s *ViewService) reject(ctx context.Context, subjectID, origin string, reason domain.Reason) domain.RecordResult {
	metrics.RecordOutcome(string(reason))
	s.audit.ViewRejected(ctx, subjectID, reason, origin)
	return domain.RecordResult{Recorded: false, Reason: reason}
}

// classifyTxError maps a failed recording transaction to a metric label and the error
// returned to the caller. Timeouts and exhausted conflict retries are transient.
func classifyTxError(err error) (string, error) {
	switch {
	case errors.Is(err, domain.ErrTxConflict):
		return "tx_conflict", fmt.Errorf("%w: %w", domain.ErrTransient, err)
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout", fmt.Errorf("%w: %w", domain.ErrTransient, err)
	case errors.Is(err, context.Canceled):
		return "canceled", fmt.Errorf("%w: %w", domain.ErrTransient, err)
	default:
		return "store", fmt.Errorf("record view: %w", err)
	}
}

func normalizeViewer(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}

func newOutboxMessage[T any](ctx context.Context, routingKey string, at time.Time, payload T) (domain.OutboxMessage, error) {
	messageID := uuid.NewString()
	// background repairs have no request; the message traces to itself
	traceID := appCtx.TraceID(ctx, messageID)
	env := event.DomainEventEnvelope[T]{
		Version:    event.Version,
		Producer:   event.Producer,
		TraceID:    traceID,
		MessageID:  messageID,
		OccurredAt: at.UTC(),
		Payload:    payload,
	}
	b, err := json.Marshal(env)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("marshal %s: %w", routingKey, err)
	}
	return domain.OutboxMessage{MessageID: messageID, TraceID: traceID, RoutingKey: routingKey, Payload: b}, nil
}
