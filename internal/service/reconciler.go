package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/baechuer/real-time-ressys/services/view-service/internal/contracts/event"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/domain"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/metrics"
)

// VerifyAndRepair compares the subject's running counter with the number of events in
// the log and overwrites the counter when they differ. The event log is the source of
// truth. Store errors are returned unchanged.
func (s *ViewService) VerifyAndRepair(ctx context.Context, subjectID string) (domain.RepairReport, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return domain.RepairReport{}, fmt.Errorf("%w: subject id is required", domain.ErrInvalidInput)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := s.clock.Now()
	var rep domain.RepairReport
	err := s.store.WithinTx(ctx, func(tx domain.ViewTx) error {
		p, err := tx.LockSubject(ctx, subjectID)
		if err != nil {
			return err
		}
		actual, err := tx.CountEvents(ctx, subjectID)
		if err != nil {
			return err
		}
		rep = domain.RepairReport{SubjectID: subjectID, OriginalCount: p.TotalViews, ActualCount: actual}
		if actual == p.TotalViews {
			return nil
		}
		if err := tx.SetTotalViews(ctx, subjectID, actual); err != nil {
			return err
		}
		if s.opts.PublishEvents {
			msg, err := newOutboxMessage(ctx, event.RoutingProfileViewsRepaired, now, event.ProfileViewsRepairedPayload{
				SubjectID:     subjectID,
				OriginalCount: p.TotalViews,
				ActualCount:   actual,
			})
			if err != nil {
				return err
			}
			if err := tx.EnqueueOutbox(ctx, msg); err != nil {
				return err
			}
		}
		rep.Repaired = true
		return nil
	})
	if err != nil {
		metrics.RecordReconcileFailure()
		return domain.RepairReport{}, err
	}

	s.invalidateUnique(ctx, subjectID)
	metrics.RecordReconcile(rep.Repaired, rep.ActualCount-rep.OriginalCount)
	if rep.Repaired {
		s.audit.DriftRepaired(ctx, rep)
	}
	return rep, nil
}

// ResetCount zeroes totalViews and lastViewedAt and leaves the event log alone, so the
// counter disagrees with the log until the next VerifyAndRepair. Callers gate it.
func (s *ViewService) ResetCount(ctx context.Context, subjectID string) error {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return fmt.Errorf("%w: subject id is required", domain.ErrInvalidInput)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.store.WithinTx(ctx, func(tx domain.ViewTx) error {
		if _, err := tx.LockSubject(ctx, subjectID); err != nil {
			return err
		}
		return tx.ResetSubject(ctx, subjectID)
	})
	if err != nil {
		return err
	}

	s.invalidateUnique(ctx, subjectID)
	s.audit.CountReset(ctx, subjectID)
	return nil
}
