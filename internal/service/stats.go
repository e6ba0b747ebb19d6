package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/baechuer/real-time-ressys/services/view-service/internal/domain"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/metrics"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/pkg/logger"
)

const (
	weekSpan  = 7 * 24 * time.Hour
	monthSpan = 30 * 24 * time.Hour
)

// GetStats is best-effort: if any sub-query fails the result is zeroed and the error
// is only logged. The one error returned is ErrInvalidInput for an empty subject.
func (s *ViewService) GetStats(ctx context.Context, subjectID string) (domain.ProfileViewStats, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return domain.ProfileViewStats{}, fmt.Errorf("%w: subject id is required", domain.ErrInvalidInput)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	stats, err := s.collectStats(ctx, subjectID, s.clock.Now())
	if err != nil {
		metrics.RecordError("stats")
		logger.WithCtx(ctx).Warn().Err(err).Str("subject_id", subjectID).Msg("stats query failed; returning zeroed stats")
		return domain.ProfileViewStats{}, nil
	}
	return stats, nil
}

func (s *ViewService) collectStats(ctx context.Context, subjectID string, now time.Time) (domain.ProfileViewStats, error) {
	var out domain.ProfileViewStats

	p, err := s.store.GetSubject(ctx, subjectID)
	if err != nil {
		return out, fmt.Errorf("subject: %w", err)
	}
	out.TotalViews = p.TotalViews
	out.LastViewAt = p.LastViewedAt

	today, err := s.store.GetDaily(ctx, subjectID, now)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		return out, fmt.Errorf("today: %w", err)
	default:
		out.TodayViews = today.ViewCount
	}

	if out.WeekViews, err = s.store.SumDailySince(ctx, subjectID, domain.DayStart(now.Add(-weekSpan))); err != nil {
		return out, fmt.Errorf("week: %w", err)
	}
	if out.MonthViews, err = s.store.SumDailySince(ctx, subjectID, domain.DayStart(now.Add(-monthSpan))); err != nil {
		return out, fmt.Errorf("month: %w", err)
	}
	if out.UniqueViews, err = s.uniqueViews(ctx, subjectID); err != nil {
		return out, fmt.Errorf("unique: %w", err)
	}
	return out, nil
}

// uniqueViews is the one read that scans the event log, so its result is cached.
// Cache failures degrade to a direct count.
func (s *ViewService) uniqueViews(ctx context.Context, subjectID string) (int64, error) {
	if s.cache != nil {
		n, err := s.cache.Get(ctx, subjectID)
		if err == nil {
			metrics.RecordUniqueCacheHit()
			return n, nil
		}
		metrics.RecordUniqueCacheMiss()
		if !errors.Is(err, domain.ErrCacheMiss) {
			logger.WithCtx(ctx).Debug().Err(err).Str("subject_id", subjectID).Msg("unique cache read failed")
		}
	}

	n, err := s.store.CountUniqueViewers(ctx, subjectID)
	if err != nil {
		return 0, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, subjectID, n, s.opts.UniqueCacheTTL); err != nil {
			logger.WithCtx(ctx).Debug().Err(err).Str("subject_id", subjectID).Msg("unique cache write failed")
		}
	}
	return n, nil
}

func (s *ViewService) invalidateUnique(ctx context.Context, subjectID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, subjectID); err != nil {
		logger.WithCtx(ctx).Debug().Err(err).Str("subject_id", subjectID).Msg("unique cache invalidate failed")
	}
}
