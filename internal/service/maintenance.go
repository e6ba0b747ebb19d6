package service

import (
	"context"
	"time"

	"github.com/baechuer/real-time-ressys/services/view-service/internal/pkg/logger"
)

// SweepResult summarizes one reconciliation sweep.
type SweepResult struct {
	Checked  int
	Repaired int
	Failed   int
}

// SweepOnce runs VerifyAndRepair on every subject viewed at or after since, listing
// them in pages of limit (limit <= 0 lists in one go). Per-subject failures are logged
// and counted; only a listing error is returned, with the work done so far.
func (s *ViewService) SweepOnce(ctx context.Context, since time.Time, limit int) (SweepResult, error) {
	var res SweepResult
	log := logger.Logger.With().Str("component", "reconcile_sweep").Logger()

	afterID := ""
	for {
		listCtx, cancel := s.withTimeout(ctx)
		ids, err := s.store.ListRecentlyViewedSubjects(listCtx, since, afterID, limit)
		cancel()
		if err != nil {
			return res, err
		}

		for _, id := range ids {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Checked++
			rep, err := s.VerifyAndRepair(ctx, id)
			if err != nil {
				res.Failed++
				log.Warn().Err(err).Str("subject_id", id).Msg("verify failed")
				continue
			}
			if rep.Repaired {
				res.Repaired++
			}
		}

		if limit <= 0 || len(ids) < limit {
			return res, nil
		}
		afterID = ids[len(ids)-1]
	}
}

// StartReconcileSweep periodically reconciles every subject viewed since the previous
// completed sweep. The first sweep looks back one interval.
func (s *ViewService) StartReconcileSweep(ctx context.Context, interval time.Duration, batch int) {
	if interval <= 0 {
		return
	}
	go func() {
		log := logger.Logger.With().Str("component", "reconcile_sweep").Logger()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		since := s.clock.Now().Add(-interval)
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("stopped")
				return
			case <-ticker.C:
				started := s.clock.Now()
				res, err := s.SweepOnce(ctx, since, batch)
				if err != nil {
					// window stays open; the next tick retries it from the start
					log.Warn().Err(err).Int("checked", res.Checked).Msg("sweep failed")
					continue
				}
				since = started
				if res.Repaired > 0 || res.Failed > 0 {
					log.Info().
						Int("checked", res.Checked).
						Int("repaired", res.Repaired).
						Int("failed", res.Failed).
						Msg("sweep finished")
				}
			}
		}
	}()
}

// CleanupRateLimits deletes rate-limit records whose window started more than ttl ago.
// ttl must exceed the admission window or live windows would be dropped early.
func (s *ViewService) CleanupRateLimits(ctx context.Context, ttl time.Duration) (int64, error) {
	if ttl < s.opts.RateLimitWindow {
		ttl = s.opts.RateLimitWindow
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.store.DeleteExpiredRateLimits(ctx, s.clock.Now().Add(-ttl))
}

func (s *ViewService) StartRateLimitCleanup(ctx context.Context, interval, ttl time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		log := logger.Logger.With().Str("component", "rate_limit_cleanup").Logger()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("stopped")
				return
			case <-ticker.C:
				n, err := s.CleanupRateLimits(ctx, ttl)
				if err != nil {
					log.Warn().Err(err).Msg("rate limit cleanup failed")
					continue
				}
				if n > 0 {
					log.Info().Int64("deleted", n).Msg("rate limit records cleaned up")
				}
			}
		}
	}()
}
