package service

import (
	"context"
	"errors"
	"time"

	"github.com/baechuer/real-time-ressys/services/view-service/internal/domain"
)

// Admission is the rate limiter's answer. Err is set when the lookup failed; Allowed is
// then always true (fail open).
type Admission struct {
	Allowed bool
	Err     error
}

// RateLimiter admits at most Max views per (subject, origin) within a fixed Window.
// It only reads. The counter moves inside the recording transaction, so two racing
// requests may both be admitted for the last slot.
type RateLimiter struct {
	store  domain.ViewStore
	window time.Duration
	max    int
	guard  *AdvisoryGuard
}

func NewRateLimiter(store domain.ViewStore, window time.Duration, max int, guard *AdvisoryGuard) *RateLimiter {
	return &RateLimiter{store: store, window: window, max: max, guard: guard}
}

func (l *RateLimiter) Window() time.Duration { return l.window }

func (l *RateLimiter) Admit(ctx context.Context, subjectID, originAddress string, now time.Time) Admission {
	allowed, err := l.guard.Do(func() (bool, error) {
		rec, err := l.store.GetRateLimit(ctx, subjectID, originAddress)
		if errors.Is(err, domain.ErrNotFound) {
			return true, nil
		}
		if err != nil {
			return true, err
		}
		if now.Sub(rec.WindowStart) > l.window {
			return true, nil
		}
		return rec.ViewCount < l.max, nil
	})
	if err != nil {
		return Admission{Allowed: true, Err: err}
	}
	return Admission{Allowed: allowed}
}
