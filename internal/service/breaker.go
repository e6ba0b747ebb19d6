package service

import (
	"context"
	"errors"
	"time"

	"github.com/baechuer/real-time-ressys/services/view-service/internal/pkg/logger"
	gobreaker "github.com/sony/gobreaker/v2"
)

// AdvisoryGuard wraps the read behind an advisory check in a circuit breaker.
// While open, calls fail immediately and the check resolves to its permissive default
// without touching the store.
type AdvisoryGuard struct {
	cb *gobreaker.CircuitBreaker[bool]
}

func NewAdvisoryGuard(name string, failures uint32, openTimeout time.Duration) *AdvisoryGuard {
	if failures == 0 {
		failures = 5
	}
	if openTimeout <= 0 {
		openTimeout = 10 * time.Second
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// a caller hanging up says nothing about the store
		IsExcluded: func(err error) bool {
			return errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Logger.Warn().
				Str("component", "advisory_breaker").
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("breaker state changed")
		},
	}
	return &AdvisoryGuard{cb: gobreaker.NewCircuitBreaker[bool](settings)}
}

// Do runs fn through the breaker. A nil guard runs fn directly.
func (g *AdvisoryGuard) Do(fn func() (bool, error)) (bool, error) {
	if g == nil || g.cb == nil {
		return fn()
	}
	return g.cb.Execute(fn)
}

func (g *AdvisoryGuard) State() gobreaker.State {
	if g == nil || g.cb == nil {
		return gobreaker.StateClosed
	}
	return g.cb.State()
}
