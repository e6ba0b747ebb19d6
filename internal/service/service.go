package service

import (
	"context"
	"time"

	"github.com/baechuer/real-time-ressys/services/view-service/internal/audit"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/domain"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/pkg/clock"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/session"
	"github.com/rs/zerolog"
)

const (
	DefaultRateLimitWindow    = 60 * time.Second
	DefaultMaxViewsPerWindow  = 3
	DefaultSessionDedupWindow = 30 * time.Minute
	DefaultStoreTimeout       = 2 * time.Second
	DefaultUniqueCacheTTL     = 5 * time.Minute
)

type Options struct {
	RateLimitWindow    time.Duration
	MaxViewsPerWindow  int
	SessionDedupWindow time.Duration

	// StoreTimeout bounds every public operation unless the caller's context is shorter.
	StoreTimeout time.Duration

	UniqueCacheTTL time.Duration

	// PublishEvents enqueues outbox rows inside the recording and repair transactions.
	PublishEvents bool
}

func DefaultOptions() Options {
	return Options{
		RateLimitWindow:    DefaultRateLimitWindow,
		MaxViewsPerWindow:  DefaultMaxViewsPerWindow,
		SessionDedupWindow: DefaultSessionDedupWindow,
		StoreTimeout:       DefaultStoreTimeout,
		UniqueCacheTTL:     DefaultUniqueCacheTTL,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.RateLimitWindow <= 0 {
		o.RateLimitWindow = d.RateLimitWindow
	}
	if o.MaxViewsPerWindow <= 0 {
		o.MaxViewsPerWindow = d.MaxViewsPerWindow
	}
	if o.SessionDedupWindow <= 0 {
		o.SessionDedupWindow = d.SessionDedupWindow
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = d.StoreTimeout
	}
	if o.UniqueCacheTTL <= 0 {
		o.UniqueCacheTTL = d.UniqueCacheTTL
	}
	return o
}

type Option func(*ViewService)

func WithClock(c clock.Clock) Option {
	return func(s *ViewService) { s.clock = c }
}

func WithSessionResolver(r session.Resolver) Option {
	return func(s *ViewService) { s.sessions = r }
}

func WithUniqueCache(c domain.UniqueViewCache) Option {
	return func(s *ViewService) { s.cache = c }
}

func WithAudit(a *audit.Logger) Option {
	return func(s *ViewService) { s.audit = a }
}

// WithAdvisoryGuards puts the rate-limit and dedup reads behind circuit breakers.
func WithAdvisoryGuards(rateLimit, dedup *AdvisoryGuard) Option {
	return func(s *ViewService) {
		s.rlGuard = rateLimit
		s.dedupGuard = dedup
	}
}

// ViewService records profile views and serves their stats and reconciliation.
// All operations are safe for concurrent use.
type ViewService struct {
	store    domain.ViewStore
	cache    domain.UniqueViewCache
	clock    clock.Clock
	sessions session.Resolver
	audit    *audit.Logger
	opts     Options

	rlGuard    *AdvisoryGuard
	dedupGuard *AdvisoryGuard

	limiter *RateLimiter
	dedup   *DuplicateSuppressor
}

func NewViewService(store domain.ViewStore, opts Options, options ...Option) *ViewService {
	s := &ViewService{
		store: store,
		opts:  opts.withDefaults(),
	}
	for _, o := range options {
		o(s)
	}
	if s.clock == nil {
		s.clock = clock.System{}
	}
	if s.sessions == nil {
		s.sessions = session.NewFingerprintResolver(s.opts.SessionDedupWindow)
	}
	if s.audit == nil {
		s.audit = audit.New(zerolog.Nop())
	}
	s.limiter = NewRateLimiter(store, s.opts.RateLimitWindow, s.opts.MaxViewsPerWindow, s.rlGuard)
	s.dedup = NewDuplicateSuppressor(store, s.opts.SessionDedupWindow, s.dedupGuard)
	return s
}

func (s *ViewService) Options() Options { return s.opts }

func (s *ViewService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.StoreTimeout)
}
