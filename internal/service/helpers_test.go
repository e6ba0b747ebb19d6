package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/baechuer/real-time-ressys/services/view-service/internal/domain"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/infrastructure/memory"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/pkg/clock"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/service"
	"github.com/stretchr/testify/require"
)

var (
	t0      = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	errBoom = errors.New("boom")
)

type fixture struct {
	store *memory.Store
	clock *clock.Fake
	svc   *service.ViewService
}

func newFixture(t *testing.T, opts service.Options, extra ...service.Option) *fixture {
	t.Helper()
	st := memory.NewStore()
	clk := clock.NewFake(t0)
	all := append([]service.Option{service.WithClock(clk)}, extra...)
	return &fixture{store: st, clock: clk, svc: service.NewViewService(st, opts, all...)}
}

func (f *fixture) subject(id string) {
	f.store.PutSubject(domain.SubjectProfile{ID: id})
}

func (f *fixture) total(t *testing.T, id string) int64 {
	t.Helper()
	p, err := f.store.GetSubject(context.Background(), id)
	require.NoError(t, err)
	return p.TotalViews
}

func ptr(s string) *string { return &s }

func viewFrom(subject, origin, sessionID string) domain.RecordViewInput {
	return domain.RecordViewInput{
		SubjectID:       subject,
		OriginAddress:   origin,
		ClientSignature: "Mozilla/5.0",
		SessionID:       ptr(sessionID),
	}
}

// mapCache is a UniqueViewCache that counts calls.
type mapCache struct {
	mu          sync.Mutex
	vals        map[string]int64
	sets        int
	invalidated int
	getErr      error
}

func newMapCache() *mapCache { return &mapCache{vals: map[string]int64{}} }

func (c *mapCache) Get(_ context.Context, id string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return 0, c.getErr
	}
	n, ok := c.vals[id]
	if !ok {
		return 0, domain.ErrCacheMiss
	}
	return n, nil
}

func (c *mapCache) Set(_ context.Context, id string, n int64, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals[id] = n
	c.sets++
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.vals, id)
	c.invalidated++
	return nil
}
