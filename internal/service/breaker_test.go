package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/baechuer/real-time-ressys/services/view-service/internal/domain"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/infrastructure/memory"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/service"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvisoryGuard_NilRunsDirectly(t *testing.T) {
	var g *service.AdvisoryGuard
	ok, err := g.Do(func() (bool, error) { return true, nil })
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, gobreaker.StateClosed, g.State())
}

func TestAdvisoryGuard_OpensAfterConsecutiveFailures(t *testing.T) {
	g := service.NewAdvisoryGuard("test", 2, time.Minute)
	fail := func() (bool, error) { return false, errBoom }

	_, _ = g.Do(fail)
	assert.Equal(t, gobreaker.StateClosed, g.State())
	_, _ = g.Do(fail)
	assert.Equal(t, gobreaker.StateOpen, g.State())

	called := false
	_, err := g.Do(func() (bool, error) { called = true; return true, nil })
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.False(t, called)
}

func TestRateLimiter_OpenBreakerAllowsWithoutReading(t *testing.T) {
	st := memory.NewStore()
	guard := service.NewAdvisoryGuard("rate_limit", 1, time.Minute)
	rl := service.NewRateLimiter(st, time.Minute, 1, guard)
	ctx := context.Background()

	st.FailReads(memory.ReadGetRateLimit, errBoom)
	adm := rl.Admit(ctx, "sub", "1.1.1.1", t0)
	assert.True(t, adm.Allowed)
	assert.ErrorIs(t, adm.Err, errBoom)

	// the store recovers, but the open breaker keeps answering with the default
	st.FailReads(memory.ReadGetRateLimit, nil)
	adm = rl.Admit(ctx, "sub", "1.1.1.1", t0)
	assert.True(t, adm.Allowed)
	assert.ErrorIs(t, adm.Err, gobreaker.ErrOpenState)
}

func TestRateLimiter_CanceledCallersDoNotTripBreaker(t *testing.T) {
	st := memory.NewStore()
	guard := service.NewAdvisoryGuard("rate_limit", 5, time.Minute)
	rl := service.NewRateLimiter(st, time.Minute, 1, guard)
	ctx := context.Background()

	st.PutSubject(domain.SubjectProfile{ID: "sub"})
	require.NoError(t, st.WithinTx(ctx, func(tx domain.ViewTx) error {
		return tx.UpsertRateLimit(ctx, "sub", "1.1.1.1", t0, time.Minute)
	}))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	st.FailReads(memory.ReadGetRateLimit, fmt.Errorf("query: %w", context.Canceled))
	for i := 0; i < 10; i++ {
		adm := rl.Admit(canceled, "sub", "9.9.9.9", t0)
		assert.ErrorIs(t, adm.Err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, guard.State())

	st.FailReads(memory.ReadGetRateLimit, nil)
	adm := rl.Admit(ctx, "sub", "1.1.1.1", t0)
	assert.NoError(t, adm.Err)
	assert.False(t, adm.Allowed)
}

func TestRateLimiter_MissingRecordDoesNotTripBreaker(t *testing.T) {
	st := memory.NewStore()
	guard := service.NewAdvisoryGuard("rate_limit", 1, time.Minute)
	rl := service.NewRateLimiter(st, time.Minute, 3, guard)

	for i := 0; i < 3; i++ {
		adm := rl.Admit(context.Background(), "sub", "1.1.1.1", t0)
		assert.True(t, adm.Allowed)
		assert.NoError(t, adm.Err)
	}
	assert.Equal(t, gobreaker.StateClosed, guard.State())
}

func TestRateLimiter_WindowBoundaries(t *testing.T) {
	f := newFixture(t, service.Options{})
	f.subject("sub")
	rl := service.NewRateLimiter(f.store, time.Minute, 2, nil)
	ctx := context.Background()

	require.NoError(t, f.store.WithinTx(ctx, func(tx domain.ViewTx) error {
		if err := tx.UpsertRateLimit(ctx, "sub", "o", t0, time.Minute); err != nil {
			return err
		}
		return tx.UpsertRateLimit(ctx, "sub", "o", t0, time.Minute)
	}))

	assert.False(t, rl.Admit(ctx, "sub", "o", t0.Add(30*time.Second)).Allowed)
	// exactly W elapsed is still inside the window
	assert.False(t, rl.Admit(ctx, "sub", "o", t0.Add(time.Minute)).Allowed)
	assert.True(t, rl.Admit(ctx, "sub", "o", t0.Add(time.Minute+time.Nanosecond)).Allowed)
}

func TestDuplicateSuppressor_OpenBreakerRecords(t *testing.T) {
	st := memory.NewStore()
	guard := service.NewAdvisoryGuard("dedup", 1, time.Minute)
	d := service.NewDuplicateSuppressor(st, 30*time.Minute, guard)
	st.AppendEvents(domain.ViewEvent{SubjectID: "sub", SessionID: "s", Timestamp: t0})

	st.FailReads(memory.ReadSessionView, errBoom)
	chk := d.IsDuplicate(context.Background(), "sub", "s", t0.Add(time.Minute))
	assert.False(t, chk.Duplicate)
	assert.Error(t, chk.Err)

	st.FailReads(memory.ReadSessionView, nil)
	chk = d.IsDuplicate(context.Background(), "sub", "s", t0.Add(time.Minute))
	assert.False(t, chk.Duplicate)
	assert.ErrorIs(t, chk.Err, gobreaker.ErrOpenState)
}

func TestDuplicateSuppressor_Window(t *testing.T) {
	st := memory.NewStore()
	d := service.NewDuplicateSuppressor(st, 30*time.Minute, nil)
	st.AppendEvents(domain.ViewEvent{SubjectID: "sub", SessionID: "s", Timestamp: t0})
	ctx := context.Background()

	assert.True(t, d.IsDuplicate(ctx, "sub", "s", t0.Add(29*time.Minute)).Duplicate)
	assert.False(t, d.IsDuplicate(ctx, "sub", "s", t0.Add(30*time.Minute)).Duplicate)
	assert.False(t, d.IsDuplicate(ctx, "sub", "other", t0).Duplicate)
	assert.False(t, d.IsDuplicate(ctx, "other", "s", t0).Duplicate)
}
