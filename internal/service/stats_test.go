package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/baechuer/real-time-ressys/services/view-service/internal/domain"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/infrastructure/memory"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const day = 24 * time.Hour

// seedHistory records six views spread over the last 40 days, ending at t0.
func seedHistory(t *testing.T, f *fixture) {
	t.Helper()
	views := []struct {
		ago     time.Duration
		viewer  *string
		session string
	}{
		{40 * day, ptr("fan1"), "s1"},
		{20 * day, nil, "s2"},
		{20 * day, nil, "s3"},
		{3 * day, ptr("fan1"), "s4"},
		{0, nil, "s5"},
		{0, ptr("fan2"), "s6"},
	}
	for i, v := range views {
		f.clock.Set(t0.Add(-v.ago))
		in := viewFrom("sub", "10.1.0."+string(rune('a'+i)), v.session)
		in.ViewerID = v.viewer
		res, err := f.svc.RecordView(context.Background(), in)
		require.NoError(t, err)
		require.True(t, res.Recorded, "view %d: %s", i, res.Reason)
	}
	f.clock.Set(t0)
}

func TestGetStats_Rollups(t *testing.T) {
	f := newFixture(t, service.Options{})
	f.subject("sub")
	seedHistory(t, f)

	st, err := f.svc.GetStats(context.Background(), "sub")
	require.NoError(t, err)

	assert.Equal(t, int64(6), st.TotalViews)
	assert.Equal(t, int64(2), st.TodayViews)
	assert.Equal(t, int64(3), st.WeekViews)
	assert.Equal(t, int64(5), st.MonthViews)
	assert.Equal(t, int64(5), st.UniqueViews)
	require.NotNil(t, st.LastViewAt)
	assert.True(t, st.LastViewAt.Equal(t0))
}

func TestGetStats_NoViewsToday(t *testing.T) {
	f := newFixture(t, service.Options{})
	f.subject("sub")
	seedHistory(t, f)
	f.clock.Advance(2 * day)

	st, err := f.svc.GetStats(context.Background(), "sub")
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.TodayViews)
	assert.Equal(t, int64(3), st.WeekViews)
}

func TestGetStats_ZeroedOnFailure(t *testing.T) {
	reads := []memory.Read{
		memory.ReadGetSubject,
		memory.ReadGetDaily,
		memory.ReadSumDaily,
		memory.ReadCountUnique,
	}
	for _, r := range reads {
		t.Run(string(r), func(t *testing.T) {
			f := newFixture(t, service.Options{})
			f.subject("sub")
			seedHistory(t, f)

			f.store.FailReads(r, errBoom)
			st, err := f.svc.GetStats(context.Background(), "sub")
			require.NoError(t, err)
			assert.Equal(t, domain.ProfileViewStats{}, st)
		})
	}
}

func TestGetStats_UnknownSubjectIsZeroed(t *testing.T) {
	f := newFixture(t, service.Options{})
	st, err := f.svc.GetStats(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, domain.ProfileViewStats{}, st)
}

func TestGetStats_EmptySubject(t *testing.T) {
	f := newFixture(t, service.Options{})
	_, err := f.svc.GetStats(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestGetStats_UniqueViewsAreCached(t *testing.T) {
	cache := newMapCache()
	f := newFixture(t, service.Options{}, service.WithUniqueCache(cache))
	f.subject("sub")
	seedHistory(t, f)
	ctx := context.Background()

	st, err := f.svc.GetStats(ctx, "sub")
	require.NoError(t, err)
	assert.Equal(t, int64(5), st.UniqueViews)
	assert.Equal(t, 1, cache.sets)

	// bypass the recorder: the cached value stays until invalidated
	f.store.AppendEvents(domain.ViewEvent{SubjectID: "sub", SessionID: "late", Timestamp: t0})
	f.store.FailReads(memory.ReadCountUnique, errBoom)
	st, err = f.svc.GetStats(ctx, "sub")
	require.NoError(t, err)
	assert.Equal(t, int64(5), st.UniqueViews)
	f.store.FailReads(memory.ReadCountUnique, nil)

	_, err = f.svc.VerifyAndRepair(ctx, "sub")
	require.NoError(t, err)
	assert.Equal(t, 1, cache.invalidated)

	st, err = f.svc.GetStats(ctx, "sub")
	require.NoError(t, err)
	assert.Equal(t, int64(6), st.UniqueViews)
}

func TestGetStats_CacheErrorFallsBackToCount(t *testing.T) {
	cache := newMapCache()
	cache.getErr = errBoom
	f := newFixture(t, service.Options{}, service.WithUniqueCache(cache))
	f.subject("sub")
	seedHistory(t, f)

	st, err := f.svc.GetStats(context.Background(), "sub")
	require.NoError(t, err)
	assert.Equal(t, int64(5), st.UniqueViews)
}
