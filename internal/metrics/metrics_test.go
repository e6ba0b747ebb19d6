package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordOutcome_IncrementsByReason(t *testing.T) {
	before := testutil.ToFloat64(viewOutcomesTotal.WithLabelValues("rate_limited"))
	RecordOutcome("rate_limited")
	RecordOutcome("rate_limited")
	assert.Equal(t, before+2, testutil.ToFloat64(viewOutcomesTotal.WithLabelValues("rate_limited")))
}

func TestRecordReconcile_TracksAbsoluteDrift(t *testing.T) {
	clean := testutil.ToFloat64(reconcileRunsTotal.WithLabelValues("clean"))
	drift := testutil.ToFloat64(driftAbsoluteTotal)

	RecordReconcile(false, 0)
	RecordReconcile(true, 3)
	RecordReconcile(true, -2)

	assert.Equal(t, clean+1, testutil.ToFloat64(reconcileRunsTotal.WithLabelValues("clean")))
	assert.Equal(t, drift+5, testutil.ToFloat64(driftAbsoluteTotal))
}

func TestMiscRecorders_DoNotPanic(t *testing.T) {
	RecordError("transient")
	ObserveRecordDuration(15 * time.Millisecond)
	RecordAdvisoryFallback("rate_limit")
	RecordReconcileFailure()
	RecordUniqueCacheHit()
	RecordUniqueCacheMiss()
	RecordOutboxPublished("sent")
	assert.NotNil(t, MetricsHandler())
}
