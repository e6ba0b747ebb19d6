package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Recording outcomes, labeled by reason (recorded, self_view, rate_limited, ...)
	viewOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "view_outcomes_total",
			Help: "Total number of RecordView calls by outcome",
		},
		[]string{"reason"},
	)

	viewErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "view_errors_total",
			Help: "Total number of RecordView calls that failed with an error",
		},
		[]string{"kind"},
	)

	recordDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "view_record_duration_seconds",
			Help:    "RecordView duration in seconds, admission checks included",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
	)

	// Advisory checks resolved to their permissive default
	advisoryFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "view_advisory_fallbacks_total",
			Help: "Total number of rate-limit/dedup checks that failed open",
		},
		[]string{"check"},
	)

	// Reconciliation
	reconcileRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "view_reconcile_runs_total",
			Help: "Total number of reconciliation runs by result",
		},
		[]string{"result"},
	)

	driftAbsoluteTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "view_drift_absolute_total",
			Help: "Sum of |believed - actual| over all repaired subjects",
		},
	)

	// Unique-view cache
	uniqueCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "view_unique_cache_total",
			Help: "Unique-view cache lookups by result",
		},
		[]string{"result"},
	)

	// Outbox publishing
	outboxPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "view_outbox_messages_total",
			Help: "Outbox messages by terminal publish status",
		},
		[]string{"status"},
	)
)

func RecordOutcome(reason string) {
	viewOutcomesTotal.WithLabelValues(reason).Inc()
}

func RecordError(kind string) {
	viewErrorsTotal.WithLabelValues(kind).Inc()
}

func ObserveRecordDuration(d time.Duration) {
	recordDuration.Observe(d.Seconds())
}

func RecordAdvisoryFallback(check string) {
	advisoryFallbacksTotal.WithLabelValues(check).Inc()
}

// RecordReconcile counts a completed run; delta is the signed counter correction.
func RecordReconcile(repaired bool, delta int64) {
	if !repaired {
		reconcileRunsTotal.WithLabelValues("clean").Inc()
		return
	}
	reconcileRunsTotal.WithLabelValues("repaired").Inc()
	if delta < 0 {
		delta = -delta
	}
	driftAbsoluteTotal.Add(float64(delta))
}

func RecordReconcileFailure() {
	reconcileRunsTotal.WithLabelValues("failed").Inc()
}

func RecordUniqueCacheHit() {
	uniqueCacheTotal.WithLabelValues("hit").Inc()
}

func RecordUniqueCacheMiss() {
	uniqueCacheTotal.WithLabelValues("miss").Inc()
}

func RecordOutboxPublished(status string) {
	outboxPublishedTotal.WithLabelValues(status).Inc()
}

// MetricsHandler returns the Prometheus metrics handler
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
