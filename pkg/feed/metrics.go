package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the orchestrator.
var (
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobfeed_search_decisions_total",
		Help: "Searches answered, by decision",
	}, []string{"decision"})

	searchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jobfeed_search_duration_seconds",
		Help:    "Search latency by decision",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	}, []string{"decision"})

	backgroundErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobfeed_background_write_errors_total",
		Help: "Failed background cache and ledger writes by operation",
	}, []string{"operation"})

	overlayErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobfeed_overlay_errors_total",
		Help: "Failed admin listings reads",
	})

	prewarmRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobfeed_prewarm_runs_total",
		Help: "Prewarm attempts by outcome",
	}, []string{"outcome"})

	prewarmCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobfeed_prewarm_upstream_calls_total",
		Help: "Upstream calls made by prewarm runs",
	})
)
