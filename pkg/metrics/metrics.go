// Package metrics exposes the Prometheus registry used by jobfeed.
// Metrics are defined in their respective packages (cache, usage, upstream,
// feed) and registered via promauto; this package serves them and documents
// them in one place.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all jobfeed metrics are registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer matching Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - jobfeed_cache_hits_total{freshness} (Counter): Lookups that found an entry
//   - jobfeed_cache_misses_total (Counter): Lookups without an entry
//   - jobfeed_cache_writes_total (Counter): Entries written
//   - jobfeed_cache_evictions_total (Counter): Entries removed by purges
//   - jobfeed_cache_errors_total{operation} (Counter): Storage failures
//
// Usage Metrics (pkg/usage):
//   - jobfeed_upstream_calls_month (Gauge): Calls recorded in the current UTC month
//   - jobfeed_query_popularity_increments_total (Counter): Popularity increments
//   - jobfeed_budget_reservations_refused_total (Counter): Hard-cap refusals
//
// Upstream Metrics (pkg/upstream):
//   - jobfeed_upstream_requests_total{status} (Counter): Provider requests by HTTP status
//   - jobfeed_upstream_request_duration_seconds (Histogram): Provider latency
//   - jobfeed_upstream_errors_total{class} (Counter): Failures by error class
//   - jobfeed_upstream_breaker_transitions_total{to} (Counter): Circuit breaker state changes
//   - jobfeed_upstream_retries_total{error_class} (Counter): Retry attempts
//   - jobfeed_upstream_retry_backoff_seconds{error_class} (Histogram): Backoff waits
//   - jobfeed_upstream_retry_exhausted_total{error_class} (Counter): Calls out of retries
//
// Search Metrics (pkg/feed):
//   - jobfeed_search_decisions_total{decision} (Counter): Searches by decision
//   - jobfeed_search_duration_seconds{decision} (Histogram): Search latency by decision
//   - jobfeed_background_write_errors_total{operation} (Counter): Failed deferred writes
//   - jobfeed_overlay_errors_total (Counter): Admin listing lookups that failed
//   - jobfeed_prewarm_runs_total{outcome} (Counter): Prewarm runs by outcome
//   - jobfeed_prewarm_upstream_calls_total (Counter): Upstream calls made by prewarm
//
// Example Prometheus Queries:
//
//   # Share of searches answered without an upstream call
//   sum(rate(jobfeed_search_decisions_total{decision=~"cache_fresh|cache_stale_over_budget"}[1h]))
//   / sum(rate(jobfeed_search_decisions_total[1h]))
//
//   # Monthly budget used
//   jobfeed_upstream_calls_month
//
//   # Upstream error rate by class
//   sum by (class) (rate(jobfeed_upstream_errors_total[5m]))
//
//   # P95 search latency
//   histogram_quantile(0.95, sum by (le) (rate(jobfeed_search_duration_seconds_bucket[5m])))
