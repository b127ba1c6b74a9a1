package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by freshness
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobfeed_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"freshness"}, // "fresh", "stale"
	)

	// CacheMisses tracks lookups for keys that were never written
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobfeed_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// CacheWrites tracks successful upserts
	CacheWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobfeed_cache_writes_total",
			Help: "Total number of cache writes",
		},
	)

	// CacheEvictions tracks keys removed by administrative purges
	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobfeed_cache_evictions_total",
			Help: "Total number of cache keys removed by purges",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobfeed_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
