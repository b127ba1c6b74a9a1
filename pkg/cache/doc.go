// Package cache provides a Redis-backed key/value store for replayable
// response payloads with read-time freshness evaluation.
//
// Entries are never expired by Redis. Each entry records when it was first
// created and when it was last written, and every read states how old an
// entry may be to count as fresh. The same key can therefore be read with a
// normal freshness window on the hot path and with a much longer window when
// the caller is willing to serve stale data, e.g. under quota pressure.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := cache.NewStore(redisClient)
//
//	// Write (upsert, refreshes UpdatedAt)
//	if err := store.Set(ctx, key, payload); err != nil {
//		// best effort: log and carry on
//	}
//
//	// Read with a 12h freshness window
//	lookup, err := store.Get(ctx, key, 12*time.Hour)
//	switch {
//	case err != nil:
//		// storage failure, treat as a miss
//	case !lookup.Hit:
//		// never written
//	case lookup.Fresh:
//		// serve lookup.Entry.Value
//	default:
//		// stale, caller decides
//	}
//
// # Layout
//
// Each entry is one Redis hash at <prefix><key> with the fields value,
// created_at and updated_at (unix milliseconds). created_at is written with
// HSETNX so it survives overwrites.
//
// # Metrics
//
//   - jobfeed_cache_hits_total{freshness} - hits split into fresh and stale
//   - jobfeed_cache_misses_total - lookups for keys never written
//   - jobfeed_cache_writes_total - successful upserts
//   - jobfeed_cache_evictions_total - keys removed by administrative purges
//   - jobfeed_cache_errors_total{operation} - storage failures
package cache
