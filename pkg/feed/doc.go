// Package feed is the search orchestrator: it decides per request whether
// to answer from cache, from stale cache, from a fresh upstream call or with
// an empty budget-limited result, and overlays admin listings on the answer.
//
// # Decisions
//
// A request is normalized into a cache key and read at an adaptive TTL
// (shorter for popular queries). A fresh entry is returned as is. Otherwise
// the monthly budget decides: near the limit a stale entry no older than the
// stale fallback window is served, or an empty result when there is none;
// under the limit upstream is called and the result cached. A failed upstream
// call falls back to any cached entry, and only without one does the search
// fail.
//
// # Writes
//
// Cache writes and ledger increments after an upstream call run in the
// background, detached from the request context. Call Manager.Wait or
// Manager.Close to flush them.
//
// # Prewarm
//
// Prewarmer refreshes configured profiles and popular queries on a
// schedule, skipping the run when the budget is high and stopping once the
// remaining budget is spent.
package feed
