package feed

import "github.com/Sternrassler/jobfeed-client/pkg/cache"

// Decision is how a search was answered.
type Decision string

const (
	// DecisionCacheFresh answers from a cache entry inside the TTL.
	DecisionCacheFresh Decision = "cache_fresh"

	// DecisionCacheStaleUnderBudget refreshes a stale entry from upstream.
	DecisionCacheStaleUnderBudget Decision = "cache_stale_under_budget"

	// DecisionCacheStaleOverBudget serves a stale entry instead of spending budget.
	DecisionCacheStaleOverBudget Decision = "cache_stale_over_budget"

	// DecisionCallUpstream fetches a query that has no cache entry.
	DecisionCallUpstream Decision = "call_upstream"

	// DecisionBudgetExhaustedNoCache answers empty: no budget and nothing cached.
	DecisionBudgetExhaustedNoCache Decision = "budget_exhausted_no_cache"
)

// CallsUpstream reports whether the decision spends an upstream call.
func (d Decision) CallsUpstream() bool {
	return d == DecisionCallUpstream || d == DecisionCacheStaleUnderBudget
}

// decide maps a cache lookup and the budget state to a decision.
// withinFallback tells whether a stale entry is young enough to be served
// under budget pressure.
func decide(lookup cache.Lookup, near, withinFallback bool) Decision {
	switch {
	case lookup.Fresh:
		return DecisionCacheFresh
	case near && lookup.Hit && withinFallback:
		return DecisionCacheStaleOverBudget
	case near:
		return DecisionBudgetExhaustedNoCache
	case lookup.Hit:
		return DecisionCacheStaleUnderBudget
	default:
		return DecisionCallUpstream
	}
}
