// Package usage implements the upstream call ledger: a per-month call counter
// used as the budget guard, and a per-query popularity counter used for
// adaptive TTLs and prewarm selection. Only real upstream calls are recorded,
// so the ledger measures cost incurred, not traffic served.
package usage

import (
	"math"
	"time"
)

// Redis key layout under the ledger prefix.
const (
	DefaultPrefix = "jobfeed:usage:"

	keyMonth      = "month:"
	keyPopularity = "popularity"
	keyQuery      = "query:"
)

// Thresholds for budget decisions, as fractions of the monthly limit.
const (
	// DefaultNearThreshold is the request-path guard: above it upstream calls
	// stop and stale cache is served instead.
	DefaultNearThreshold = 0.9

	// DefaultPrewarmThreshold is the prewarm guard: prewarming is skipped
	// once usage reaches it, leaving headroom for user traffic.
	DefaultPrewarmThreshold = 0.8
)

// MonthKey returns the UTC calendar month partition for t, e.g. "2026-10".
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// BudgetStatus is a snapshot of the monthly budget.
type BudgetStatus struct {
	// Month is the UTC month partition the count belongs to.
	Month string `json:"month"`

	// Count is the number of upstream calls recorded this month.
	Count int `json:"count"`

	// Limit is the configured monthly ceiling.
	Limit int `json:"limit"`

	// Threshold is the fraction of Limit that Near was evaluated against.
	Threshold float64 `json:"threshold"`

	// Near is true once Count >= floor(Limit * Threshold).
	Near bool `json:"near"`
}

// Remaining returns the number of calls left before the ceiling.
func (s BudgetStatus) Remaining() int {
	if s.Count >= s.Limit {
		return 0
	}
	return s.Limit - s.Count
}

// Exhausted reports whether the ceiling has been reached.
func (s BudgetStatus) Exhausted() bool {
	return s.Count >= s.Limit
}

// nearLimit applies the budget rule. The boundary count counts as near.
func nearLimit(count, limit int, threshold float64) bool {
	return count >= int(math.Floor(float64(limit)*threshold))
}
