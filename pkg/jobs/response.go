package jobs

// Response is the envelope returned to search callers.
type Response struct {
	Success   bool      `json:"success"`
	Data      []Job     `json:"data"`
	Total     int       `json:"total"`
	Page      int       `json:"page"`
	HasMore   bool      `json:"hasMore"`
	QueryInfo QueryInfo `json:"query_info"`
	Cache     CacheInfo `json:"cache"`

	// Message is a user-safe explanation when Success is false.
	Message string `json:"message,omitempty"`

	// Debug carries internal error detail and is only populated in debug mode.
	Debug string `json:"debug,omitempty"`
}

// QueryInfo echoes what was searched and how the answer was produced.
type QueryInfo struct {
	OriginalQuery  string         `json:"original_query"`
	Location       string         `json:"location"`
	FiltersApplied FiltersApplied `json:"filters_applied"`
	BudgetGuard    *BudgetGuard   `json:"budget_guard,omitempty"`
	UpstreamError  string         `json:"upstream_error,omitempty"`
}

// FiltersApplied lists the normalized filters used for the search.
type FiltersApplied struct {
	EmploymentTypes []string `json:"employment_types,omitempty"`
	Remote          bool     `json:"remote"`
	DatePosted      string   `json:"date_posted"`
	NumPages        int      `json:"num_pages"`
}

// BudgetGuard is attached when the monthly call budget shaped the answer.
type BudgetGuard struct {
	Count                int  `json:"count"`
	Limit                int  `json:"limit"`
	ServedFromCache      bool `json:"servedFromCache,omitempty"`
	ServedFromStaleCache bool `json:"servedFromStaleCache,omitempty"`
}

// CacheInfo describes the cache outcome of a search.
type CacheInfo struct {
	Hit           bool `json:"hit"`
	Fresh         bool `json:"fresh"`
	Stale         bool `json:"stale,omitempty"`
	BudgetLimited bool `json:"budgetLimited,omitempty"`
}

// NewQueryInfo builds the query echo for normalized params.
func NewQueryInfo(original string, p SearchParams) QueryInfo {
	return QueryInfo{
		OriginalQuery: original,
		Location:      p.Location,
		FiltersApplied: FiltersApplied{
			EmploymentTypes: p.EmploymentTypes,
			Remote:          p.Remote,
			DatePosted:      p.DatePosted,
			NumPages:        p.NumPages,
		},
	}
}
