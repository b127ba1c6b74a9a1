// Package jobs holds the job-search domain types shared by the upstream
// client, the listings source and the feed orchestrator.
package jobs

import (
	"sort"
	"strings"
	"time"
)

// Record sources.
const (
	SourceUpstream = "jsearch"
	SourceAdmin    = "admin"
)

// ResultsPerPage is the number of records the upstream provider returns per page.
const ResultsPerPage = 10

// MaxPages bounds num_pages so a single request cannot burn the monthly quota.
const MaxPages = 5

// Date-posted filters understood by the upstream provider.
var datePostedValues = map[string]bool{
	"all":   true,
	"today": true,
	"3days": true,
	"week":  true,
	"month": true,
}

// Employment types understood by the upstream provider.
var employmentTypeValues = map[string]bool{
	"FULLTIME":   true,
	"PARTTIME":   true,
	"CONTRACTOR": true,
	"INTERN":     true,
}

// Job is a normalized job record, regardless of where it came from.
type Job struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Company        string     `json:"company"`
	CompanyLogo    string     `json:"company_logo,omitempty"`
	Location       string     `json:"location"`
	City           string     `json:"city,omitempty"`
	State          string     `json:"state,omitempty"`
	Country        string     `json:"country,omitempty"`
	Remote         bool       `json:"remote"`
	EmploymentType string     `json:"employment_type,omitempty"`
	Description    string     `json:"description,omitempty"`
	ApplyLink      string     `json:"apply_link,omitempty"`
	PostedAt       *time.Time `json:"posted_at,omitempty"`
	SalaryMin      *float64   `json:"salary_min,omitempty"`
	SalaryMax      *float64   `json:"salary_max,omitempty"`
	SalaryCurrency string     `json:"salary_currency,omitempty"`
	SalaryPeriod   string     `json:"salary_period,omitempty"`
	Source         string     `json:"source"`
	Featured       bool       `json:"featured"`
}

// SearchParams are the user-facing search filters.
type SearchParams struct {
	Query           string   `json:"query"`
	Location        string   `json:"location,omitempty"`
	EmploymentTypes []string `json:"employment_types,omitempty"`
	Remote          bool     `json:"remote,omitempty"`
	DatePosted      string   `json:"date_posted,omitempty"`
	Page            int      `json:"page"`
	NumPages        int      `json:"num_pages"`
}

// Normalize returns a canonical copy of p: trimmed and lowercased text,
// collapsed whitespace, upper-cased, de-duplicated and sorted employment
// types, a known date filter, and pagination clamped to valid bounds.
// Two requests that mean the same search normalize to equal values.
func (p SearchParams) Normalize() SearchParams {
	out := SearchParams{
		Query:    collapse(p.Query),
		Location: collapse(p.Location),
		Remote:   p.Remote,
		Page:     p.Page,
		NumPages: p.NumPages,
	}

	seen := make(map[string]bool, len(p.EmploymentTypes))
	for _, raw := range p.EmploymentTypes {
		for _, part := range strings.Split(raw, ",") {
			t := strings.ToUpper(strings.TrimSpace(part))
			if t == "" || seen[t] || !employmentTypeValues[t] {
				continue
			}
			seen[t] = true
			out.EmploymentTypes = append(out.EmploymentTypes, t)
		}
	}
	sort.Strings(out.EmploymentTypes)

	out.DatePosted = strings.ToLower(strings.TrimSpace(p.DatePosted))
	if !datePostedValues[out.DatePosted] {
		out.DatePosted = "all"
	}

	if out.Page < 1 {
		out.Page = 1
	}
	if out.NumPages < 1 {
		out.NumPages = 1
	}
	if out.NumPages > MaxPages {
		out.NumPages = MaxPages
	}
	return out
}

// UpstreamQuery is the free-text query sent to the provider, which expects
// the location folded into the query ("software developer in berlin").
func (p SearchParams) UpstreamQuery() string {
	if p.Location == "" {
		return p.Query
	}
	return p.Query + " in " + p.Location
}

func collapse(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
