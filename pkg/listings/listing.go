// Package listings provides the administratively curated job listings that
// are overlaid on every search response. Listings are always read live and
// never cached.
package listings

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/Sternrassler/jobfeed-client/pkg/jobs"
)

// DefaultLimit caps how many listings a single search returns.
const DefaultLimit = 20

// Source returns the listings matching a search.
type Source interface {
	Listings(ctx context.Context, p jobs.SearchParams) ([]jobs.Job, error)
}

// Store is a Source that also accepts new listings.
type Store interface {
	Source
	Create(ctx context.Context, l Listing) (Listing, error)
}

// Listing is a curated job with its matching metadata.
type Listing struct {
	jobs.Job

	// Keywords are extra search terms matched like the title.
	Keywords []string `json:"keywords,omitempty"`

	// Active listings are the only ones returned by a source.
	Active bool `json:"active"`

	CreatedAt time.Time `json:"created_at"`
}

// Matches reports whether l should be returned for the normalized search p.
// The query must appear as a phrase in the title, company or a keyword; the
// location must appear in the listing location unless the listing is remote.
func (l Listing) Matches(p jobs.SearchParams) bool {
	if !l.Active {
		return false
	}

	if q := strings.ToLower(p.Query); q != "" {
		hit := strings.Contains(strings.ToLower(l.Title), q) ||
			strings.Contains(strings.ToLower(l.Company), q)
		for _, kw := range l.Keywords {
			if hit {
				break
			}
			hit = strings.Contains(strings.ToLower(kw), q)
		}
		if !hit {
			return false
		}
	}

	if loc := strings.ToLower(p.Location); loc != "" && !l.Remote {
		if !strings.Contains(strings.ToLower(l.Location), loc) {
			return false
		}
	}

	if p.Remote && !l.Remote {
		return false
	}

	if len(p.EmploymentTypes) > 0 {
		want := strings.ToUpper(l.EmploymentType)
		found := false
		for _, t := range p.EmploymentTypes {
			if t == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// toJob returns the listing as an admin-sourced job record.
func (l Listing) toJob() jobs.Job {
	j := l.Job
	j.Source = jobs.SourceAdmin
	return j
}

// sortListings orders featured listings first, newest first within a group.
func sortListings(ls []Listing) {
	sort.SliceStable(ls, func(i, k int) bool {
		if ls[i].Featured != ls[k].Featured {
			return ls[i].Featured
		}
		return ls[i].CreatedAt.After(ls[k].CreatedAt)
	})
}
