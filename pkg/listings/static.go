package listings

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sternrassler/jobfeed-client/pkg/jobs"
)

// StaticSource is an in-memory Source, used when no database is configured
// and in tests.
type StaticSource struct {
	mu       sync.RWMutex
	listings []Listing
	limit    int
}

// NewStaticSource creates a source seeded with the given listings.
func NewStaticSource(limit int, seed ...Listing) *StaticSource {
	if limit <= 0 {
		limit = DefaultLimit
	}
	s := &StaticSource{limit: limit}
	for _, l := range seed {
		s.Add(l)
	}
	return s
}

// Add stores a listing, assigning an ID and creation time when missing.
func (s *StaticSource) Add(l Listing) Listing {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	l.Source = jobs.SourceAdmin

	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings = append(s.listings, l)
	return l
}

// Create implements Store.
func (s *StaticSource) Create(ctx context.Context, l Listing) (Listing, error) {
	if err := ctx.Err(); err != nil {
		return Listing{}, err
	}
	return s.Add(l), nil
}

// Listings implements Source.
func (s *StaticSource) Listings(ctx context.Context, p jobs.SearchParams) ([]jobs.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	matched := make([]Listing, 0, len(s.listings))
	for _, l := range s.listings {
		if l.Matches(p) {
			matched = append(matched, l)
		}
	}
	s.mu.RUnlock()

	sortListings(matched)
	if len(matched) > s.limit {
		matched = matched[:s.limit]
	}

	out := make([]jobs.Job, len(matched))
	for i, l := range matched {
		out[i] = l.toJob()
	}
	return out, nil
}
