package cache

import (
	"encoding/json"
	"time"
)

// Entry is a cached payload with its write timestamps.
type Entry struct {
	// Key is the caller's key, without the store prefix.
	Key string `json:"key"`

	// Value is the opaque payload replayed on a hit.
	Value json.RawMessage `json:"value"`

	// CreatedAt is set once, on first insert.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is refreshed on every write.
	UpdatedAt time.Time `json:"updated_at"`
}

// Age returns how long ago the entry was last written.
func (e *Entry) Age(now time.Time) time.Duration {
	age := now.Sub(e.UpdatedAt)
	if age < 0 {
		return 0
	}
	return age
}

// IsFresh reports whether the entry is at most maxAge old, at the
// millisecond resolution timestamps are stored with.
func (e *Entry) IsFresh(now time.Time, maxAge time.Duration) bool {
	return now.UnixMilli()-e.UpdatedAt.UnixMilli() <= maxAge.Milliseconds()
}

// Lookup is the outcome of a read.
type Lookup struct {
	// Hit is true when an entry exists for the key, regardless of age.
	Hit bool

	// Fresh is true when the entry is within the requested window.
	Fresh bool

	// Entry is set when Hit is true.
	Entry *Entry
}

// Stale reports a hit outside the requested freshness window.
func (l Lookup) Stale() bool {
	return l.Hit && !l.Fresh
}
