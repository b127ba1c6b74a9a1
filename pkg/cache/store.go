package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces cache entries in Redis.
const DefaultPrefix = "jobfeed:cache:"

const (
	fieldValue     = "value"
	fieldCreatedAt = "created_at"
	fieldUpdatedAt = "updated_at"

	scanBatch = 500
)

// ErrInvalidEntry indicates the stored hash is corrupted
var ErrInvalidEntry = errors.New("invalid cache entry")

// Store handles caching operations with Redis backend.
type Store struct {
	redis  *redis.Client
	prefix string
	clock  clockwork.Clock
}

// Option customises a Store.
type Option func(*Store)

// WithPrefix overrides the Redis key namespace.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithClock overrides the clock used for timestamps and freshness.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewStore creates a new cache store with Redis backend.
func NewStore(redisClient *redis.Client, opts ...Option) *Store {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	s := &Store{
		redis:  redisClient,
		prefix: DefaultPrefix,
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get looks up key and evaluates freshness against maxAge.
// A key that was never written yields a zero Lookup and no error. A storage
// failure yields a zero Lookup and the error, so callers can log it and
// carry on as if it were a miss.
func (s *Store) Get(ctx context.Context, key string, maxAge time.Duration) (Lookup, error) {
	fields, err := s.redis.HGetAll(ctx, s.prefix+key).Result()
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return Lookup{}, fmt.Errorf("redis hgetall: %w", err)
	}
	if len(fields) == 0 {
		CacheMisses.Inc()
		return Lookup{}, nil
	}

	entry, err := decodeEntry(key, fields)
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return Lookup{}, err
	}

	if entry.IsFresh(s.clock.Now(), maxAge) {
		CacheHits.WithLabelValues("fresh").Inc()
		return Lookup{Hit: true, Fresh: true, Entry: entry}, nil
	}
	CacheHits.WithLabelValues("stale").Inc()
	return Lookup{Hit: true, Entry: entry}, nil
}

// Set upserts value under key. UpdatedAt is always refreshed, CreatedAt is
// only written when the entry does not exist yet.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if len(value) == 0 {
		return fmt.Errorf("cache value cannot be empty")
	}

	now := strconv.FormatInt(s.clock.Now().UnixMilli(), 10)
	redisKey := s.prefix + key

	pipe := s.redis.TxPipeline()
	pipe.HSet(ctx, redisKey, fieldValue, value, fieldUpdatedAt, now)
	pipe.HSetNX(ctx, redisKey, fieldCreatedAt, now)
	if _, err := pipe.Exec(ctx); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis upsert: %w", err)
	}

	CacheWrites.Inc()
	return nil
}

// DeleteByPrefix removes every entry whose key starts with prefix and
// returns the number of keys removed.
func (s *Store) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	pattern := s.prefix + escapePattern(prefix) + "*"

	removed := 0
	var cursor uint64
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			CacheErrors.WithLabelValues("delete").Inc()
			return removed, fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			n, err := s.redis.Del(ctx, keys...).Result()
			if err != nil {
				CacheErrors.WithLabelValues("delete").Inc()
				return removed, fmt.Errorf("redis del: %w", err)
			}
			removed += int(n)
		}
		if next == 0 {
			break
		}
		cursor = next
	}

	CacheEvictions.Add(float64(removed))
	return removed, nil
}

// DeleteAll removes every entry in the store's namespace.
func (s *Store) DeleteAll(ctx context.Context) (int, error) {
	return s.DeleteByPrefix(ctx, "")
}

func decodeEntry(key string, fields map[string]string) (*Entry, error) {
	value, ok := fields[fieldValue]
	if !ok {
		return nil, fmt.Errorf("%w: missing value", ErrInvalidEntry)
	}
	updated, err := parseMillis(fields[fieldUpdatedAt])
	if err != nil {
		return nil, fmt.Errorf("%w: updated_at: %v", ErrInvalidEntry, err)
	}
	created, err := parseMillis(fields[fieldCreatedAt])
	if err != nil {
		created = updated
	}
	return &Entry{
		Key:       key,
		Value:     []byte(value),
		CreatedAt: created,
		UpdatedAt: updated,
	}, nil
}

func parseMillis(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

// escapePattern escapes Redis glob metacharacters so user-supplied prefixes
// match literally.
func escapePattern(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
