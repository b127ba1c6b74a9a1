package feed

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultLockKey is the Redis key of the prewarm lock.
const DefaultLockKey = "jobfeed:lock:prewarm"

// ErrLockHeld is returned when another instance holds the prewarm lock.
var ErrLockHeld = errors.New("prewarm lock held by another instance")

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Lock is a TTL'd Redis lock shared by all instances. The TTL bounds how
// long a crashed holder blocks others. Next to the lock it keeps the start
// time of the last pass, so instances also share one interval.
type Lock struct {
	redis *redis.Client
	key   string
	ttl   time.Duration
	owner string
}

// NewLock creates a lock on key.
func NewLock(redisClient *redis.Client, key string, ttl time.Duration) *Lock {
	if key == "" {
		key = DefaultLockKey
	}
	return &Lock{redis: redisClient, key: key, ttl: ttl, owner: uuid.NewString()}
}

// MarkRun records that this instance started a pass at at. The record
// expires after keep.
func (l *Lock) MarkRun(ctx context.Context, at time.Time, keep time.Duration) error {
	value := l.owner + "|" + strconv.FormatInt(at.UnixMilli(), 10)
	if err := l.redis.Set(ctx, l.lastRunKey(), value, keep).Err(); err != nil {
		return fmt.Errorf("mark prewarm run: %w", err)
	}
	return nil
}

// LastRun returns the start of the last recorded pass, zero if none, and
// whether this instance recorded it.
func (l *Lock) LastRun(ctx context.Context) (time.Time, bool, error) {
	value, err := l.redis.Get(ctx, l.lastRunKey()).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read prewarm run: %w", err)
	}

	owner, ms, ok := strings.Cut(value, "|")
	n, err := strconv.ParseInt(ms, 10, 64)
	if !ok || err != nil {
		return time.Time{}, false, fmt.Errorf("invalid prewarm run record %q", value)
	}
	return time.UnixMilli(n).UTC(), owner == l.owner, nil
}

func (l *Lock) lastRunKey() string {
	return l.key + ":last"
}

// Acquire takes the lock and returns a release function, or ErrLockHeld.
func (l *Lock) Acquire(ctx context.Context) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := l.redis.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.redis, []string{l.key}, token).Err(); err != nil {
			return fmt.Errorf("release lock: %w", err)
		}
		return nil
	}
	return release, nil
}
