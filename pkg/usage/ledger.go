package usage

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrBudgetExhausted is returned by Reserve when the month is at its ceiling.
var ErrBudgetExhausted = errors.New("monthly upstream budget exhausted")

// Prometheus metrics for the ledger.
var (
	monthlyCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jobfeed_upstream_calls_month",
		Help: "Upstream calls recorded in the current UTC month",
	})

	popularityIncrements = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobfeed_query_popularity_increments_total",
		Help: "Total number of per-query popularity increments",
	})

	reservationsRefused = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobfeed_budget_reservations_refused_total",
		Help: "Total number of hard-cap reservations refused at the monthly ceiling",
	})
)

// reserveScript increments the month counter only while it is below the
// ceiling, returning -1 when the ceiling is reached.
var reserveScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= tonumber(ARGV[1]) then
	return -1
end
return redis.call('INCR', KEYS[1])
`)

// QueryStat is a popularity entry.
type QueryStat struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Ledger records upstream calls in Redis. All counters use atomic Redis
// increments, so concurrent writers never lose updates.
type Ledger struct {
	redis  *redis.Client
	limit  int
	prefix string
	clock  clockwork.Clock
	logger zerolog.Logger
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithClock overrides the clock used for month partitioning and timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(l *Ledger) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithPrefix overrides the Redis key namespace.
func WithPrefix(prefix string) Option {
	return func(l *Ledger) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// NewLedger creates a new usage ledger with the given monthly call ceiling.
func NewLedger(redisClient *redis.Client, monthlyLimit int, logger zerolog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		redis:  redisClient,
		limit:  monthlyLimit,
		prefix: DefaultPrefix,
		clock:  clockwork.NewRealClock(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Limit returns the configured monthly ceiling.
func (l *Ledger) Limit() int {
	return l.limit
}

// CurrentMonth returns the current UTC month partition.
func (l *Ledger) CurrentMonth() string {
	return MonthKey(l.clock.Now())
}

// RecordCall counts one real upstream call against the current month and,
// when cacheKey is not empty, against that query's popularity. It returns the
// month's new count.
func (l *Ledger) RecordCall(ctx context.Context, cacheKey string) (int, error) {
	month := l.CurrentMonth()

	pipe := l.redis.TxPipeline()
	incr := pipe.Incr(ctx, l.monthKey(month))
	if cacheKey != "" {
		l.queueQueryBump(ctx, pipe, cacheKey)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("record upstream call: %w", err)
	}

	count := int(incr.Val())
	l.observe(month, count)
	if cacheKey != "" {
		popularityIncrements.Inc()
	}
	return count, nil
}

// Reserve atomically claims one call from the month's budget, refusing with
// ErrBudgetExhausted once the ceiling is reached. It is the hard-cap
// alternative to checking NearLimit before calling upstream.
func (l *Ledger) Reserve(ctx context.Context) (int, error) {
	month := l.CurrentMonth()

	n, err := reserveScript.Run(ctx, l.redis, []string{l.monthKey(month)}, l.limit).Int()
	if err != nil {
		return 0, fmt.Errorf("reserve upstream call: %w", err)
	}
	if n < 0 {
		reservationsRefused.Inc()
		l.logger.Warn().
			Str("month", month).
			Int("limit", l.limit).
			Msg("Upstream budget reservation refused")
		return l.limit, ErrBudgetExhausted
	}

	l.observe(month, n)
	return n, nil
}

// BumpQuery increments a query's popularity without touching the month
// counter. Used together with Reserve, which already counted the call.
func (l *Ledger) BumpQuery(ctx context.Context, cacheKey string) error {
	if cacheKey == "" {
		return nil
	}
	pipe := l.redis.TxPipeline()
	l.queueQueryBump(ctx, pipe, cacheKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("bump query popularity: %w", err)
	}
	popularityIncrements.Inc()
	return nil
}

// MonthlyCount returns the call count for month, or for the current month
// when month is empty. A month without calls counts as 0.
func (l *Ledger) MonthlyCount(ctx context.Context, month string) (int, error) {
	if month == "" {
		month = l.CurrentMonth()
	}
	count, err := l.redis.Get(ctx, l.monthKey(month)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("get monthly count: %w", err)
	}
	return count, nil
}

// NearLimit reports whether the current month's count has reached
// floor(limit * threshold).
func (l *Ledger) NearLimit(ctx context.Context, threshold float64) (BudgetStatus, error) {
	month := l.CurrentMonth()
	count, err := l.MonthlyCount(ctx, month)
	if err != nil {
		return BudgetStatus{}, err
	}

	status := BudgetStatus{
		Month:     month,
		Count:     count,
		Limit:     l.limit,
		Threshold: threshold,
		Near:      nearLimit(count, l.limit, threshold),
	}
	monthlyCalls.Set(float64(count))
	return status, nil
}

// QueryCount returns the popularity of cacheKey, 0 if it was never called.
func (l *Ledger) QueryCount(ctx context.Context, cacheKey string) (int, error) {
	score, err := l.redis.ZScore(ctx, l.prefix+keyPopularity, cacheKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("get query count: %w", err)
	}
	return int(score), nil
}

// PopularQueries returns up to limit keys with at least minCount calls,
// most popular first.
func (l *Ledger) PopularQueries(ctx context.Context, limit, minCount int) ([]QueryStat, error) {
	if limit <= 0 {
		return nil, nil
	}
	if minCount < 1 {
		minCount = 1
	}

	zs, err := l.redis.ZRevRangeByScoreWithScores(ctx, l.prefix+keyPopularity, &redis.ZRangeBy{
		Min:   strconv.Itoa(minCount),
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("get popular queries: %w", err)
	}

	stats := make([]QueryStat, 0, len(zs))
	for _, z := range zs {
		key, ok := z.Member.(string)
		if !ok {
			continue
		}
		stats = append(stats, QueryStat{Key: key, Count: int(z.Score)})
	}
	return stats, nil
}

func (l *Ledger) queueQueryBump(ctx context.Context, pipe redis.Pipeliner, cacheKey string) {
	now := l.clock.Now().UnixMilli()
	metaKey := l.prefix + keyQuery + cacheKey
	pipe.ZIncrBy(ctx, l.prefix+keyPopularity, 1, cacheKey)
	pipe.HSetNX(ctx, metaKey, "created_at", now)
	pipe.HSet(ctx, metaKey, "updated_at", now)
}

func (l *Ledger) monthKey(month string) string {
	return l.prefix + keyMonth + month
}

func (l *Ledger) observe(month string, count int) {
	monthlyCalls.Set(float64(count))

	switch {
	case count >= l.limit:
		l.logger.Warn().
			Str("month", month).
			Int("count", count).
			Int("limit", l.limit).
			Msg("Monthly upstream budget reached")
	case nearLimit(count, l.limit, DefaultNearThreshold):
		l.logger.Info().
			Str("month", month).
			Int("count", count).
			Int("limit", l.limit).
			Msg("Monthly upstream budget nearly used")
	default:
		l.logger.Debug().
			Str("month", month).
			Int("count", count).
			Msg("Upstream call recorded")
	}
}
