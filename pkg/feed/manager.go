package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/Sternrassler/jobfeed-client/pkg/cache"
	"github.com/Sternrassler/jobfeed-client/pkg/jobs"
	"github.com/Sternrassler/jobfeed-client/pkg/listings"
	"github.com/Sternrassler/jobfeed-client/pkg/upstream"
	"github.com/Sternrassler/jobfeed-client/pkg/usage"
)

var (
	// ErrNoData is returned when upstream failed and nothing else could
	// answer the search. It wraps the upstream error.
	ErrNoData = errors.New("no job data available")

	// ErrEmptyQuery is returned for a search without query text.
	ErrEmptyQuery = errors.New("search query is required")
)

// SoftFailureMessage is the user-facing text of a failed search.
const SoftFailureMessage = "Job search is temporarily unavailable. Please try again later."

// Searcher performs upstream searches.
type Searcher interface {
	Search(ctx context.Context, p jobs.SearchParams) (*upstream.Result, error)
}

// Config holds the orchestrator configuration.
type Config struct {
	// BaseTTL is the freshness window for ordinary queries.
	BaseTTL time.Duration

	// HotTTL is the shorter window for queries at or above HotThreshold
	// popularity. Zero HotThreshold disables it.
	HotTTL       time.Duration
	HotThreshold int

	// StaleFallback is the maximum age of an entry served under budget
	// pressure.
	StaleFallback time.Duration

	// NearThreshold is the fraction of the monthly limit at which upstream
	// calls stop.
	NearThreshold float64

	// HardCap reserves each call atomically instead of trusting the
	// near-limit read alone.
	HardCap bool

	// AsyncWrites runs cache and ledger writes after the response.
	AsyncWrites  bool
	WriteTimeout time.Duration

	// Debug exposes internal error detail in responses.
	Debug bool
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		BaseTTL:       12 * time.Hour,
		HotTTL:        6 * time.Hour,
		HotThreshold:  5,
		StaleFallback: 7 * 24 * time.Hour,
		NearThreshold: usage.DefaultNearThreshold,
		AsyncWrites:   true,
		WriteTimeout:  5 * time.Second,
	}
}

// cachedSearch is the payload stored per cache key. It holds upstream
// records only; admin listings are never cached.
type cachedSearch struct {
	Params    jobs.SearchParams `json:"params"`
	Jobs      []jobs.Job        `json:"data"`
	HasMore   bool              `json:"hasMore"`
	FetchedAt time.Time         `json:"fetched_at"`
}

// Manager answers searches from cache, upstream or the budget fallback.
// One Manager is shared by every request of a process.
type Manager struct {
	store    *cache.Store
	ledger   *usage.Ledger
	searcher Searcher
	listings listings.Source
	cfg      Config
	clock    clockwork.Clock
	logger   zerolog.Logger

	wg sync.WaitGroup
}

// Option customises a Manager.
type Option func(*Manager)

// WithClock overrides the clock used for freshness checks.
func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithListings sets the admin listings overlaid on first pages.
func WithListings(src listings.Source) Option {
	return func(m *Manager) {
		m.listings = src
	}
}

// NewManager creates a new search orchestrator.
func NewManager(store *cache.Store, ledger *usage.Ledger, searcher Searcher, cfg Config, logger zerolog.Logger, opts ...Option) *Manager {
	if store == nil || ledger == nil || searcher == nil {
		panic("feed: store, ledger and searcher are required")
	}
	if cfg.BaseTTL <= 0 {
		cfg.BaseTTL = DefaultConfig().BaseTTL
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}

	m := &Manager{
		store:    store,
		ledger:   ledger,
		searcher: searcher,
		cfg:      cfg,
		clock:    clockwork.NewRealClock(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// outcome is an answer before the overlay is applied.
type outcome struct {
	decision    Decision
	jobs        []jobs.Job
	hasMore     bool
	cache       jobs.CacheInfo
	guard       *jobs.BudgetGuard
	upstreamErr error
}

// Search answers a job search. Cache, ledger and listings failures degrade
// to a less optimal answer and are only logged. The returned error is
// ErrEmptyQuery or wraps ErrNoData; in the latter case the response is still
// set and carries a soft failure message.
func (m *Manager) Search(ctx context.Context, params jobs.SearchParams) (*jobs.Response, error) {
	start := m.clock.Now()
	original := strings.TrimSpace(params.Query)
	p := params.Normalize()
	if p.Query == "" {
		return nil, ErrEmptyQuery
	}

	key := CacheKey(p)
	logger := m.logger.With().Str("cache_key", key).Logger()

	ttl := m.ttlFor(ctx, key, logger)
	lookup, cached := m.lookup(ctx, key, ttl, logger)

	if lookup.Fresh {
		logger.Debug().Dur("ttl", ttl).Msg("Cache hit")
		return m.respond(ctx, p, original, start, outcome{
			decision: DecisionCacheFresh,
			jobs:     cached.Jobs,
			hasMore:  cached.HasMore,
			cache:    jobs.CacheInfo{Hit: true, Fresh: true},
		}, logger), nil
	}

	budget := m.budget(ctx, logger)
	now := m.clock.Now()
	withinFallback := lookup.Hit && lookup.Entry.IsFresh(now, m.cfg.StaleFallback)
	decision := decide(lookup, budget.Near, withinFallback)

	reserved := false
	if decision.CallsUpstream() && m.cfg.HardCap {
		count, err := m.ledger.Reserve(ctx)
		switch {
		case errors.Is(err, usage.ErrBudgetExhausted):
			budget.Count = count
			decision = decide(lookup, true, withinFallback)
		case err != nil:
			logger.Warn().Err(err).Msg("Budget reservation failed, calling upstream unreserved")
		default:
			reserved = true
		}
	}

	switch decision {
	case DecisionCacheStaleOverBudget:
		guard := &jobs.BudgetGuard{Count: budget.Count, Limit: budget.Limit}
		if lookup.Entry.IsFresh(now, m.cfg.BaseTTL) {
			guard.ServedFromCache = true
		} else {
			guard.ServedFromStaleCache = true
		}
		logger.Warn().
			Int("count", budget.Count).
			Int("limit", budget.Limit).
			Dur("age", lookup.Entry.Age(now)).
			Msg("Budget near limit, serving cached result")
		return m.respond(ctx, p, original, start, outcome{
			decision: decision,
			jobs:     cached.Jobs,
			hasMore:  cached.HasMore,
			cache:    jobs.CacheInfo{Hit: true, Stale: true, BudgetLimited: true},
			guard:    guard,
		}, logger), nil

	case DecisionBudgetExhaustedNoCache:
		logger.Warn().
			Int("count", budget.Count).
			Int("limit", budget.Limit).
			Msg("Budget near limit and no cache, answering empty")
		return m.respond(ctx, p, original, start, outcome{
			decision: decision,
			cache:    jobs.CacheInfo{BudgetLimited: true},
			guard:    &jobs.BudgetGuard{Count: budget.Count, Limit: budget.Limit},
		}, logger), nil
	}

	fetched, err := m.fetch(ctx, p)
	if err == nil {
		m.background(ctx, "persist", key, func(ctx context.Context) error {
			return m.persist(ctx, key, fetched, reserved)
		})
		return m.respond(ctx, p, original, start, outcome{
			decision: decision,
			jobs:     fetched.Jobs,
			hasMore:  fetched.HasMore,
			cache:    jobs.CacheInfo{Fresh: true},
		}, logger), nil
	}

	logger.Warn().
		Err(err).
		Str("error_class", string(upstream.ClassOf(err))).
		Bool("cache_available", lookup.Hit).
		Msg("Upstream search failed")

	if lookup.Hit {
		fresh := lookup.Entry.IsFresh(now, m.cfg.BaseTTL)
		return m.respond(ctx, p, original, start, outcome{
			decision:    decision,
			jobs:        cached.Jobs,
			hasMore:     cached.HasMore,
			cache:       jobs.CacheInfo{Hit: true, Fresh: fresh, Stale: !fresh},
			upstreamErr: err,
		}, logger), nil
	}

	resp := m.respond(ctx, p, original, start, outcome{decision: decision, upstreamErr: err}, logger)
	if len(resp.Data) > 0 {
		return resp, nil
	}
	resp.Success = false
	resp.Message = SoftFailureMessage
	logger.Error().Err(err).Msg("No data available for search")
	return resp, fmt.Errorf("%w: %w", ErrNoData, err)
}

// TTLFor returns the freshness window for a query with the given popularity.
func (m *Manager) TTLFor(popularity int) time.Duration {
	if m.cfg.HotThreshold > 0 && m.cfg.HotTTL > 0 && popularity >= m.cfg.HotThreshold {
		return m.cfg.HotTTL
	}
	return m.cfg.BaseTTL
}

func (m *Manager) ttlFor(ctx context.Context, key string, logger zerolog.Logger) time.Duration {
	count, err := m.ledger.QueryCount(ctx, key)
	if err != nil {
		logger.Warn().Err(err).Msg("Popularity read failed, using base TTL")
		return m.cfg.BaseTTL
	}
	return m.TTLFor(count)
}

// lookup reads and decodes the cache entry. Unreadable entries are misses.
func (m *Manager) lookup(ctx context.Context, key string, ttl time.Duration, logger zerolog.Logger) (cache.Lookup, *cachedSearch) {
	lookup, err := m.store.Get(ctx, key, ttl)
	if err != nil {
		logger.Warn().Err(err).Msg("Cache read failed, treating as miss")
		return cache.Lookup{}, nil
	}
	if !lookup.Hit {
		return lookup, nil
	}

	var cached cachedSearch
	if err := json.Unmarshal(lookup.Entry.Value, &cached); err != nil {
		logger.Warn().Err(err).Msg("Cached payload unreadable, treating as miss")
		return cache.Lookup{}, nil
	}
	return lookup, &cached
}

// budget reads the monthly budget. A failed read counts as not near, so a
// ledger outage never blocks searches.
func (m *Manager) budget(ctx context.Context, logger zerolog.Logger) usage.BudgetStatus {
	status, err := m.ledger.NearLimit(ctx, m.cfg.NearThreshold)
	if err != nil {
		logger.Warn().Err(err).Msg("Budget read failed, assuming budget available")
		return usage.BudgetStatus{Limit: m.ledger.Limit(), Threshold: m.cfg.NearThreshold}
	}
	return status
}

// fetch calls upstream for p.
func (m *Manager) fetch(ctx context.Context, p jobs.SearchParams) (*cachedSearch, error) {
	result, err := m.searcher.Search(ctx, p)
	if err != nil {
		return nil, err
	}
	return &cachedSearch{
		Params:    p,
		Jobs:      result.Jobs,
		HasMore:   len(result.Jobs) >= jobs.ResultsPerPage*p.NumPages,
		FetchedAt: m.clock.Now().UTC(),
	}, nil
}

// persist records the call in the ledger and writes the cache entry. Both
// writes are attempted even if one fails. A search the client retried is
// still one recorded call.
func (m *Manager) persist(ctx context.Context, key string, fetched *cachedSearch, reserved bool) error {
	var errs error

	if reserved {
		errs = multierr.Append(errs, m.ledger.BumpQuery(ctx, key))
	} else if _, err := m.ledger.RecordCall(ctx, key); err != nil {
		errs = multierr.Append(errs, err)
	}

	value, err := json.Marshal(fetched)
	if err != nil {
		return multierr.Append(errs, fmt.Errorf("encode cached search: %w", err))
	}
	return multierr.Append(errs, m.store.Set(ctx, key, value))
}

// background runs fn detached from the request's cancellation, bounded by
// the write timeout. Failures are logged and counted.
func (m *Manager) background(ctx context.Context, op, key string, fn func(context.Context) error) {
	run := func() {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.WriteTimeout)
		defer cancel()
		if err := fn(wctx); err != nil {
			backgroundErrors.WithLabelValues(op).Inc()
			m.logger.Warn().
				Err(err).
				Str("operation", op).
				Str("cache_key", key).
				Msg("Background write failed")
		}
	}

	if !m.cfg.AsyncWrites {
		run()
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		run()
	}()
}

// respond applies the admin overlay and builds the envelope.
func (m *Manager) respond(ctx context.Context, p jobs.SearchParams, original string, start time.Time, o outcome, logger zerolog.Logger) *jobs.Response {
	data := o.jobs
	if p.Page == 1 && m.listings != nil {
		admin, err := m.listings.Listings(ctx, p)
		if err != nil {
			overlayErrors.Inc()
			logger.Warn().Err(err).Msg("Admin listings unavailable, skipping overlay")
		} else {
			data = mergeOverlay(admin, data)
		}
	}
	if data == nil {
		data = []jobs.Job{}
	}

	info := jobs.NewQueryInfo(original, p)
	info.BudgetGuard = o.guard

	resp := &jobs.Response{
		Success:   true,
		Data:      data,
		Total:     len(data),
		Page:      p.Page,
		HasMore:   o.hasMore,
		QueryInfo: info,
		Cache:     o.cache,
	}
	if o.upstreamErr != nil {
		resp.QueryInfo.UpstreamError = upstreamErrorCode(o.upstreamErr)
		if m.cfg.Debug {
			resp.Debug = o.upstreamErr.Error()
		}
	}

	decisionsTotal.WithLabelValues(string(o.decision)).Inc()
	searchDuration.WithLabelValues(string(o.decision)).Observe(m.clock.Since(start).Seconds())
	logger.Debug().
		Str("decision", string(o.decision)).
		Int("results", len(data)).
		Msg("Search answered")
	return resp
}

// upstreamErrorCode is the user-safe label for an upstream failure.
func upstreamErrorCode(err error) string {
	if class := upstream.ClassOf(err); class != "" {
		return "upstream_" + string(class)
	}
	return "upstream_unavailable"
}

// Wait blocks until pending background writes have finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close waits for background writes. The Manager must not be used after.
func (m *Manager) Close() error {
	m.wg.Wait()
	return nil
}

// Purge removes cached searches whose key starts with prefix; an empty prefix
// removes all of them.
func (m *Manager) Purge(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return m.store.DeleteAll(ctx)
	}
	return m.store.DeleteByPrefix(ctx, prefix)
}

// Usage returns the current budget and the most popular queries.
func (m *Manager) Usage(ctx context.Context, top int) (usage.BudgetStatus, []usage.QueryStat, error) {
	status, err := m.ledger.NearLimit(ctx, m.cfg.NearThreshold)
	if err != nil {
		return usage.BudgetStatus{}, nil, err
	}
	popular, err := m.ledger.PopularQueries(ctx, top, 1)
	if err != nil {
		return status, nil, err
	}
	return status, popular, nil
}
