package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/Sternrassler/jobfeed-client/pkg/jobs"
	"github.com/Sternrassler/jobfeed-client/pkg/usage"
)

// Prewarm skip reasons.
var (
	ErrPrewarmRunning  = errors.New("prewarm already running")
	ErrPrewarmTooSoon  = errors.New("prewarm interval has not elapsed")
	ErrPrewarmBudget   = errors.New("monthly budget too high for prewarm")
	ErrPrewarmDisabled = errors.New("prewarm is disabled")
)

// Profile is a search kept warm by the prewarmer.
type Profile struct {
	Name   string            `mapstructure:"name" json:"name"`
	Params jobs.SearchParams `mapstructure:"params" json:"params"`
}

// PrewarmConfig holds the prewarm configuration.
type PrewarmConfig struct {
	// Interval is the scheduling period and the minimum time between two
	// manually triggered runs.
	Interval time.Duration

	// Freshness is the window under which a profile is not refreshed.
	Freshness time.Duration

	// BudgetThreshold skips the run once monthly usage reaches it.
	BudgetThreshold float64

	// Delay separates consecutive upstream calls.
	Delay time.Duration

	// PopularLimit popular queries with at least PopularMinCount calls are
	// refreshed after the fixed profiles.
	PopularLimit    int
	PopularMinCount int

	Profiles []Profile
}

// DefaultPrewarmConfig returns the default prewarm configuration.
func DefaultPrewarmConfig() PrewarmConfig {
	return PrewarmConfig{
		Interval:        24 * time.Hour,
		Freshness:       24 * time.Hour,
		BudgetThreshold: usage.DefaultPrewarmThreshold,
		Delay:           time.Second,
		PopularLimit:    5,
		PopularMinCount: 3,
	}
}

// Report summarises a prewarm run.
type Report struct {
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Candidates   int       `json:"candidates"`
	AlreadyFresh int       `json:"already_fresh"`
	Refreshed    int       `json:"refreshed"`
	Failed       int       `json:"failed"`
	Calls        int       `json:"calls"`
	Remaining    int       `json:"remaining_budget"`
	StoppedEarly bool      `json:"stopped_early"`
}

// candidate is a search to refresh.
type candidate struct {
	name   string
	key    string
	params jobs.SearchParams
}

// Prewarmer refreshes anticipated-popular searches ahead of user traffic.
// Scheduled runs fire once per interval; manual runs are refused within an
// interval of the last run. With a Lock, passes never overlap across
// instances and a pass started by another instance within the interval
// makes this one skip.
type Prewarmer struct {
	manager *Manager
	cfg     PrewarmConfig
	lock    *Lock
	cron    *cron.Cron
	clock   clockwork.Clock
	logger  zerolog.Logger

	mu      sync.Mutex
	running bool
	lastRun time.Time

	// scheduled tracks passes started by Start.
	scheduled sync.WaitGroup
}

// PrewarmOption customises a Prewarmer.
type PrewarmOption func(*Prewarmer)

// WithLock makes runs take a distributed lock first.
func WithLock(lock *Lock) PrewarmOption {
	return func(p *Prewarmer) {
		p.lock = lock
	}
}

// WithPrewarmClock overrides the clock used for the interval guard and the
// delay between calls.
func WithPrewarmClock(clock clockwork.Clock) PrewarmOption {
	return func(p *Prewarmer) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithPrewarmCron injects a preconfigured cron instance, primarily for testing.
func WithPrewarmCron(c *cron.Cron) PrewarmOption {
	return func(p *Prewarmer) {
		if c != nil {
			p.cron = c
		}
	}
}

// NewPrewarmer creates a prewarmer over manager.
func NewPrewarmer(manager *Manager, cfg PrewarmConfig, logger zerolog.Logger, opts ...PrewarmOption) *Prewarmer {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPrewarmConfig().Interval
	}
	if cfg.Freshness <= 0 {
		cfg.Freshness = DefaultPrewarmConfig().Freshness
	}
	if cfg.BudgetThreshold <= 0 {
		cfg.BudgetThreshold = usage.DefaultPrewarmThreshold
	}

	p := &Prewarmer{
		manager: manager,
		cfg:     cfg,
		clock:   clockwork.NewRealClock(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cron == nil {
		p.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return p
}

// LastRun returns when the last run started, zero if none did.
func (p *Prewarmer) LastRun() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRun
}

// RunOnce performs one prewarm pass. It returns ErrPrewarmRunning,
// ErrPrewarmTooSoon, ErrLockHeld or ErrPrewarmBudget when the pass is
// skipped. Per-profile failures do not stop the pass; they are returned
// together with the report.
func (p *Prewarmer) RunOnce(ctx context.Context) (*Report, error) {
	return p.run(ctx, false)
}

// run performs a pass. Scheduled passes skip the local interval guard and
// ignore their own shared run record; the scheduler sets their cadence.
func (p *Prewarmer) run(ctx context.Context, scheduled bool) (*Report, error) {
	if err := p.begin(scheduled); err != nil {
		prewarmRuns.WithLabelValues(skipOutcome(err)).Inc()
		return nil, err
	}
	defer p.end()

	if p.lock != nil {
		release, err := p.lock.Acquire(ctx)
		if err != nil {
			prewarmRuns.WithLabelValues(skipOutcome(err)).Inc()
			return nil, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				p.logger.Warn().Err(err).Msg("Failed to release prewarm lock")
			}
		}()

		if p.sharedTooSoon(ctx, scheduled) {
			prewarmRuns.WithLabelValues(skipOutcome(ErrPrewarmTooSoon)).Inc()
			return nil, ErrPrewarmTooSoon
		}
	}

	status, err := p.manager.ledger.NearLimit(ctx, p.cfg.BudgetThreshold)
	if err != nil {
		prewarmRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("read budget: %w", err)
	}
	if status.Near {
		prewarmRuns.WithLabelValues("skipped_budget").Inc()
		p.logger.Info().
			Int("count", status.Count).
			Int("limit", status.Limit).
			Float64("threshold", p.cfg.BudgetThreshold).
			Msg("Prewarm skipped, budget threshold reached")
		return nil, ErrPrewarmBudget
	}

	report := &Report{StartedAt: p.clock.Now().UTC(), Remaining: status.Remaining()}
	p.mu.Lock()
	p.lastRun = report.StartedAt
	p.mu.Unlock()
	if p.lock != nil {
		if err := p.lock.MarkRun(ctx, report.StartedAt, 2*p.cfg.Interval); err != nil {
			p.logger.Warn().Err(err).Msg("Failed to record prewarm run")
		}
	}

	candidates := p.candidates(ctx)
	report.Candidates = len(candidates)

	var errs error
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		if report.Calls >= report.Remaining {
			report.StoppedEarly = true
			p.logger.Info().
				Int("calls", report.Calls).
				Int("remaining", report.Remaining).
				Msg("Prewarm stopped, remaining budget used")
			break
		}

		lookup, err := p.manager.store.Get(ctx, c.key, p.cfg.Freshness)
		if err != nil {
			p.logger.Warn().Err(err).Str("profile", c.name).Msg("Prewarm cache read failed, refreshing")
		}
		if lookup.Fresh {
			report.AlreadyFresh++
			continue
		}

		if report.Calls > 0 && p.cfg.Delay > 0 {
			select {
			case <-ctx.Done():
				errs = multierr.Append(errs, ctx.Err())
			case <-p.clock.After(p.cfg.Delay):
			}
			if ctx.Err() != nil {
				break
			}
		}

		reserved := false
		if p.manager.cfg.HardCap {
			if _, err := p.manager.ledger.Reserve(ctx); err != nil {
				if errors.Is(err, usage.ErrBudgetExhausted) {
					report.StoppedEarly = true
					break
				}
				p.logger.Warn().Err(err).Str("profile", c.name).Msg("Prewarm reservation failed")
			} else {
				reserved = true
			}
		}

		report.Calls++
		prewarmCalls.Inc()
		fetched, err := p.manager.fetch(ctx, c.params)
		if err != nil {
			report.Failed++
			errs = multierr.Append(errs, fmt.Errorf("profile %s: %w", c.name, err))
			p.logger.Warn().Err(err).Str("profile", c.name).Msg("Prewarm profile failed")
			continue
		}
		if err := p.manager.persist(ctx, c.key, fetched, reserved); err != nil {
			p.logger.Warn().Err(err).Str("profile", c.name).Msg("Prewarm write failed")
		}
		report.Refreshed++
		p.logger.Debug().
			Str("profile", c.name).
			Int("results", len(fetched.Jobs)).
			Msg("Prewarmed profile")
	}

	report.FinishedAt = p.clock.Now().UTC()
	outcome := "completed"
	if report.Failed > 0 {
		outcome = "partial"
	}
	prewarmRuns.WithLabelValues(outcome).Inc()
	p.logger.Info().
		Int("candidates", report.Candidates).
		Int("fresh", report.AlreadyFresh).
		Int("refreshed", report.Refreshed).
		Int("failed", report.Failed).
		Int("calls", report.Calls).
		Bool("stopped_early", report.StoppedEarly).
		Msg("Prewarm finished")

	return report, errs
}

func (p *Prewarmer) begin(scheduled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrPrewarmRunning
	}
	if !scheduled && !p.lastRun.IsZero() && p.clock.Since(p.lastRun) < p.cfg.Interval {
		return ErrPrewarmTooSoon
	}
	p.running = true
	return nil
}

// sharedTooSoon reports whether the last pass recorded under the lock
// started less than an interval ago. An unreadable record does not block.
func (p *Prewarmer) sharedTooSoon(ctx context.Context, scheduled bool) bool {
	last, own, err := p.lock.LastRun(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Shared prewarm run unavailable")
		return false
	}
	if last.IsZero() || (scheduled && own) {
		return false
	}
	return p.clock.Since(last) < p.cfg.Interval
}

func (p *Prewarmer) end() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
}

// candidates returns the fixed profiles followed by popular queries, each
// key once.
func (p *Prewarmer) candidates(ctx context.Context) []candidate {
	seen := make(map[string]bool)
	var out []candidate

	for i, prof := range p.cfg.Profiles {
		params := prof.Params.Normalize()
		if params.Query == "" {
			continue
		}
		key := CacheKey(params)
		if seen[key] {
			continue
		}
		seen[key] = true

		name := prof.Name
		if name == "" {
			name = fmt.Sprintf("profile-%d", i+1)
		}
		out = append(out, candidate{name: name, key: key, params: params})
	}

	if p.cfg.PopularLimit <= 0 {
		return out
	}
	popular, err := p.manager.ledger.PopularQueries(ctx, p.cfg.PopularLimit, p.cfg.PopularMinCount)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Popular queries unavailable, prewarming fixed profiles only")
		return out
	}

	for _, q := range popular {
		if seen[q.Key] {
			continue
		}
		params, ok := p.paramsFor(ctx, q.Key)
		if !ok {
			continue
		}
		seen[q.Key] = true
		out = append(out, candidate{name: "popular:" + q.Key, key: q.Key, params: params})
	}
	return out
}

// paramsFor recovers the search behind a popular key from its cached payload.
func (p *Prewarmer) paramsFor(ctx context.Context, key string) (jobs.SearchParams, bool) {
	lookup, err := p.manager.store.Get(ctx, key, 0)
	if err != nil || !lookup.Hit {
		p.logger.Debug().Err(err).Str("cache_key", key).Msg("Popular query has no cached params")
		return jobs.SearchParams{}, false
	}
	var cached cachedSearch
	if err := json.Unmarshal(lookup.Entry.Value, &cached); err != nil || cached.Params.Query == "" {
		return jobs.SearchParams{}, false
	}
	return cached.Params, true
}

// Start schedules a run every interval and triggers one immediately.
// Cancelling ctx aborts a running pass.
func (p *Prewarmer) Start(ctx context.Context) {
	p.cron.Schedule(cron.Every(p.cfg.Interval), cron.FuncJob(func() {
		p.runScheduled(ctx)
	}))
	p.cron.Start()

	p.scheduled.Add(1)
	go func() {
		defer p.scheduled.Done()
		p.runScheduled(ctx)
	}()
}

// Stop halts the scheduler. The returned context is done once a running
// pass has finished.
func (p *Prewarmer) Stop() context.Context {
	cronDone := p.cron.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-cronDone.Done()
		p.scheduled.Wait()
		cancel()
	}()
	return ctx
}

func (p *Prewarmer) runScheduled(ctx context.Context) {
	_, err := p.run(ctx, true)
	switch {
	case err == nil:
	case errors.Is(err, ErrPrewarmRunning), errors.Is(err, ErrPrewarmTooSoon),
		errors.Is(err, ErrLockHeld), errors.Is(err, ErrPrewarmBudget):
		p.logger.Debug().Err(err).Msg("Scheduled prewarm skipped")
	default:
		p.logger.Warn().Err(err).Msg("Scheduled prewarm finished with errors")
	}
}

func skipOutcome(err error) string {
	switch {
	case errors.Is(err, ErrPrewarmRunning):
		return "skipped_running"
	case errors.Is(err, ErrPrewarmTooSoon):
		return "skipped_interval"
	case errors.Is(err, ErrLockHeld):
		return "skipped_lock"
	default:
		return "error"
	}
}
