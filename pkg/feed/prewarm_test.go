package feed

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/Sternrassler/jobfeed-client/internal/testutil"
	"github.com/Sternrassler/jobfeed-client/pkg/jobs"
)

func profiles(queries ...string) []Profile {
	out := make([]Profile, len(queries))
	for i, q := range queries {
		out[i] = Profile{Name: q, Params: jobs.SearchParams{Query: q}}
	}
	return out
}

func newTestPrewarmer(f *fixture, mutate func(*PrewarmConfig), opts ...PrewarmOption) *Prewarmer {
	cfg := DefaultPrewarmConfig()
	cfg.Delay = 0
	cfg.PopularLimit = 0
	if mutate != nil {
		mutate(&cfg)
	}
	opts = append([]PrewarmOption{WithPrewarmClock(f.clock)}, opts...)
	return NewPrewarmer(f.manager, cfg, zerolog.Nop(), opts...)
}

func TestPrewarmer_RunOnce_RefreshesProfiles(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	p := newTestPrewarmer(f, func(c *PrewarmConfig) {
		c.Profiles = profiles("software developer", "data analyst", "nurse")
	})

	report, err := p.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Candidates)
	assert.Equal(t, 3, report.Refreshed)
	assert.Equal(t, 3, report.Calls)
	assert.Equal(t, 150, report.Remaining)
	assert.False(t, report.StoppedEarly)
	assert.Equal(t, testEpoch, p.LastRun())

	for _, q := range []string{"software developer", "data analyst", "nurse"} {
		lookup, err := f.store.Get(ctx, CacheKey(jobs.SearchParams{Query: q}), time.Hour)
		require.NoError(t, err)
		assert.True(t, lookup.Fresh, q)
	}

	count, err := f.ledger.MonthlyCount(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// A user search right after is a cache hit.
	resp, err := f.manager.Search(ctx, jobs.SearchParams{Query: "nurse"})
	require.NoError(t, err)
	assert.True(t, resp.Cache.Hit)
	assert.Equal(t, 3, f.mock.RequestCount())
}

func TestPrewarmer_RunOnce_Interval(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	p := newTestPrewarmer(f, func(c *PrewarmConfig) {
		c.Profiles = profiles("go", "rust")
	})

	_, err := p.RunOnce(ctx)
	require.NoError(t, err)

	_, err = p.RunOnce(ctx)
	assert.ErrorIs(t, err, ErrPrewarmTooSoon)

	f.clock.Advance(25 * time.Hour)
	report, err := p.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Refreshed, "entries older than the freshness window are refreshed")
	assert.Equal(t, 4, f.mock.RequestCount())
}

func TestPrewarmer_RunOnce_SkipsFreshProfiles(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	p := newTestPrewarmer(f, func(c *PrewarmConfig) {
		c.Interval = time.Hour
		c.Profiles = profiles("go", "rust", "go")
	})

	first, err := p.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Candidates, "duplicate profiles collapse")

	f.clock.Advance(2 * time.Hour)
	second, err := p.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, second.AlreadyFresh)
	assert.Equal(t, 0, second.Calls)
	assert.Equal(t, 2, f.mock.RequestCount())
}

func TestPrewarmer_RunOnce_BudgetSkip(t *testing.T) {
	f := newFixture(t, fixtureOptions{limit: 10})
	p := newTestPrewarmer(f, func(c *PrewarmConfig) {
		c.Profiles = profiles("go")
	})
	f.spend(t, 8) // floor(10*0.8) = 8

	report, err := p.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrPrewarmBudget)
	assert.Nil(t, report)
	assert.Equal(t, 0, f.mock.RequestCount())
	assert.True(t, p.LastRun().IsZero(), "a budget skip does not count as a run")
}

func TestPrewarmer_RunOnce_StopsAtRemainingBudget(t *testing.T) {
	f := newFixture(t, fixtureOptions{limit: 10})
	p := newTestPrewarmer(f, func(c *PrewarmConfig) {
		c.Profiles = profiles("a", "b", "c", "d", "e", "f")
	})
	f.spend(t, 6)

	report, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, report.Candidates)
	assert.Equal(t, 4, report.Calls)
	assert.Equal(t, 4, report.Refreshed)
	assert.True(t, report.StoppedEarly)
	assert.Equal(t, 4, f.mock.RequestCount())
}

func TestPrewarmer_RunOnce_ContinuesAfterFailure(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.mock.SetHandler(testutil.SearchPath, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("query") == "rust" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(testutil.SearchBody(testutil.MockJob{ID: r.URL.Query().Get("query")})))
	})
	p := newTestPrewarmer(f, func(c *PrewarmConfig) {
		c.Profiles = profiles("go", "rust", "python")
	})

	report, err := p.RunOnce(context.Background())
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 1)
	assert.Contains(t, err.Error(), "rust")

	require.NotNil(t, report)
	assert.Equal(t, 3, report.Calls)
	assert.Equal(t, 2, report.Refreshed)
	assert.Equal(t, 1, report.Failed)

	count, err := f.ledger.MonthlyCount(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "failed calls are not recorded")
}

func TestPrewarmer_RunOnce_AlreadyRunning(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := newTestPrewarmer(f, func(c *PrewarmConfig) {
		c.Delay = time.Second
		c.Profiles = profiles("go", "rust")
	})

	done := make(chan error, 1)
	go func() {
		_, err := p.RunOnce(ctx)
		done <- err
	}()

	// The first pass parks on the delay before its second call.
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	_, err := p.RunOnce(ctx)
	assert.ErrorIs(t, err, ErrPrewarmRunning)

	f.clock.Advance(time.Second)
	require.NoError(t, <-done)
	assert.Equal(t, 2, f.mock.RequestCount())
}

func TestPrewarmer_RunOnce_PopularQueries(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	params := jobs.SearchParams{Query: "go", Location: "berlin"}

	for i := 0; i < 3; i++ {
		_, err := f.manager.Purge(ctx, "")
		require.NoError(t, err)
		_, err = f.manager.Search(ctx, params)
		require.NoError(t, err)
		f.manager.Wait()
	}
	require.Equal(t, 3, f.mock.RequestCount())

	// Popular but never cached, so its params are unknown.
	for i := 0; i < 3; i++ {
		_, err := f.ledger.RecordCall(ctx, CacheKey(jobs.SearchParams{Query: "unknown"}))
		require.NoError(t, err)
	}

	f.clock.Advance(25 * time.Hour)
	p := newTestPrewarmer(f, func(c *PrewarmConfig) {
		c.PopularLimit = 5
		c.PopularMinCount = 3
	})

	report, err := p.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Candidates)
	assert.Equal(t, 1, report.Refreshed)
	assert.Equal(t, 4, f.mock.RequestCount())
	assert.Equal(t, "go in berlin", f.mock.LastQuery()["query"])
}

func TestPrewarmer_RunOnce_LockHeld(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	other := NewLock(f.redis, "", time.Minute)
	release, err := other.Acquire(ctx)
	require.NoError(t, err)

	p := newTestPrewarmer(f, func(c *PrewarmConfig) {
		c.Profiles = profiles("go")
	}, WithLock(NewLock(f.redis, "", time.Minute)))

	_, err = p.RunOnce(ctx)
	assert.ErrorIs(t, err, ErrLockHeld)
	assert.Equal(t, 0, f.mock.RequestCount())

	require.NoError(t, release(ctx))
	_, err = p.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.mock.RequestCount())

	_, err = other.Acquire(ctx)
	assert.NoError(t, err, "lock is released after the run")
}

func TestPrewarmer_StartStop(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	p := newTestPrewarmer(f, func(c *PrewarmConfig) {
		c.Profiles = profiles("go")
	})

	p.Start(ctx)
	key := CacheKey(jobs.SearchParams{Query: "go"})
	require.Eventually(t, func() bool {
		lookup, err := f.store.Get(ctx, key, time.Hour)
		return err == nil && lookup.Fresh
	}, 2*time.Second, 10*time.Millisecond)

	stopped := p.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, 1, f.mock.RequestCount())
}

func TestPrewarmer_Start_RunsOnEveryTick(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.mock.SetSearchResponse(testutil.NewServerErrorResponse())
	p := newTestPrewarmer(f, func(c *PrewarmConfig) {
		c.Interval = time.Second
		c.Profiles = profiles("go")
	})

	// Failed refreshes leave nothing cached, so every pass calls upstream.
	p.Start(context.Background())
	t.Cleanup(func() { <-p.Stop().Done() })

	assert.Eventually(t, func() bool {
		return f.mock.RequestCount() >= 3
	}, 5*time.Second, 20*time.Millisecond, "the startup pass and two ticks should each run")
}

func TestPrewarmer_Stop_WaitsForRunningPass(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	entered := make(chan struct{}, 1)
	unblock := make(chan struct{})
	f.mock.SetHandler(testutil.SearchPath, func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		<-unblock
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(testutil.SearchBody(testutil.MockJob{ID: "go-1"})))
	})
	p := newTestPrewarmer(f, func(c *PrewarmConfig) {
		c.Profiles = profiles("go")
	})

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(context.WithoutCancel(ctx))

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("startup pass did not reach upstream")
	}
	cancel()
	stopped := p.Stop()

	select {
	case <-stopped.Done():
		t.Fatal("Stop returned before the pass finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(unblock)
	select {
	case <-stopped.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the pass finished")
	}

	lookup, err := f.store.Get(context.Background(), CacheKey(jobs.SearchParams{Query: "go"}), time.Hour)
	require.NoError(t, err)
	assert.True(t, lookup.Fresh, "the pass ran to completion")
}

func TestPrewarmer_RunOnce_SharedInterval(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	mutate := func(c *PrewarmConfig) {
		c.Profiles = profiles("go")
	}
	first := newTestPrewarmer(f, mutate, WithLock(NewLock(f.redis, "", time.Minute)))
	second := newTestPrewarmer(f, mutate, WithLock(NewLock(f.redis, "", time.Minute)))

	_, err := first.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.mock.RequestCount())

	_, err = second.RunOnce(ctx)
	assert.ErrorIs(t, err, ErrPrewarmTooSoon, "another instance ran within the interval")
	_, err = second.run(ctx, true)
	assert.ErrorIs(t, err, ErrPrewarmTooSoon, "scheduled runs also honour other instances")

	report, err := first.run(ctx, true)
	require.NoError(t, err, "scheduled runs ignore their own record")
	assert.Equal(t, 1, report.AlreadyFresh)

	f.clock.Advance(25 * time.Hour)
	report, err = second.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Refreshed)
	assert.Equal(t, 2, f.mock.RequestCount())
}
