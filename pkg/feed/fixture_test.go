package feed

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/jobfeed-client/internal/testutil"
	"github.com/Sternrassler/jobfeed-client/pkg/cache"
	"github.com/Sternrassler/jobfeed-client/pkg/listings"
	"github.com/Sternrassler/jobfeed-client/pkg/upstream"
	"github.com/Sternrassler/jobfeed-client/pkg/usage"
)

var testEpoch = time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

type fixture struct {
	mock     *testutil.MockJSearch
	redis    *redis.Client
	server   *miniredis.Miniredis
	clock    *clockwork.FakeClock
	store    *cache.Store
	ledger   *usage.Ledger
	listings *listings.StaticSource
	manager  *Manager
}

type fixtureOptions struct {
	limit    int
	attempts int
	config   func(*Config)
	listings bool
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()

	if opts.limit == 0 {
		opts.limit = 150
	}

	mock := testutil.NewMockJSearch()
	t.Cleanup(mock.Close)

	ucfg := upstream.DefaultConfig("test-key")
	ucfg.BaseURL = mock.URL()
	ucfg.RequestsPerSecond = 0
	ucfg.Retry = upstream.RetryConfig{MaxAttempts: max(opts.attempts, 1), InitialBackoff: time.Millisecond}
	ucfg.Breaker.Enabled = false
	client, err := upstream.New(ucfg, zerolog.Nop())
	require.NoError(t, err)

	rdb, server := testutil.NewRedis(t)
	clock := clockwork.NewFakeClockAt(testEpoch)

	f := &fixture{
		mock:   mock,
		redis:  rdb,
		server: server,
		clock:  clock,
		store:  cache.NewStore(rdb, cache.WithClock(clock)),
		ledger: usage.NewLedger(rdb, opts.limit, zerolog.Nop(), usage.WithClock(clock)),
	}

	cfg := DefaultConfig()
	if opts.config != nil {
		opts.config(&cfg)
	}

	managerOpts := []Option{WithClock(clock)}
	if opts.listings {
		f.listings = listings.NewStaticSource(0)
		managerOpts = append(managerOpts, WithListings(f.listings))
	}

	f.manager = NewManager(f.store, f.ledger, client, cfg, zerolog.Nop(), managerOpts...)
	t.Cleanup(func() { _ = f.manager.Close() })
	return f
}

// spend records n keyless upstream calls.
func (f *fixture) spend(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := f.ledger.RecordCall(t.Context(), "")
		require.NoError(t, err)
	}
}
