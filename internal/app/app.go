// Package app wires the jobfeed components from a loaded configuration.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/Sternrassler/jobfeed-client/internal/config"
	"github.com/Sternrassler/jobfeed-client/pkg/cache"
	"github.com/Sternrassler/jobfeed-client/pkg/feed"
	"github.com/Sternrassler/jobfeed-client/pkg/jobs"
	"github.com/Sternrassler/jobfeed-client/pkg/listings"
	"github.com/Sternrassler/jobfeed-client/pkg/upstream"
	"github.com/Sternrassler/jobfeed-client/pkg/usage"
)

// App holds the wired components of one process.
type App struct {
	Config    *config.Config
	Redis     *redis.Client
	Store     *cache.Store
	Ledger    *usage.Ledger
	Upstream  *upstream.Client
	Listings  listings.Store
	Manager   *feed.Manager
	Prewarmer *feed.Prewarmer

	pool      *pgxpool.Pool
	ownsRedis bool
}

// Option customises New.
type Option func(*options)

type options struct {
	redis *redis.Client
}

// WithRedis reuses an existing Redis client instead of dialing cfg.Redis.
// The caller keeps ownership of the client.
func WithRedis(client *redis.Client) Option {
	return func(o *options) {
		o.redis = client
	}
}

// New connects to Redis (and Postgres when configured) and builds the
// search stack. The upstream client is only required for searching; a
// missing API key is logged and leaves searches failing softly.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Redis: o.redis, ownsRedis: o.redis == nil}
	if a.ownsRedis {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unreachable, searches will bypass the cache")
		}
	}

	prefix := cfg.Redis.KeyPrefix
	a.Store = cache.NewStore(a.Redis, cache.WithPrefix(prefix+cache.DefaultPrefix))
	a.Ledger = usage.NewLedger(a.Redis, cfg.Budget.MonthlyLimit,
		logger.With().Str("component", "usage").Logger(),
		usage.WithPrefix(prefix+usage.DefaultPrefix))

	client, err := upstream.New(cfg.UpstreamClientConfig(), logger.With().Str("component", "upstream").Logger())
	if err != nil {
		logger.Warn().Err(err).Msg("Upstream client disabled")
	}
	a.Upstream = client

	if cfg.Listings.DatabaseURL != "" {
		pool, err := listings.Connect(ctx, cfg.Listings.DatabaseURL)
		if err != nil {
			a.closeRedis()
			return nil, fmt.Errorf("connect listings database: %w", err)
		}
		if err := listings.EnsureSchema(ctx, pool, logger); err != nil {
			pool.Close()
			a.closeRedis()
			return nil, err
		}
		a.pool = pool
		a.Listings = listings.NewPostgresSource(pool, cfg.Listings.Limit, logger.With().Str("component", "listings").Logger())
	} else {
		a.Listings = listings.NewStaticSource(cfg.Listings.Limit)
	}

	var searcher feed.Searcher = unavailable{}
	if client != nil {
		searcher = client
	}
	a.Manager = feed.NewManager(a.Store, a.Ledger, searcher, cfg.FeedConfig(),
		logger.With().Str("component", "feed").Logger(),
		feed.WithListings(a.Listings))

	var prewarmOpts []feed.PrewarmOption
	if cfg.Prewarm.DistributedLock {
		prewarmOpts = append(prewarmOpts, feed.WithLock(feed.NewLock(a.Redis, prefix+feed.DefaultLockKey, cfg.Prewarm.LockTTL)))
	}
	a.Prewarmer = feed.NewPrewarmer(a.Manager, cfg.PrewarmerConfig(),
		logger.With().Str("component", "prewarm").Logger(), prewarmOpts...)
	return a, nil
}

// Close waits for pending writes and releases connections.
func (a *App) Close() error {
	var errs error
	if a.Manager != nil {
		errs = multierr.Append(errs, a.Manager.Close())
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.ownsRedis {
		errs = multierr.Append(errs, a.Redis.Close())
	}
	return errs
}

func (a *App) closeRedis() {
	if a.ownsRedis {
		_ = a.Redis.Close()
	}
}

// unavailable stands in for the upstream client when it could not be built.
type unavailable struct{}

func (unavailable) Search(context.Context, jobs.SearchParams) (*upstream.Result, error) {
	return nil, upstream.ErrMissingAPIKey
}
