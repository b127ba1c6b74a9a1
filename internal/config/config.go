// Package config loads jobfeed configuration from defaults, an optional
// config.yaml, a .env file and JOBFEED_* environment variables, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Sternrassler/jobfeed-client/pkg/feed"
	"github.com/Sternrassler/jobfeed-client/pkg/logging"
	"github.com/Sternrassler/jobfeed-client/pkg/upstream"
)

// EnvPrefix prefixes every environment override, e.g. JOBFEED_BUDGET_MONTHLYLIMIT.
const EnvPrefix = "JOBFEED"

// Config is the runtime configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Budget   BudgetConfig   `mapstructure:"budget"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Prewarm  PrewarmConfig  `mapstructure:"prewarm"`
	Listings ListingsConfig `mapstructure:"listings"`
}

// AppConfig holds process-wide switches.
type AppConfig struct {
	LogLevel   string `mapstructure:"logLevel" validate:"oneof=debug info warn warning error"`
	PrettyLogs bool   `mapstructure:"prettyLogs"`

	// Debug exposes internal error detail in search responses.
	Debug bool `mapstructure:"debug"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout" validate:"gt=0"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout" validate:"gt=0"`

	// AdminRoutes serves usage, purge and prewarm over HTTP, guarded by
	// AdminToken.
	AdminRoutes bool   `mapstructure:"adminRoutes"`
	AdminToken  string `mapstructure:"adminToken" validate:"required_if=AdminRoutes true"`
}

// MinAdminTokenLength is the shortest accepted server.adminToken.
const MinAdminTokenLength = 16

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisConfig holds the Redis connection options.
type RedisConfig struct {
	Addr      string `mapstructure:"addr" validate:"required,hostname_port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db" validate:"min=0"`
	KeyPrefix string `mapstructure:"keyPrefix"`
}

// UpstreamConfig configures the job-search provider client.
type UpstreamConfig struct {
	BaseURL           string        `mapstructure:"baseURL" validate:"required,url"`
	Host              string        `mapstructure:"host" validate:"required"`
	APIKey            string        `mapstructure:"apiKey"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxAttempts       int           `mapstructure:"maxAttempts" validate:"min=1,max=10"`
	InitialBackoff    time.Duration `mapstructure:"initialBackoff" validate:"gte=0"`
	RequestsPerSecond float64       `mapstructure:"requestsPerSecond" validate:"gte=0"`
	Burst             int           `mapstructure:"burst" validate:"min=0"`
	Breaker           BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig configures the upstream circuit breaker.
type BreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	MaxRequests      uint32        `mapstructure:"maxRequests"`
	Interval         time.Duration `mapstructure:"interval" validate:"gte=0"`
	Timeout          time.Duration `mapstructure:"timeout" validate:"gte=0"`
	MinRequests      uint32        `mapstructure:"minRequests"`
	FailureThreshold float64       `mapstructure:"failureThreshold" validate:"gte=0,lte=1"`
}

// BudgetConfig configures the monthly upstream call budget.
type BudgetConfig struct {
	MonthlyLimit  int     `mapstructure:"monthlyLimit" validate:"min=1"`
	NearThreshold float64 `mapstructure:"nearThreshold" validate:"gt=0,lte=1"`
	HardCap       bool    `mapstructure:"hardCap"`
}

// CacheConfig configures freshness windows and write behaviour.
type CacheConfig struct {
	BaseTTL       time.Duration `mapstructure:"baseTTL" validate:"gt=0"`
	HotTTL        time.Duration `mapstructure:"hotTTL" validate:"gte=0"`
	HotThreshold  int           `mapstructure:"hotThreshold" validate:"min=0"`
	StaleFallback time.Duration `mapstructure:"staleFallback" validate:"gt=0"`
	AsyncWrites   bool          `mapstructure:"asyncWrites"`
	WriteTimeout  time.Duration `mapstructure:"writeTimeout" validate:"gt=0"`
}

// PrewarmConfig configures the prewarm job.
type PrewarmConfig struct {
	Enabled         bool           `mapstructure:"enabled"`
	Interval        time.Duration  `mapstructure:"interval" validate:"gt=0"`
	Freshness       time.Duration  `mapstructure:"freshness" validate:"gt=0"`
	BudgetThreshold float64        `mapstructure:"budgetThreshold" validate:"gt=0,lte=1"`
	Delay           time.Duration  `mapstructure:"delay" validate:"gte=0"`
	PopularLimit    int            `mapstructure:"popularLimit" validate:"min=0"`
	PopularMinCount int            `mapstructure:"popularMinCount" validate:"min=1"`
	DistributedLock bool           `mapstructure:"distributedLock"`
	LockTTL         time.Duration  `mapstructure:"lockTTL" validate:"gt=0"`
	Profiles        []feed.Profile `mapstructure:"profiles"`
}

// ListingsConfig configures the admin listing overlay.
type ListingsConfig struct {
	// DatabaseURL selects the Postgres source; empty uses an in-memory one.
	DatabaseURL string `mapstructure:"databaseURL"`
	Limit       int    `mapstructure:"limit" validate:"min=1,max=100"`
}

// Load reads the configuration. configFile may be empty to search the
// default locations.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/jobfeed/")
		v.AddConfigPath("$HOME/.jobfeed")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("upstream.apiKey", EnvPrefix+"_UPSTREAM_APIKEY", "RAPIDAPI_KEY"); err != nil {
		return nil, fmt.Errorf("config: bind env: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.logLevel", "info")
	v.SetDefault("app.prettyLogs", false)
	v.SetDefault("app.debug", false)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", "10s")
	v.SetDefault("server.writeTimeout", "30s")
	v.SetDefault("server.adminRoutes", false)
	v.SetDefault("server.adminToken", "")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.keyPrefix", "")

	v.SetDefault("upstream.baseURL", upstream.DefaultBaseURL)
	v.SetDefault("upstream.host", upstream.DefaultHost)
	v.SetDefault("upstream.apiKey", "")
	v.SetDefault("upstream.timeout", "15s")
	v.SetDefault("upstream.maxAttempts", 2)
	v.SetDefault("upstream.initialBackoff", "500ms")
	v.SetDefault("upstream.requestsPerSecond", 2)
	v.SetDefault("upstream.burst", 1)
	v.SetDefault("upstream.breaker.enabled", true)
	v.SetDefault("upstream.breaker.maxRequests", 1)
	v.SetDefault("upstream.breaker.interval", "1m")
	v.SetDefault("upstream.breaker.timeout", "30s")
	v.SetDefault("upstream.breaker.minRequests", 3)
	v.SetDefault("upstream.breaker.failureThreshold", 0.6)

	v.SetDefault("budget.monthlyLimit", 150)
	v.SetDefault("budget.nearThreshold", 0.9)
	v.SetDefault("budget.hardCap", false)

	v.SetDefault("cache.baseTTL", "12h")
	v.SetDefault("cache.hotTTL", "6h")
	v.SetDefault("cache.hotThreshold", 5)
	v.SetDefault("cache.staleFallback", "168h")
	v.SetDefault("cache.asyncWrites", true)
	v.SetDefault("cache.writeTimeout", "5s")

	v.SetDefault("prewarm.enabled", false)
	v.SetDefault("prewarm.interval", "24h")
	v.SetDefault("prewarm.freshness", "24h")
	v.SetDefault("prewarm.budgetThreshold", 0.8)
	v.SetDefault("prewarm.delay", "1s")
	v.SetDefault("prewarm.popularLimit", 5)
	v.SetDefault("prewarm.popularMinCount", 3)
	v.SetDefault("prewarm.distributedLock", false)
	v.SetDefault("prewarm.lockTTL", "30m")

	v.SetDefault("listings.databaseURL", "")
	v.SetDefault("listings.limit", 20)
}

var validate = validator.New()

// Validate checks field ranges and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config: validate: %w", err)
	}

	if c.Server.AdminRoutes && len(c.Server.AdminToken) < MinAdminTokenLength {
		return fmt.Errorf("config: server.adminToken must be at least %d characters", MinAdminTokenLength)
	}
	if c.Cache.HotTTL > c.Cache.BaseTTL {
		return fmt.Errorf("config: cache.hotTTL (%s) must not exceed cache.baseTTL (%s)", c.Cache.HotTTL, c.Cache.BaseTTL)
	}
	if c.Cache.StaleFallback < c.Cache.BaseTTL {
		return fmt.Errorf("config: cache.staleFallback (%s) must be at least cache.baseTTL (%s)", c.Cache.StaleFallback, c.Cache.BaseTTL)
	}
	if c.Prewarm.BudgetThreshold > c.Budget.NearThreshold {
		return fmt.Errorf("config: prewarm.budgetThreshold (%v) must not exceed budget.nearThreshold (%v)", c.Prewarm.BudgetThreshold, c.Budget.NearThreshold)
	}
	for i, p := range c.Prewarm.Profiles {
		if strings.TrimSpace(p.Params.Query) == "" {
			return fmt.Errorf("config: prewarm.profiles[%d] has no query", i)
		}
	}
	return nil
}

// AdminTokenIfEnabled returns the token guarding the HTTP admin routes, empty when
// they are disabled.
func (s ServerConfig) AdminTokenIfEnabled() string {
	if !s.AdminRoutes {
		return ""
	}
	return s.AdminToken
}

// LoggingConfig maps the app section to the logger configuration.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.App.LogLevel)
	cfg.Pretty = c.App.PrettyLogs
	return cfg
}

// UpstreamClientConfig maps the upstream section to the client configuration.
func (c *Config) UpstreamClientConfig() upstream.Config {
	u := c.Upstream
	cfg := upstream.DefaultConfig(u.APIKey)
	cfg.BaseURL = u.BaseURL
	cfg.Host = u.Host
	cfg.Timeout = u.Timeout
	cfg.Retry.MaxAttempts = u.MaxAttempts
	if u.InitialBackoff > 0 {
		cfg.Retry.InitialBackoff = u.InitialBackoff
	}
	cfg.RequestsPerSecond = u.RequestsPerSecond
	cfg.Burst = u.Burst
	cfg.Breaker = upstream.BreakerConfig{
		Enabled:          u.Breaker.Enabled,
		MaxRequests:      u.Breaker.MaxRequests,
		Interval:         u.Breaker.Interval,
		Timeout:          u.Breaker.Timeout,
		MinRequests:      u.Breaker.MinRequests,
		FailureThreshold: u.Breaker.FailureThreshold,
	}
	return cfg
}

// FeedConfig maps the cache and budget sections to the orchestrator
// configuration.
func (c *Config) FeedConfig() feed.Config {
	return feed.Config{
		BaseTTL:       c.Cache.BaseTTL,
		HotTTL:        c.Cache.HotTTL,
		HotThreshold:  c.Cache.HotThreshold,
		StaleFallback: c.Cache.StaleFallback,
		NearThreshold: c.Budget.NearThreshold,
		HardCap:       c.Budget.HardCap,
		AsyncWrites:   c.Cache.AsyncWrites,
		WriteTimeout:  c.Cache.WriteTimeout,
		Debug:         c.App.Debug,
	}
}

// PrewarmerConfig maps the prewarm section to the prewarmer configuration.
func (c *Config) PrewarmerConfig() feed.PrewarmConfig {
	p := c.Prewarm
	return feed.PrewarmConfig{
		Interval:        p.Interval,
		Freshness:       p.Freshness,
		BudgetThreshold: p.BudgetThreshold,
		Delay:           p.Delay,
		PopularLimit:    p.PopularLimit,
		PopularMinCount: p.PopularMinCount,
		Profiles:        p.Profiles,
	}
}
