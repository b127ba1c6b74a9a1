// Package upstream is the client for the JSearch job-search API on RapidAPI.
// Every call is paced by a token bucket, guarded by a circuit breaker and
// retried on transient failures only. Each attempt that reaches the provider
// may be billed, so callers are expected to budget calls themselves.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/Sternrassler/jobfeed-client/pkg/jobs"
)

// Provider defaults.
const (
	DefaultBaseURL = "https://jsearch.p.rapidapi.com"
	DefaultHost    = "jsearch.p.rapidapi.com"

	searchPath   = "/search"
	maxBodyBytes = 8 << 20
)

// Prometheus metrics for provider calls.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobfeed_upstream_requests_total",
		Help: "Total upstream provider requests by status",
	}, []string{"status"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "jobfeed_upstream_request_duration_seconds",
		Help:    "Upstream provider search duration in seconds, retries included",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobfeed_upstream_errors_total",
		Help: "Total upstream provider errors by class",
	}, []string{"class"})

	breakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobfeed_upstream_breaker_transitions_total",
		Help: "Circuit breaker state transitions by target state",
	}, []string{"to"})
)

// BreakerConfig configures the circuit breaker around provider calls.
type BreakerConfig struct {
	Enabled          bool
	MaxRequests      uint32        // probes allowed while half-open
	Interval         time.Duration // closed-state counter reset period
	Timeout          time.Duration // open-state duration before half-open
	MinRequests      uint32
	FailureThreshold float64
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the provider, without the /search path.
	BaseURL string

	// Host sent as X-RapidAPI-Host.
	Host string

	// APIKey sent as X-RapidAPI-Key (REQUIRED).
	APIKey string

	// Timeout per HTTP attempt.
	Timeout time.Duration

	// Retry policy for transient failures.
	Retry RetryConfig

	// RequestsPerSecond paces outgoing calls; zero disables pacing.
	RequestsPerSecond float64
	Burst             int

	Breaker BreakerConfig
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(apiKey string) Config {
	return Config{
		BaseURL:           DefaultBaseURL,
		Host:              DefaultHost,
		APIKey:            apiKey,
		Timeout:           15 * time.Second,
		Retry:             DefaultRetryConfig(),
		RequestsPerSecond: 2,
		Burst:             1,
		Breaker: BreakerConfig{
			Enabled:          true,
			MaxRequests:      1,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			MinRequests:      3,
			FailureThreshold: 0.6,
		},
	}
}

// Client searches the provider.
type Client struct {
	httpClient *http.Client
	config     Config
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[*Result]
	logger     zerolog.Logger
}

// New creates a new provider client.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	c := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		config:     cfg,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger,
	}
	if cfg.Breaker.Enabled {
		c.breaker = newBreaker(cfg.Breaker, logger)
	}
	return c, nil
}

func newBreaker(cfg BreakerConfig, logger zerolog.Logger) *gobreaker.CircuitBreaker[*Result] {
	settings := gobreaker.Settings{
		Name:        "jsearch",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= cfg.MinRequests && failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			breakerTransitions.WithLabelValues(to.String()).Inc()
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !tripsBreaker(ClassOf(err))
		},
	}
	return gobreaker.NewCircuitBreaker[*Result](settings)
}

// Search runs one provider search for the normalized form of p.
func (c *Client) Search(ctx context.Context, p jobs.SearchParams) (*Result, error) {
	p = p.Normalize()
	start := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(start).Seconds())
	}()

	run := func() (*Result, error) {
		var result *Result
		err := retryWithBackoff(ctx, c.config.Retry, c.logger, func() error {
			var attemptErr error
			result, attemptErr = c.searchOnce(ctx, p)
			return attemptErr
		})
		return result, err
	}

	var (
		result *Result
		err    error
	)
	if c.breaker != nil {
		result, err = c.breaker.Execute(run)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			errorsTotal.WithLabelValues(string(ErrorClassCircuitOpen)).Inc()
			return nil, &ProviderError{
				Class:   ErrorClassCircuitOpen,
				Message: "circuit breaker open",
				Err:     err,
			}
		}
	} else {
		result, err = run()
	}
	if err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("query", p.UpstreamQuery()).
		Int("page", p.Page).
		Int("results", len(result.Jobs)).
		Int("skipped", result.Skipped).
		Str("request_id", result.RequestID).
		Msg("Upstream search completed")
	return result, nil
}

func (c *Client) searchOnce(ctx context.Context, p jobs.SearchParams) (*Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrContextCancelled, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.searchURL(p), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-RapidAPI-Key", c.config.APIKey)
	req.Header.Set("X-RapidAPI-Host", c.config.Host)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Str("query", p.UpstreamQuery()).
		Int("page", p.Page).
		Int("num_pages", p.NumPages).
		Msg("Executing upstream search")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues("network_error").Inc()
		c.logger.Error().Err(err).Msg("Upstream request failed")
		return nil, &ProviderError{Class: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues("network_error").Inc()
		return nil, &ProviderError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassNetwork,
			Message:    "read response body",
			Err:        err,
		}
	}
	requestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		class := classifyStatus(resp.StatusCode)
		errorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Warn().
			Int("status_code", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Upstream request error")
		return nil, &ProviderError{
			StatusCode: resp.StatusCode,
			Class:      class,
			Message:    errorMessage(body, resp.Status),
		}
	}

	result, err := decodeSearch(body, resp.StatusCode, c.logger)
	if err != nil {
		errorsTotal.WithLabelValues(string(ClassOf(err))).Inc()
		c.logger.Warn().Err(err).Msg("Upstream response rejected")
		return nil, err
	}
	return result, nil
}

func (c *Client) searchURL(p jobs.SearchParams) string {
	q := url.Values{}
	q.Set("query", p.UpstreamQuery())
	q.Set("page", strconv.Itoa(p.Page))
	q.Set("num_pages", strconv.Itoa(p.NumPages))
	q.Set("date_posted", p.DatePosted)
	if p.Remote {
		q.Set("remote_jobs_only", "true")
	}
	if len(p.EmploymentTypes) > 0 {
		q.Set("employment_types", strings.Join(p.EmploymentTypes, ","))
	}
	return c.config.BaseURL + searchPath + "?" + q.Encode()
}

// BreakerState returns the circuit breaker state, "disabled" without one.
func (c *Client) BreakerState() string {
	if c.breaker == nil {
		return "disabled"
	}
	return c.breaker.State().String()
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
