// Package client provides the NDB HTTP transport with rate limiting,
// caching, retries and a circuit breaker.
package client

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

	"github.com/Sternrassler/usda-ndb-client/pkg/apierr"
	"github.com/Sternrassler/usda-ndb-client/pkg/cache"
	"github.com/Sternrassler/usda-ndb-client/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// DefaultBaseURL is the root of the NDB API.
const DefaultBaseURL = "https://api.nal.usda.gov/ndb/"

// Client is the NDB transport. It implements pagination.Fetcher.
type Client struct {
	httpClient  *http.Client
	baseURL     *url.URL
	rateLimiter *ratelimit.Tracker
	cache       *cache.Manager
	breaker     *gobreaker.CircuitBreaker
	config      Config
	logger      zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API root. Paths passed to Fetch are resolved against it.
	BaseURL string

	// Redis client for caching and rate limit state. Optional: without it
	// responses are not cached and quota state is kept in memory.
	Redis *redis.Client

	// User-Agent header sent with every request
	UserAgent string

	// Timeout bounds a single HTTP attempt
	Timeout time.Duration

	// CacheTTL is used for responses without Cache-Control or Expires headers
	CacheTTL time.Duration

	// RateLimitThreshold blocks requests when the remaining hourly quota
	// drops below it
	RateLimitThreshold int

	// Outbound throttle
	RequestsPerSecond int
	Burst             int

	// Retry
	MaxRetries     int
	InitialBackoff time.Duration

	// BreakerFailures is the number of consecutive server or network
	// failures that opens the circuit breaker
	BreakerFailures uint32

	// BreakerTimeout is how long the breaker stays open before probing
	BreakerTimeout time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(redis *redis.Client, userAgent string) Config {
	return Config{
		BaseURL:            DefaultBaseURL,
		Redis:              redis,
		UserAgent:          userAgent,
		Timeout:            30 * time.Second,
		CacheTTL:           cache.DefaultTTL,
		RateLimitThreshold: ratelimit.DefaultCriticalThreshold,
		RequestsPerSecond:  5,
		Burst:              5,
		MaxRetries:         3,
		InitialBackoff:     1 * time.Second,
		BreakerFailures:    5,
		BreakerTimeout:     30 * time.Second,
	}
}

// Validate checks the configuration.
func (cfg Config) Validate() error {
	if cfg.UserAgent == "" {
		return fmt.Errorf("user-agent is required")
	}
	if cfg.RateLimitThreshold < 1 {
		return fmt.Errorf("rate_limit_threshold must be >= 1 (got %d)", cfg.RateLimitThreshold)
	}
	if cfg.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be >= 1 (got %d)", cfg.MaxRetries)
	}
	if cfg.BreakerFailures < 1 {
		return fmt.Errorf("breaker_failures must be >= 1 (got %d)", cfg.BreakerFailures)
	}
	return nil
}

// New creates a new NDB client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url must be absolute (got %q)", cfg.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	logger := log.With().Str("component", "ndb-client").Logger()

	transport, err := newThrottle(cfg.RequestsPerSecond, cfg.Burst, logger, http.DefaultTransport)
	if err != nil {
		return nil, fmt.Errorf("throttle: %w", err)
	}

	c := &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		baseURL:     base,
		rateLimiter: ratelimit.NewTracker(cfg.Redis, logger, cfg.RateLimitThreshold),
		config:      cfg,
		logger:      logger,
	}
	if cfg.Redis != nil {
		c.cache = cache.NewManager(cfg.Redis)
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ndb",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			// Rejected requests say nothing about upstream health.
			class := classifyError(err)
			return err == nil || (class != ErrorClassServer && class != ErrorClassNetwork)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			ndbCircuitState.WithLabelValues(name).Set(float64(to))
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})
	ndbCircuitState.WithLabelValues("ndb").Set(float64(gobreaker.StateClosed))

	return c, nil
}

// Fetch performs a GET request against path with params and returns the raw
// JSON body. format=json and api_key are added to the query. Errors the API
// reports inside a 200 body are not inspected here.
//
// Fetch orchestrates quota checks, caching, conditional requests, retries
// and the circuit breaker.
func (c *Client) Fetch(ctx context.Context, path string, params url.Values, apiKey string) ([]byte, error) {
	endpoint := strings.Trim(path, "/")

	startTime := time.Now()
	defer func() {
		ndbRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	// Step 1: Check quota
	scope := ratelimit.Scope(apiKey)
	allowed, err := c.rateLimiter.ShouldAllowRequest(ctx, scope)
	if err != nil {
		c.logger.Error().Err(err).Msg("Rate limit check failed")
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if !allowed {
		c.logger.Warn().
			Str("endpoint", endpoint).
			Msg("Request blocked by rate limiter")
		ndbRequestsTotal.WithLabelValues(endpoint, "rate_limited").Inc()
		return nil, ErrRateLimited
	}

	// Step 2: Check cache
	cacheKey := cache.Key{Path: endpoint, Params: params}
	var stale *cache.Entry
	if c.cache != nil {
		entry, err := c.cache.Get(ctx, cacheKey)
		switch {
		case err == nil:
			ndbRequestsTotal.WithLabelValues(endpoint, "cache_hit").Inc()
			return entry.Data, nil
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Cache get error")
		}

		if entry, err := c.cache.GetStale(ctx, cacheKey); err == nil && cache.ShouldMakeConditionalRequest(entry) {
			stale = entry
		}
	}

	// Step 3: Build request URL
	query := make(url.Values, len(params)+2)
	for k, v := range params {
		query[k] = append([]string(nil), v...)
	}
	query.Set("format", "json")
	query.Set("api_key", apiKey)

	u := c.baseURL.ResolveReference(&url.URL{Path: endpoint})
	u.RawQuery = query.Encode()

	c.logger.Debug().
		Str("endpoint", endpoint).
		Bool("conditional", stale != nil).
		Msg("Executing NDB request")

	// Step 4: Execute with retry and breaker
	var result *cache.Entry
	err = retryWithPolicy(ctx, c.retryPolicy, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("User-Agent", c.config.UserAgent)
		req.Header.Set("Accept", "application/json")
		if stale != nil {
			cache.AddConditionalHeaders(req, stale)
			cache.ConditionalRequestsSent.Inc()
		}

		out, err := c.breaker.Execute(func() (interface{}, error) {
			return c.roundTrip(ctx, req, endpoint, scope)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				ndbRequestsTotal.WithLabelValues(endpoint, "circuit_open").Inc()
				return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
			}
			return err
		}
		result = out.(*cache.Entry)
		return nil
	}, classifyError)
	if err != nil {
		return nil, err
	}

	// Step 5: Handle 304 Not Modified
	if result.StatusCode == http.StatusNotModified && stale != nil {
		c.logger.Debug().Str("endpoint", endpoint).Msg("304 Not Modified - using cache")
		cache.NotModifiedResponses.Inc()
		if err := c.cache.UpdateTTL(ctx, cacheKey, result.Expires); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update cache TTL")
		}
		return stale.Data, nil
	}

	// Step 6: Update cache on success. Bodies carrying an API error are
	// returned but not stored.
	if c.cache != nil && result.StatusCode == http.StatusOK && result.TTL() > 0 &&
		apierr.Classify(result.Data) == nil {
		if err := c.cache.Set(ctx, cacheKey, result); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to cache response")
		} else {
			c.logger.Debug().
				Str("endpoint", endpoint).
				Dur("ttl", result.TTL()).
				Msg("Cached response")
		}
	}

	return result.Data, nil
}

// roundTrip performs one HTTP attempt. A 2xx or 304 response becomes a
// cache entry; everything else becomes a *TransportError.
func (c *Client) roundTrip(ctx context.Context, req *http.Request, endpoint, scope string) (*cache.Entry, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
		ndbErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		ndbRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, &TransportError{
			ErrorClass: ErrorClassNetwork,
			Message:    "request failed",
			Err:        err,
		}
	}
	defer resp.Body.Close()

	if err := c.rateLimiter.UpdateFromHeaders(ctx, scope, resp.Header); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
	}

	status := strconv.Itoa(resp.StatusCode)

	if resp.StatusCode == http.StatusNotModified {
		ndbRequestsTotal.WithLabelValues(endpoint, status).Inc()
		return &cache.Entry{
			StatusCode: resp.StatusCode,
			Expires:    cache.ExpiresFromHeaders(resp.Header, c.config.CacheTTL),
		}, nil
	}

	if class := classifyStatus(resp.StatusCode); class != "" {
		ndbErrorsTotal.WithLabelValues(string(class)).Inc()
		ndbRequestsTotal.WithLabelValues(endpoint, status).Inc()

		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("NDB request error")

		// The gateway reports key and quota problems as a JSON error body.
		var cause error
		var apiErr *apierr.APIError
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if errors.As(apierr.Classify(body), &apiErr) {
			cause = apiErr
		}
		return nil, &TransportError{
			StatusCode: resp.StatusCode,
			ErrorClass: class,
			Message:    resp.Status,
			Err:        cause,
		}
	}

	entry, err := cache.ResponseToEntry(resp, c.config.CacheTTL)
	if err != nil {
		ndbErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &TransportError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "read body",
			Err:        err,
		}
	}
	ndbRequestsTotal.WithLabelValues(endpoint, status).Inc()
	return entry, nil
}

// retryPolicy scales the per-class defaults by the configured initial
// backoff and caps attempts at MaxRetries.
func (c *Client) retryPolicy(class ErrorClass) RetryConfig {
	rc := RetryConfigForErrorClass(class)
	rc.MaxAttempts = c.config.MaxRetries
	if c.config.InitialBackoff > 0 {
		scale := float64(c.config.InitialBackoff) / float64(DefaultRetryConfig().InitialBackoff)
		rc.InitialBackoff = time.Duration(float64(rc.InitialBackoff) * scale)
		rc.MaxBackoff = time.Duration(float64(rc.MaxBackoff) * scale)
	}
	return rc
}

// Close releases idle connections. The Redis client belongs to the caller.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Cache returns the cache manager, or nil when running without Redis.
func (c *Client) Cache() *cache.Manager {
	return c.cache
}

// RateLimiter returns the quota tracker.
func (c *Client) RateLimiter() *ratelimit.Tracker {
	return c.rateLimiter
}

// BreakerState returns the current circuit breaker state.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}
