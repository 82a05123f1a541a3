package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	ndbRateLimitRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ndb_rate_limit_remaining",
		Help: "Requests remaining in the current api.data.gov quota window",
	}, []string{"scope"})

	ndbRateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ndb_rate_limit_blocks_total",
		Help: "Total number of requests blocked because the quota is nearly exhausted",
	})

	ndbRateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ndb_rate_limit_throttles_total",
		Help: "Total number of requests throttled because the quota is running low",
	})
)

// Scope derives the state key of an API key. The key itself is never
// stored.
func Scope(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:6])
}

// Tracker monitors api.data.gov quotas and gates requests.
type Tracker struct {
	redis     *redis.Client
	logger    zerolog.Logger
	threshold int
	throttle  time.Duration

	mu    sync.Mutex
	local map[string]RateLimitState
}

// NewTracker creates a new rate limit tracker. A nil redisClient keeps the
// state in memory. threshold <= 0 selects DefaultCriticalThreshold.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger, threshold int) *Tracker {
	if threshold <= 0 {
		threshold = DefaultCriticalThreshold
	}
	return &Tracker{
		redis:     redisClient,
		logger:    logger,
		threshold: threshold,
		throttle:  1 * time.Second,
		local:     make(map[string]RateLimitState),
	}
}

// Threshold returns the critical threshold in use.
func (t *Tracker) Threshold() int {
	return t.threshold
}

func defaultState() *RateLimitState {
	// Assume healthy until we get real data
	return &RateLimitState{
		Remaining:  1000,
		Limit:      1000,
		LastUpdate: time.Now(),
		IsHealthy:  true,
	}
}

// GetState retrieves the current rate limit state of scope.
// Returns a default healthy state if nothing has been recorded yet.
func (t *Tracker) GetState(ctx context.Context, scope string) (*RateLimitState, error) {
	if t.redis == nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		state, ok := t.local[scope]
		if !ok {
			return defaultState(), nil
		}
		return &state, nil
	}

	fields, err := t.redis.HGetAll(ctx, RedisKeyPrefix+scope).Result()
	if err != nil {
		return nil, fmt.Errorf("get rate limit state: %w", err)
	}
	if len(fields) == 0 {
		t.logger.Debug().Str("scope", scope).Msg("No rate limit state in Redis, returning default healthy state")
		return defaultState(), nil
	}

	state := &RateLimitState{}
	if state.Remaining, err = strconv.Atoi(fields[fieldRemaining]); err != nil {
		return nil, fmt.Errorf("parse remaining: %w", err)
	}
	if v := fields[fieldLimit]; v != "" {
		if state.Limit, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("parse limit: %w", err)
		}
	}
	if v := fields[fieldLastUpdate]; v != "" {
		unix, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
		state.LastUpdate = time.Unix(0, unix)
	}
	state.UpdateHealth()

	return state, nil
}

// UpdateFromHeaders parses api.data.gov rate limit headers and records the
// state of scope. Responses without the headers are ignored.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, scope string, headers http.Header) error {
	remainStr := headers.Get("X-RateLimit-Remaining")
	if remainStr == "" {
		// Cached or proxied responses may not carry the headers
		return nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse X-RateLimit-Remaining header: %w", err)
	}

	var limit int
	if limitStr := headers.Get("X-RateLimit-Limit"); limitStr != "" {
		if limit, err = strconv.Atoi(limitStr); err != nil {
			return fmt.Errorf("parse X-RateLimit-Limit header: %w", err)
		}
	}

	state := RateLimitState{
		Remaining:  remain,
		Limit:      limit,
		LastUpdate: time.Now(),
	}
	state.UpdateHealth()

	if err := t.store(ctx, scope, state); err != nil {
		return err
	}

	ndbRateLimitRemaining.WithLabelValues(scope).Set(float64(remain))

	switch {
	case state.NeedsCriticalBlock(t.threshold):
		t.logger.Error().
			Str("scope", scope).
			Int("remaining", remain).
			Int("limit", limit).
			Msg("NDB quota CRITICAL - requests will be blocked")
	case state.NeedsThrottling(t.threshold):
		t.logger.Warn().
			Str("scope", scope).
			Int("remaining", remain).
			Int("limit", limit).
			Msg("NDB quota WARNING - requests will be throttled")
	default:
		t.logger.Debug().
			Str("scope", scope).
			Int("remaining", remain).
			Int("limit", limit).
			Bool("is_healthy", state.IsHealthy).
			Msg("NDB quota state updated")
	}

	return nil
}

func (t *Tracker) store(ctx context.Context, scope string, state RateLimitState) error {
	if t.redis == nil {
		t.mu.Lock()
		t.local[scope] = state
		t.mu.Unlock()
		return nil
	}

	key := RedisKeyPrefix + scope
	pipe := t.redis.TxPipeline()
	pipe.HSet(ctx, key,
		fieldRemaining, state.Remaining,
		fieldLimit, state.Limit,
		fieldLastUpdate, state.LastUpdate.UnixNano(),
	)
	// The quota restores itself after one window without traffic
	pipe.Expire(ctx, key, Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}
	return nil
}

// ShouldAllowRequest checks if a request for scope should be allowed.
// Returns false if the quota is critically low. Returns true but may sleep
// for throttling if in warning state; the sleep ends early with the
// context's error if ctx is cancelled.
func (t *Tracker) ShouldAllowRequest(ctx context.Context, scope string) (bool, error) {
	state, err := t.GetState(ctx, scope)
	if err != nil {
		return false, fmt.Errorf("get rate limit state: %w", err)
	}

	if state.NeedsCriticalBlock(t.threshold) {
		t.logger.Error().
			Str("scope", scope).
			Int("remaining", state.Remaining).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("NDB quota critical - blocking request")

		ndbRateLimitBlocksTotal.Inc()
		return false, nil
	}

	if state.NeedsThrottling(t.threshold) {
		t.logger.Warn().
			Str("scope", scope).
			Int("remaining", state.Remaining).
			Msg("NDB quota warning - throttling request")

		ndbRateLimitThrottlesTotal.Inc()
		timer := time.NewTimer(t.throttle)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}
	}

	return true, nil
}

// Reset forgets the recorded state of scope.
func (t *Tracker) Reset(ctx context.Context, scope string) error {
	if t.redis == nil {
		t.mu.Lock()
		delete(t.local, scope)
		t.mu.Unlock()
		return nil
	}
	if err := t.redis.Del(ctx, RedisKeyPrefix+scope).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("reset rate limit state: %w", err)
	}
	return nil
}
