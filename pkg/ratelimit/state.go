// Package ratelimit tracks the api.data.gov hourly request quota and gates
// requests before it runs out. It reads the X-RateLimit-Limit and
// X-RateLimit-Remaining headers of every response; the state is shared
// across processes through Redis, or kept in memory when no Redis is
// configured.
package ratelimit

import (
	"time"
)

// Redis key layout for rate limit state storage. Each API key gets its own
// hash, addressed by Scope(apiKey).
const (
	RedisKeyPrefix = "ndb:rate_limit:"

	fieldRemaining  = "remaining"
	fieldLimit      = "limit"
	fieldLastUpdate = "last_update"
)

// Window is the length of the upstream quota window. api.data.gov uses a
// rolling hour.
const Window = time.Hour

// Thresholds for rate limit decisions.
const (
	// DefaultCriticalThreshold blocks all requests when fewer requests than
	// this remain in the window.
	DefaultCriticalThreshold = 5

	// WarningRatio applies throttling when the remaining share of the limit
	// falls below it.
	WarningRatio = 0.10

	// HealthyRatio indicates normal operation at or above this share.
	HealthyRatio = 0.50
)

// RateLimitState is the quota state of one API key.
type RateLimitState struct {
	// Remaining is the number of requests left in the current window.
	// Extracted from the X-RateLimit-Remaining header.
	Remaining int `json:"remaining"`

	// Limit is the number of requests allowed per window, 0 if unknown.
	// Extracted from the X-RateLimit-Limit header.
	Limit int `json:"limit"`

	// LastUpdate is the timestamp when this state was last updated.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy indicates whether at least HealthyRatio of the limit remains.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state data is older than the given duration.
func (s *RateLimitState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if requests should be blocked.
func (s *RateLimitState) NeedsCriticalBlock(threshold int) bool {
	return s.Remaining < threshold
}

// NeedsThrottling returns true if requests should be slowed down. It needs
// a known limit.
func (s *RateLimitState) NeedsThrottling(threshold int) bool {
	if s.Limit <= 0 || s.NeedsCriticalBlock(threshold) {
		return false
	}
	return float64(s.Remaining) < float64(s.Limit)*WarningRatio
}

// ResetAt estimates when the quota will be fully restored. The rolling
// window gives no exact reset time, so this is one window after the last
// observed response.
func (s *RateLimitState) ResetAt() time.Time {
	return s.LastUpdate.Add(Window)
}

// TimeUntilReset returns the duration until ResetAt.
// Returns 0 if the reset time has already passed.
func (s *RateLimitState) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt())
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates the IsHealthy field based on Remaining and Limit.
func (s *RateLimitState) UpdateHealth() {
	if s.Limit <= 0 {
		s.IsHealthy = s.Remaining >= DefaultCriticalThreshold
		return
	}
	s.IsHealthy = float64(s.Remaining) >= float64(s.Limit)*HealthyRatio
}
