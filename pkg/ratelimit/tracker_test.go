package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(nil, logger, 0)
	tracker.throttle = 50 * time.Millisecond
	return tracker
}

func quotaHeaders(limit, remaining string) http.Header {
	headers := http.Header{}
	if limit != "" {
		headers.Set("X-RateLimit-Limit", limit)
	}
	if remaining != "" {
		headers.Set("X-RateLimit-Remaining", remaining)
	}
	return headers
}

func TestScope(t *testing.T) {
	a := Scope("DEMO_KEY")
	if len(a) != 12 {
		t.Errorf("Scope() length = %d, want 12", len(a))
	}
	if a != Scope("DEMO_KEY") {
		t.Error("Scope() not deterministic")
	}
	if a == Scope("OTHER_KEY") {
		t.Error("Scope() collides for different keys")
	}
}

func TestNewTracker_DefaultThreshold(t *testing.T) {
	tracker := NewTracker(nil, zerolog.Nop(), 0)
	if tracker.Threshold() != DefaultCriticalThreshold {
		t.Errorf("Threshold() = %d, want %d", tracker.Threshold(), DefaultCriticalThreshold)
	}
	tracker = NewTracker(nil, zerolog.Nop(), 12)
	if tracker.Threshold() != 12 {
		t.Errorf("Threshold() = %d, want 12", tracker.Threshold())
	}
}

func TestTracker_GetState_Default(t *testing.T) {
	tracker := newTestTracker(t)

	state, err := tracker.GetState(context.Background(), Scope("k"))
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if !state.IsHealthy {
		t.Error("Default state should be healthy")
	}
	if state.Remaining != 1000 {
		t.Errorf("Default Remaining = %d, want 1000", state.Remaining)
	}
}

func TestUpdateFromHeaders_ValidHeaders(t *testing.T) {
	tests := []struct {
		name            string
		limit           string
		remaining       string
		expectedRemain  int
		expectedLimit   int
		expectedHealthy bool
	}{
		{"healthy state", "1000", "998", 998, 1000, true},
		{"warning state", "1000", "80", 80, 1000, false},
		{"critical state", "1000", "3", 3, 1000, false},
		{"demo key", "30", "29", 29, 30, true},
		{"no limit header", "", "40", 40, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := newTestTracker(t)
			ctx := context.Background()
			scope := Scope("k")

			if err := tracker.UpdateFromHeaders(ctx, scope, quotaHeaders(tt.limit, tt.remaining)); err != nil {
				t.Fatalf("UpdateFromHeaders() error = %v", err)
			}

			state, err := tracker.GetState(ctx, scope)
			if err != nil {
				t.Fatalf("GetState() error = %v", err)
			}
			if state.Remaining != tt.expectedRemain {
				t.Errorf("Remaining = %d, want %d", state.Remaining, tt.expectedRemain)
			}
			if state.Limit != tt.expectedLimit {
				t.Errorf("Limit = %d, want %d", state.Limit, tt.expectedLimit)
			}
			if state.IsHealthy != tt.expectedHealthy {
				t.Errorf("IsHealthy = %v, want %v", state.IsHealthy, tt.expectedHealthy)
			}
		})
	}
}

func TestUpdateFromHeaders_InvalidHeaders(t *testing.T) {
	tests := []struct {
		name      string
		headers   http.Header
		wantError bool
	}{
		{"missing headers are ignored", http.Header{}, false},
		{"invalid remaining", quotaHeaders("1000", "lots"), true},
		{"invalid limit", quotaHeaders("many", "10"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := newTestTracker(t)
			err := tracker.UpdateFromHeaders(context.Background(), Scope("k"), tt.headers)
			if (err != nil) != tt.wantError {
				t.Errorf("UpdateFromHeaders() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestUpdateFromHeaders_ScopesAreIndependent(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	if err := tracker.UpdateFromHeaders(ctx, Scope("a"), quotaHeaders("1000", "1")); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}

	allowed, err := tracker.ShouldAllowRequest(ctx, Scope("b"))
	if err != nil || !allowed {
		t.Errorf("ShouldAllowRequest(b) = %v, %v; want true, nil", allowed, err)
	}
	allowed, err = tracker.ShouldAllowRequest(ctx, Scope("a"))
	if err != nil || allowed {
		t.Errorf("ShouldAllowRequest(a) = %v, %v; want false, nil", allowed, err)
	}
}

func TestShouldAllowRequest_Logic(t *testing.T) {
	tests := []struct {
		name        string
		remaining   string
		wantAllowed bool
		wantSleep   bool
	}{
		{"healthy", "900", true, false},
		{"warning", "50", true, true},
		{"critical", "4", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := newTestTracker(t)
			ctx := context.Background()
			scope := Scope("k")

			if err := tracker.UpdateFromHeaders(ctx, scope, quotaHeaders("1000", tt.remaining)); err != nil {
				t.Fatalf("UpdateFromHeaders() error = %v", err)
			}

			start := time.Now()
			allowed, err := tracker.ShouldAllowRequest(ctx, scope)
			elapsed := time.Since(start)
			if err != nil {
				t.Fatalf("ShouldAllowRequest() error = %v", err)
			}
			if allowed != tt.wantAllowed {
				t.Errorf("ShouldAllowRequest() = %v, want %v", allowed, tt.wantAllowed)
			}
			if tt.wantSleep && elapsed < 40*time.Millisecond {
				t.Errorf("expected throttle sleep, took %v", elapsed)
			}
			if !tt.wantSleep && elapsed > 40*time.Millisecond {
				t.Errorf("unexpected throttle sleep of %v", elapsed)
			}
		})
	}
}

func TestShouldAllowRequest_ThrottleHonoursContext(t *testing.T) {
	tracker := newTestTracker(t)
	tracker.throttle = time.Minute
	scope := Scope("k")

	if err := tracker.UpdateFromHeaders(context.Background(), scope, quotaHeaders("1000", "50")); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	allowed, err := tracker.ShouldAllowRequest(ctx, scope)
	if allowed {
		t.Error("ShouldAllowRequest() = true after context deadline")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ShouldAllowRequest() error = %v, want deadline exceeded", err)
	}
}

func TestTracker_Reset(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()
	scope := Scope("k")

	if err := tracker.UpdateFromHeaders(ctx, scope, quotaHeaders("1000", "0")); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}
	if err := tracker.Reset(ctx, scope); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	state, err := tracker.GetState(ctx, scope)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if !state.IsHealthy {
		t.Error("state after Reset should be the healthy default")
	}
}
