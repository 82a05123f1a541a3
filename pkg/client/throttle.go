package client

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	// ErrMustNotBeZero is returned for a non-positive rate or burst.
	ErrMustNotBeZero = errors.New("must be greater than zero")

	// ErrWaitingFailed is returned when the request context ends while
	// waiting for a token.
	ErrWaitingFailed = errors.New("limiter waiting failed")
)

// throttle is an http.RoundTripper that spaces outbound calls with a token
// bucket, keeping a burst of paginated requests under the gateway's quota.
type throttle struct {
	limiter *rate.Limiter
	rps     int
	burst   int
	next    http.RoundTripper
	logger  zerolog.Logger
}

func newThrottle(rps, burst int, logger zerolog.Logger, next http.RoundTripper) (http.RoundTripper, error) {
	if rps <= 0 || burst <= 0 {
		return nil, fmt.Errorf("rps[%d] and burst[%d] %w", rps, burst, ErrMustNotBeZero)
	}
	if next == nil {
		next = http.DefaultTransport
	}

	return &throttle{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		rps:     rps,
		burst:   burst,
		next:    next,
		logger:  logger,
	}, nil
}

func (t *throttle) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()
	if err := t.limiter.Wait(r.Context()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWaitingFailed, err)
	}

	if waited := time.Since(start); waited > time.Millisecond {
		ndbThrottleWaitSeconds.Observe(waited.Seconds())
		t.logger.Debug().
			Dur("waited", waited).
			Int("rate", t.rps).
			Int("burst", t.burst).
			Str("path", r.URL.Path).
			Msg("Throttle wait complete")
	}

	return t.next.RoundTrip(r)
}
