// Package metrics exposes the Prometheus metrics of the NDB client.
// The metrics are defined in their respective packages (pagination, client,
// cache, ratelimit) and registered via promauto; importing this package
// makes sure all of them are registered before Handler is served.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	_ "github.com/Sternrassler/usda-ndb-client/pkg/cache"
	_ "github.com/Sternrassler/usda-ndb-client/pkg/client"
	_ "github.com/Sternrassler/usda-ndb-client/pkg/pagination"
	_ "github.com/Sternrassler/usda-ndb-client/pkg/ratelimit"
)

// Registry is the default Prometheus registry used by the NDB client.
var Registry = prometheus.DefaultRegisterer

// Handler returns the HTTP handler serving all registered metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes Handler at /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Serving metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Metrics Documentation
//
// Pagination Metrics (pkg/pagination):
//   - ndb_pages_fetched_total{endpoint} (Counter): Pages fetched by paginators
//   - ndb_items_yielded_total{endpoint} (Counter): Raw records yielded
//   - ndb_paginators_exhausted_total{endpoint} (Counter): Short pages that ended a walk
//   - ndb_batch_chunks_total{result} (Counter): Batch chunks by result
//
// Rate Limit Metrics (pkg/ratelimit):
//   - ndb_rate_limit_remaining{scope} (Gauge): Requests left in the hourly window
//   - ndb_rate_limit_blocks_total (Counter): Requests blocked on a critical quota
//   - ndb_rate_limit_throttles_total (Counter): Requests delayed on a low quota
//
// Cache Metrics (pkg/cache):
//   - ndb_cache_hits_total{layer="redis"} (Counter): Cache hits by layer
//   - ndb_cache_misses_total (Counter): Cache misses
//   - ndb_cache_size_bytes{layer="redis"} (Gauge): Bytes moved through the cache
//   - ndb_304_responses_total (Counter): 304 Not Modified responses
//   - ndb_conditional_requests_total (Counter): Revalidations of stale entries
//   - ndb_cache_errors_total{operation} (Counter): Cache operation errors
//
// Request Metrics (pkg/client):
//   - ndb_requests_total{endpoint, status} (Counter): Requests by endpoint and outcome
//   - ndb_request_duration_seconds{endpoint} (Histogram): Fetch duration by endpoint
//   - ndb_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//   - ndb_retries_total{error_class} (Counter): Retry attempts by error class
//   - ndb_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - ndb_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//   - ndb_throttle_wait_seconds (Histogram): Time spent in the outbound limiter
//   - ndb_circuit_breaker_state{name} (Gauge): 0=closed, 1=half-open, 2=open
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(ndb_cache_hits_total[5m])) /
//   (sum(rate(ndb_cache_hits_total[5m])) + sum(rate(ndb_cache_misses_total[5m])))
//
//   # Quota Status
//   ndb_rate_limit_remaining < 100
//
//   # Items per page fetched
//   rate(ndb_items_yielded_total[5m]) / rate(ndb_pages_fetched_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(ndb_request_duration_seconds_bucket[5m]))
