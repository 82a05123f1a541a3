package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for NDB transport operations.
var (
	ndbRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ndb_requests_total",
		Help: "Total NDB requests by endpoint and status",
	}, []string{"endpoint", "status"})

	ndbRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ndb_request_duration_seconds",
		Help:    "NDB request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	ndbErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ndb_errors_total",
		Help: "Total NDB transport errors by class",
	}, []string{"class"})

	ndbRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ndb_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	ndbRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ndb_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	ndbRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ndb_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})

	ndbThrottleWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ndb_throttle_wait_seconds",
		Help:    "Time spent waiting for the outbound request limiter",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	ndbCircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ndb_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
	}, []string{"name"})
)
