package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by layer (redis)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ndb_cache_hits_total",
			Help: "Total number of NDB cache hits",
		},
		[]string{"layer"}, // "redis"
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ndb_cache_misses_total",
			Help: "Total number of NDB cache misses",
		},
	)

	// CacheSize tracks bytes moved through the cache by layer
	CacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ndb_cache_size_bytes",
			Help: "Bytes written to and read from the NDB cache",
		},
		[]string{"layer"}, // "redis"
	)

	// NotModifiedResponses tracks 304 Not Modified responses
	NotModifiedResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ndb_304_responses_total",
			Help: "Total number of NDB 304 Not Modified responses",
		},
	)

	// ConditionalRequestsSent tracks revalidations of stale entries
	ConditionalRequestsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ndb_conditional_requests_total",
			Help: "Total number of conditional requests sent for stale entries",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ndb_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "flush"
	)
)
