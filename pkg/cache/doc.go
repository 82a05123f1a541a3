// Package cache provides NDB response caching with a Redis backend.
//
// NDB data changes rarely (the Standard Reference is released yearly), so
// caching list pages and reports saves a large share of the hourly request
// quota. The cache manager provides:
//
// - TTL taken from Cache-Control max-age, then Expires, then a configured fallback
// - ETag / Last-Modified support for conditional requests
// - Deterministic cache keys that never contain the API key
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient)
//
//	key := cache.Key{
//		Path:   "list",
//		Params: url.Values{"lt": {"f"}, "max": {"50"}, "offset": {"0"}},
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from NDB
//	}
//
// # HTTP Response Caching
//
//	entry, err := cache.ResponseToEntry(resp, time.Hour)
//	if err != nil {
//		return err
//	}
//	if err := manager.Set(ctx, key, entry); err != nil {
//		return err
//	}
//
// # Metrics
//
//   - ndb_cache_hits_total{layer="redis"} - Cache hits
//   - ndb_cache_misses_total - Cache misses
//   - ndb_cache_size_bytes{layer="redis"} - Bytes written to and read from cache
//   - ndb_304_responses_total - Conditional request successes
//   - ndb_cache_errors_total{operation} - Cache operation errors
package cache
