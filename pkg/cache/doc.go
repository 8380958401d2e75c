// Package cache provides an opt-in Redis cache for per-item provider results.
//
// Captions and illustrations are cached by operation, model, a digest of
// the input and the caller identity. Synthesis results are never cached
// because they depend on the whole batch.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient)
//
//	// Wrap a provider; Caption and Illustrate now consult the cache.
//	cached := cache.WrapProvider(backend, manager, cache.ProviderOptions{
//		Model: "gpt-4o-mini",
//		TTL:   24 * time.Hour,
//	})
//
// # Metrics
//
//   - pixstory_cache_hits_total{operation} - Cache hits
//   - pixstory_cache_misses_total{operation} - Cache misses
//   - pixstory_cache_errors_total{operation} - Redis or decode failures
//
// Cache failures never fail a provider call; they are logged and the call
// goes to the backend.
package cache
