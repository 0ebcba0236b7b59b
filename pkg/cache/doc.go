// Package cache stores decoded-ready upstream documents in Redis so several
// client instances can share them.
//
// Entries are keyed by resource type and ID and expire after the TTL chosen
// for that type; Redis drops them on its own once the TTL passes. Only
// successful responses are stored. A failed fetch deletes the entry so the
// next caller goes back to the upstream.
//
// # Basic Usage
//
//	// Create Redis client
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	// Create cache manager
//	manager := cache.NewManager(redisClient, metrics.Nop)
//
//	key := cache.Key{Type: "MatchDetails", ID: "EUW1_123"}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// Cache miss - fetch from upstream, then:
//		_ = manager.Set(ctx, key, cache.NewEntry(body, 10*time.Minute))
//	}
//
// # Metrics
//
// Through the configured metrics.Sink:
//
//   - cache.hits{type}, cache.misses{type}
//   - cache.errors{operation}: get, set, delete
package cache
