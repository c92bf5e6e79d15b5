// Package cache provides the bounded in-memory response store used by the shield.
//
// The store has no knowledge of HTTP routing; it keeps immutable entries
// with the following behaviour:
//
// - Lazy expiry: Get ignores stale entries but never deletes them
// - Batch eviction: when Set finds the store full, Free runs first
// - Free keeps at most Max - ceil(Max*EvictFraction) live entries
// - Survivors are the entries with the latest ExpiresAt
//
// # Basic Usage
//
//	store := cache.NewStore(cache.StoreConfig{
//		Max:           1000,
//		EvictFraction: 0.4,
//	})
//
//	store.Set("/v1/items?page=1", cache.Entry{
//		Body:        body,
//		ContentType: "application/json",
//	}, 3*time.Second)
//
//	if entry, ok := store.Get("/v1/items?page=1"); ok {
//		// serve entry.Body
//	}
//
// # Eviction
//
// A single Free run can drop more than the nominal fraction when many
// entries have already expired: expired entries are always discarded.
//
// # Metrics
//
//   - shield_cache_hits_total - Live entry lookups
//   - shield_cache_misses_total - Missing or expired lookups
//   - shield_cache_entries - Entries held after the last mutation
//   - shield_cache_evictions_total{reason} - Entries removed by Free
package cache
