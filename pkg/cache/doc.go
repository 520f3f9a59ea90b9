// Package cache stores reference responses (heroes, items, constants) in Redis
// so repeated snapshots do not spend the provider's request budget.
//
// Entries outlive their freshness window by a retention period. A fresh entry
// is served without a request; a stale entry with an ETag or Last-Modified is
// revalidated with a conditional request and refreshed on 304.
//
//	manager := cache.NewManager(redisClient, cache.DefaultRetention)
//	key := cache.CacheKey{Provider: "opendota", Endpoint: "/heroes"}
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the API
//	}
//
// Credential query parameters never become part of a key.
package cache
