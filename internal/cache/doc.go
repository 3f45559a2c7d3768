// Package cache implements the write pipeline's read-through cache
// keystore over Redis.
//
// # Tracked Invalidation
//
// Cache entries populated by a read are recorded against the table the
// read depended on:
//
//	ks.PutTracked(ctx, "users", cacheKey, payload)
//
// When the CDC consumer observes a change to that table it invalidates
// every key the namespace ever tracked in one call, getting back the
// number of data keys it removed:
//
//	deleted, err := ks.InvalidateNamespace(ctx, "users")
//
// # TTL Relationship
//
// Entries expire after EntryTTL (T_entry). The tracking set outlives
// its entries by SetTTLFactor (k, T_set = k*T_entry) so a late
// invalidation still finds the set even if every entry it names has
// already expired on its own.
package cache
