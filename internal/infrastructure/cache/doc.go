/*
Package cache memoizes expensive suggestion results in two tiers.

The local tier is a bounded, mutex-guarded LRU keyed by content
fingerprint. The optional shared tier is Redis; it is a best-effort mirror
and its failures are logged, never returned. A shared hit is copied into
the local tier with the remaining TTL.

	c := cache.New(cache.Options{MaxEntries: 1000}, sharedStore, logger)
	key := cache.Fingerprint(content, "v3", "enhance", "formal")
	result, hit, err := cache.GetOrCompute(ctx, c, key, c.TTL(cache.TTLLong), compute)

Keys include an explicit code version so a deploy that changes behavior
invalidates old entries without a purge.
*/
package cache
