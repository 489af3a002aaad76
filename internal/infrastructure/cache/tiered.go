package cache

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL = 10 * time.Minute
	ShortTTL   = time.Minute
	LongTTL    = time.Hour
)

// TTLClass selects a TTL by how expensive a result is to recompute
type TTLClass int

const (
	TTLDefault TTLClass = iota
	TTLShort
	TTLLong
)

// Options configures a Tiered cache
type Options struct {
	MaxEntries int
	DefaultTTL time.Duration
	ShortTTL   time.Duration
	LongTTL    time.Duration
	Clock      func() time.Time
	Observer   Observer
}

// Tiered fronts an optional shared store with a local LRU
type Tiered struct {
	local    *LRU
	shared   SharedStore
	opts     Options
	logger   *zap.Logger
	observer Observer
	stats    Stats
	group    singleflight.Group
}

// New creates a cache. shared may be nil for local-only caching.
func New(opts Options, shared SharedStore, logger *zap.Logger) *Tiered {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.ShortTTL <= 0 {
		opts.ShortTTL = ShortTTL
	}
	if opts.LongTTL <= 0 {
		opts.LongTTL = LongTTL
	}
	if opts.Observer == nil {
		opts.Observer = NoopObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Tiered{
		local:    NewLRU(opts.MaxEntries, opts.Clock),
		shared:   shared,
		opts:     opts,
		logger:   logger,
		observer: opts.Observer,
	}
	c.local.OnEvict(func(key string, reason EvictReason) {
		if reason == EvictCapacity {
			c.stats.evictions.Add(1)
		} else {
			c.stats.expirations.Add(1)
		}
		c.observer.Eviction(reason)
	})
	return c
}

// TTL returns the configured duration for class
func (c *Tiered) TTL(class TTLClass) time.Duration {
	switch class {
	case TTLShort:
		return c.opts.ShortTTL
	case TTLLong:
		return c.opts.LongTTL
	default:
		return c.opts.DefaultTTL
	}
}

// HasShared reports whether a shared tier is configured
func (c *Tiered) HasShared() bool {
	return c.shared != nil
}

// Get checks the local tier, then the shared tier
func (c *Tiered) Get(ctx context.Context, key string) ([]byte, bool) {
	if entry, ok := c.local.Get(key); ok {
		c.stats.hits.Add(1)
		c.observer.Hit(TierLocal)
		return entry.Value, true
	}

	if c.shared != nil {
		value, ttl, found, err := c.shared.Get(ctx, key)
		switch {
		case err != nil:
			c.sharedFailed("get", key, err)
		case found:
			if ttl <= 0 {
				ttl = c.opts.DefaultTTL
			}
			_ = c.local.Set(key, value, ttl)
			c.stats.hits.Add(1)
			c.stats.sharedHits.Add(1)
			c.observer.Hit(TierShared)
			return value, true
		}
	}

	c.stats.misses.Add(1)
	c.observer.Miss()
	return nil, false
}

// Set writes both tiers. A non-positive ttl uses the default TTL.
func (c *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.opts.DefaultTTL
	}

	_ = c.local.Set(key, value, ttl)
	c.stats.sets.Add(1)
	c.observer.Set()

	if c.shared != nil {
		if err := c.shared.Set(ctx, key, value, ttl); err != nil {
			c.sharedFailed("set", key, err)
		}
	}
}

// Delete removes key from both tiers
func (c *Tiered) Delete(ctx context.Context, key string) {
	c.local.Delete(key)
	if c.shared != nil {
		if err := c.shared.Delete(ctx, key); err != nil {
			c.sharedFailed("delete", key, err)
		}
	}
}

// Clear empties the local tier. Shared entries expire on their own.
func (c *Tiered) Clear() {
	c.local.Clear()
}

// PurgeExpired drops expired local entries
func (c *Tiered) PurgeExpired() int {
	return c.local.PurgeExpired()
}

// RunPurger calls PurgeExpired every interval until ctx is done. The shared
// tier expires entries natively.
func (c *Tiered) RunPurger(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if purged := c.PurgeExpired(); purged > 0 {
				c.logger.Debug("purged expired cache entries", zap.Int("count", purged))
			}
		}
	}
}

// Stats returns the process-wide counters
func (c *Tiered) Stats() StatsSnapshot {
	snap := c.stats.Snapshot()
	snap.Entries = c.local.Len()
	snap.MaxEntries = c.local.Capacity()
	return snap
}

// Ping checks the shared tier, if any
func (c *Tiered) Ping(ctx context.Context) error {
	if c.shared == nil {
		return nil
	}
	return c.shared.Ping(ctx)
}

// Close releases the shared tier
func (c *Tiered) Close() error {
	if c.shared == nil {
		return nil
	}
	return c.shared.Close()
}

func (c *Tiered) sharedFailed(op, key string, err error) {
	c.stats.sharedErrors.Add(1)
	c.observer.SharedError(op)
	c.logger.Warn("shared cache operation failed",
		zap.String("op", op),
		zap.String("key", key),
		zap.Error(err),
	)
}

// GetJSON decodes a cached value into T. Undecodable entries are dropped
// and reported as a miss.
func GetJSON[T any](ctx context.Context, c *Tiered, key string) (T, bool) {
	var v T
	raw, ok := c.Get(ctx, key)
	if !ok {
		return v, false
	}
	if err := Unmarshal(raw, &v); err != nil {
		c.logger.Warn("dropping undecodable cache entry", zap.String("key", key), zap.Error(err))
		c.Delete(ctx, key)
		var zero T
		return zero, false
	}
	return v, true
}

// SetJSON encodes v and stores it in both tiers
func SetJSON[T any](ctx context.Context, c *Tiered, key string, v T, ttl time.Duration) error {
	raw, err := Marshal(v)
	if err != nil {
		return err
	}
	c.Set(ctx, key, raw, ttl)
	return nil
}

// ErrSkipStore may be returned by a GetOrCompute compute func together
// with a usable value. The value is shared with concurrent callers but not
// written to the cache.
var ErrSkipStore = errors.New("cache: result not cacheable")

type computed[T any] struct {
	value T
	hit   bool
}

// GetOrCompute returns the cached value for key or computes and stores it.
// Concurrent misses on the same key share one computation, which runs with
// the context of the caller that started it. The bool result reports a
// cache hit.
func GetOrCompute[T any](ctx context.Context, c *Tiered, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, bool, error) {
	if v, ok := GetJSON[T](ctx, c, key); ok {
		return v, true, nil
	}

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		// A flight that ended between the miss above and Do stored its value
		if entry, ok := c.local.Get(key); ok {
			var v T
			if err := Unmarshal(entry.Value, &v); err == nil {
				return computed[T]{value: v, hit: true}, nil
			}
		}

		v, err := compute(ctx)
		switch {
		case errors.Is(err, ErrSkipStore):
			return computed[T]{value: v}, nil
		case err != nil:
			return computed[T]{value: v}, err
		}
		if err := SetJSON(ctx, c, key, v, ttl); err != nil {
			c.logger.Warn("failed to encode cache value", zap.String("key", key), zap.Error(err))
		}
		return computed[T]{value: v}, nil
	})

	out, _ := result.(computed[T])
	return out.value, out.hit, err
}
