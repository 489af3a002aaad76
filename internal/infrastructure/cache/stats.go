package cache

import "sync/atomic"

// Observer receives cache events, typically to feed metrics
type Observer interface {
	Hit(tier string)
	Miss()
	Set()
	Eviction(reason EvictReason)
	SharedError(op string)
}

// NoopObserver ignores all events
type NoopObserver struct{}

func (NoopObserver) Hit(string)           {}
func (NoopObserver) Miss()                {}
func (NoopObserver) Set()                 {}
func (NoopObserver) Eviction(EvictReason) {}
func (NoopObserver) SharedError(string)   {}

const (
	TierLocal  = "local"
	TierShared = "shared"
)

// Stats holds process-wide cache counters
type Stats struct {
	hits         atomic.Uint64
	misses       atomic.Uint64
	sets         atomic.Uint64
	evictions    atomic.Uint64
	expirations  atomic.Uint64
	sharedHits   atomic.Uint64
	sharedErrors atomic.Uint64
}

// StatsSnapshot is a copy of the counters
type StatsSnapshot struct {
	Hits         uint64  `json:"hits"`
	Misses       uint64  `json:"misses"`
	Sets         uint64  `json:"sets"`
	Evictions    uint64  `json:"evictions"`
	Expirations  uint64  `json:"expirations"`
	SharedHits   uint64  `json:"shared_hits"`
	SharedErrors uint64  `json:"shared_errors"`
	Entries      int     `json:"entries"`
	MaxEntries   int     `json:"max_entries"`
	HitRate      float64 `json:"hit_rate"`
}

// Snapshot returns the current counter values
func (s *Stats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		Hits:         s.hits.Load(),
		Misses:       s.misses.Load(),
		Sets:         s.sets.Load(),
		Evictions:    s.evictions.Load(),
		Expirations:  s.expirations.Load(),
		SharedHits:   s.sharedHits.Load(),
		SharedErrors: s.sharedErrors.Load(),
	}
	if total := snap.Hits + snap.Misses; total > 0 {
		snap.HitRate = float64(snap.Hits) / float64(total)
	}
	return snap
}
