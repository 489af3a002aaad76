package resilience

import (
	"context"
	"sort"
	"sync"
)

// Registry owns one breaker per dependency name
type Registry struct {
	defaults  Settings
	overrides map[string]Settings

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates a registry. Zero fields in an override fall back to defaults.
func NewRegistry(defaults Settings, overrides map[string]Settings) *Registry {
	copied := make(map[string]Settings, len(overrides))
	for name, s := range overrides {
		copied[name] = s
	}
	return &Registry{
		defaults:  defaults,
		overrides: copied,
		breakers:  make(map[string]*Breaker),
	}
}

// Get returns the breaker for dependency, creating it on first use
func (r *Registry) Get(dependency string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[dependency]; ok {
		return b
	}

	b := New(dependency, r.settingsFor(dependency))
	r.breakers[dependency] = b
	return b
}

func (r *Registry) settingsFor(dependency string) Settings {
	s := r.defaults
	o, ok := r.overrides[dependency]
	if !ok {
		return s
	}
	if o.Threshold != 0 {
		s.Threshold = o.Threshold
	}
	if o.Timeout != 0 {
		s.Timeout = o.Timeout
	}
	if o.Interval != 0 {
		s.Interval = o.Interval
	}
	if o.IsSuccessful != nil {
		s.IsSuccessful = o.IsSuccessful
	}
	if o.IsExcluded != nil {
		s.IsExcluded = o.IsExcluded
	}
	if o.OnStateChange != nil {
		s.OnStateChange = o.OnStateChange
	}
	if o.Clock != nil {
		s.Clock = o.Clock
	}
	return s
}

// Snapshots returns every known breaker's state sorted by name
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	snaps := make([]Snapshot, 0, len(breakers))
	for _, b := range breakers {
		snaps = append(snaps, b.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })
	return snaps
}

// Guard runs op through the named dependency's breaker
func Guard[T any](ctx context.Context, r *Registry, dependency string, op func(context.Context) (T, error)) (T, error) {
	return Call(ctx, r.Get(dependency), op)
}
