package orchestrator

import (
	"errors"

	"github.com/GriffinCanCode/DocRefine/backend/internal/domain/jobs"
	"github.com/GriffinCanCode/DocRefine/backend/internal/infrastructure/cache"
	"github.com/GriffinCanCode/DocRefine/backend/internal/infrastructure/resilience"
)

// Resilience bundles the process-wide shared state the router depends on.
// It is built once at startup and injected; tests build a fresh one each.
type Resilience struct {
	Breakers *resilience.Registry
	Cache    *cache.Tiered
	Jobs     *jobs.Runner
	// Retry is the policy applied around every remote call. Per-dependency
	// overrides live in RetryOverrides.
	Retry          resilience.Policy
	RetryOverrides map[string]resilience.Policy
}

// Validate reports missing components
func (r Resilience) Validate() error {
	switch {
	case r.Breakers == nil:
		return errors.New("resilience: breaker registry is required")
	case r.Cache == nil:
		return errors.New("resilience: cache is required")
	case r.Jobs == nil:
		return errors.New("resilience: job runner is required")
	}
	return nil
}

// Policy returns the retry policy for dependency
func (r Resilience) Policy(dependency string) resilience.Policy {
	if p, ok := r.RetryOverrides[dependency]; ok {
		return p
	}
	return r.Retry
}
