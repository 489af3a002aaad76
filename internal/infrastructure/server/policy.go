package server

import (
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/DocRefine/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/DocRefine/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/DocRefine/backend/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/DocRefine/backend/internal/providers/vectorsearch"
)

// breakerSettings builds the default breaker settings and per-dependency
// overrides from the environment and the optional policy file.
func breakerSettings(cfg *config.Config, metrics *monitoring.Metrics, logger *zap.Logger) (resilience.Settings, map[string]resilience.Settings) {
	onChange := func(name string, from, to resilience.State) {
		metrics.RecordBreakerTransition(name, from.String(), to.String(), int(to))
		logger.Warn("circuit breaker state changed",
			zap.String("dependency", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	defaults := resilience.Settings{
		Threshold:     cfg.Breaker.Threshold,
		Timeout:       cfg.Breaker.Timeout,
		OnStateChange: onChange,
	}

	overrides := map[string]resilience.Settings{
		vectorsearch.Dependency: {
			Threshold:     cfg.Breaker.VectorThreshold,
			Timeout:       cfg.Breaker.VectorTimeout,
			OnStateChange: onChange,
		},
	}

	for name, p := range cfg.Dependencies {
		s, ok := overrides[name]
		if !ok {
			s = defaults
		}
		if p.Threshold > 0 {
			s.Threshold = p.Threshold
		}
		if p.Timeout > 0 {
			s.Timeout = time.Duration(p.Timeout)
		}
		if p.Interval > 0 {
			s.Interval = time.Duration(p.Interval)
		}
		overrides[name] = s
	}
	return defaults, overrides
}

// retryPolicies builds the default retry policy and per-dependency overrides
func retryPolicies(cfg *config.Config) (resilience.Policy, map[string]resilience.Policy) {
	defaults := resilience.Policy{
		MaxRetries:  cfg.Retry.MaxRetries,
		BackoffBase: cfg.Retry.BackoffBase,
		Jitter:      resilience.UniformJitter,
	}

	overrides := make(map[string]resilience.Policy)
	for name, p := range cfg.Dependencies {
		if p.MaxRetries == nil && p.BackoffBase == 0 {
			continue
		}
		policy := defaults
		if p.MaxRetries != nil {
			policy.MaxRetries = *p.MaxRetries
		}
		if p.BackoffBase > 0 {
			policy.BackoffBase = time.Duration(p.BackoffBase)
		}
		overrides[name] = policy
	}
	return defaults, overrides
}
