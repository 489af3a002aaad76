/*
Package resilience protects calls to remote dependencies.

# Overview

Three composable pieces keep a failing or slow dependency from cascading
into the rest of the service:

  - Breaker: per-dependency circuit breaker (Closed, Open, Half-Open)
  - Do: bounded retry with exponential backoff and jitter
  - Chain: ordered fallback strategies tried until one succeeds

Registry hands out one Breaker per dependency name so that, for example,
vector search can run with a lower threshold than the completion service.

# Usage

	registry := resilience.NewRegistry(resilience.Settings{}, map[string]resilience.Settings{
		"vector-search": {Threshold: 3, Timeout: 30 * time.Second},
	})

	chain := resilience.NewChain[string]("suggest", logger).
		Add("primary", func(ctx context.Context) (string, error) {
			return resilience.Guard(ctx, registry, "completion", func(ctx context.Context) (string, error) {
				return resilience.Do(ctx, resilience.DefaultPolicy(), client.Complete)
			})
		}).
		Add("degraded", cannedAnswer)

	result, label, err := chain.Execute(ctx)

# Pattern

	Closed --[threshold failures]-> Open --[timeout]-> Half-Open --[probe ok]-> Closed
	                                                      |
	                                                [probe fails]
	                                                      |
	                                                      v
	                                                    Open

A rejected call returns ErrCircuitOpen and is neither counted nor retried.
Successes while closed do not clear the failure count; only a successful
half-open probe does (or Settings.Interval, when set).
*/
package resilience
