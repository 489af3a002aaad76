package orchestrator

import "time"

// Observer receives routing telemetry. *monitoring.Metrics satisfies it.
type Observer interface {
	RecordRoute(mode, path, outcome string, duration time.Duration)
	RecordRetry(dependency string)
	RecordFallbackStep(chain, step, outcome string)
	RecordShadow(outcome string)
}

type noopObserver struct{}

func (noopObserver) RecordRoute(string, string, string, time.Duration) {}
func (noopObserver) RecordRetry(string)                                 {}
func (noopObserver) RecordFallbackStep(string, string, string)          {}
func (noopObserver) RecordShadow(string)                                {}
