package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docrefine"

// Metrics holds all Prometheus metrics on a private registry
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Orchestration metrics
	RoutedRequests *prometheus.CounterVec
	RouteDuration  *prometheus.HistogramVec

	// Dependency metrics
	DependencyCalls    *prometheus.CounterVec
	DependencyDuration *prometheus.HistogramVec
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec
	RetryAttempts      *prometheus.CounterVec
	FallbackSteps      *prometheus.CounterVec

	// Cache metrics
	CacheEvents *prometheus.CounterVec

	// Job metrics
	JobTransitions *prometheus.CounterVec

	// Shadow metrics
	ShadowRuns *prometheus.CounterVec

	// Streaming metrics
	StreamConnections *prometheus.GaugeVec

	Uptime    prometheus.GaugeFunc
	startTime time.Time

	// Snapshot for JSON API
	snapshot MetricsSnapshot
	mu       sync.RWMutex
}

// MetricsSnapshot holds current metric values for JSON API
type MetricsSnapshot struct {
	TotalRequests  int64   `json:"total_requests"`
	TotalErrors    int64   `json:"total_errors"`
	InlineServed   int64   `json:"inline_served"`
	JobsSubmitted  int64   `json:"jobs_submitted"`
	CacheHits      int64   `json:"cache_hits"`
	AvgLatencyMs   float64 `json:"avg_latency_ms"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
	totalDurationS float64
}

// NewMetrics creates a metrics collector with its own registry so that
// independent instances never collide.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		RoutedRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "routed_requests_total",
				Help:      "Requests handled by the router by mode, path and outcome",
			},
			[]string{"mode", "path", "outcome"},
		),
		RouteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "route_duration_seconds",
				Help:      "Time spent routing a request",
				Buckets:   []float64{.005, .025, .1, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"mode", "path"},
		),

		DependencyCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dependency_calls_total",
				Help:      "Calls to downstream dependencies",
			},
			[]string{"dependency", "status"},
		),
		DependencyDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dependency_call_duration_seconds",
				Help:      "Downstream call latency in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"dependency"},
		),
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"dependency"},
		),
		BreakerTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_transitions_total",
				Help:      "Circuit breaker state transitions",
			},
			[]string{"dependency", "from", "to"},
		),
		RetryAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Retries scheduled after a retryable failure",
			},
			[]string{"dependency"},
		),
		FallbackSteps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallback_steps_total",
				Help:      "Fallback chain step outcomes",
			},
			[]string{"chain", "step", "outcome"},
		),

		CacheEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_events_total",
				Help:      "Cache hits, misses, sets, evictions and shared-tier errors",
			},
			[]string{"event", "detail"},
		),

		JobTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_transitions_total",
				Help:      "Background job status transitions",
			},
			[]string{"kind", "status"},
		),

		ShadowRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "shadow_runs_total",
				Help:      "Shadow executions by outcome",
			},
			[]string{"outcome"},
		),

		StreamConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stream_connections",
				Help:      "Open job event streams by transport",
			},
			[]string{"transport"},
		),
	}

	m.Uptime = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.totalDurationS += duration.Seconds()
	if len(status) > 0 && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordRoute records a routed request. path is "cache", "inline" or "async".
func (m *Metrics) RecordRoute(mode, path, outcome string, duration time.Duration) {
	m.RoutedRequests.WithLabelValues(mode, path, outcome).Inc()
	m.RouteDuration.WithLabelValues(mode, path).Observe(duration.Seconds())

	m.mu.Lock()
	switch path {
	case "cache":
		m.snapshot.CacheHits++
	case "inline":
		m.snapshot.InlineServed++
	case "async":
		m.snapshot.JobsSubmitted++
	}
	m.mu.Unlock()
}

// RecordDependencyCall records one downstream call attempt
func (m *Metrics) RecordDependencyCall(dependency, status string, duration time.Duration) {
	m.DependencyCalls.WithLabelValues(dependency, status).Inc()
	m.DependencyDuration.WithLabelValues(dependency).Observe(duration.Seconds())
}

// RecordBreakerTransition updates the breaker gauge and transition counter.
// State values follow the resilience package ordering.
func (m *Metrics) RecordBreakerTransition(dependency, from, to string, state int) {
	m.BreakerState.WithLabelValues(dependency).Set(float64(state))
	m.BreakerTransitions.WithLabelValues(dependency, from, to).Inc()
}

// RecordRetry records a scheduled retry
func (m *Metrics) RecordRetry(dependency string) {
	m.RetryAttempts.WithLabelValues(dependency).Inc()
}

// RecordFallbackStep records a fallback step outcome
func (m *Metrics) RecordFallbackStep(chain, step, outcome string) {
	m.FallbackSteps.WithLabelValues(chain, step, outcome).Inc()
}

// RecordJobTransition records a job status change
func (m *Metrics) RecordJobTransition(kind, status string) {
	m.JobTransitions.WithLabelValues(kind, status).Inc()
}

// RecordShadow records a shadow execution outcome
func (m *Metrics) RecordShadow(outcome string) {
	m.ShadowRuns.WithLabelValues(outcome).Inc()
}

// StreamOpened increments open streams for transport
func (m *Metrics) StreamOpened(transport string) {
	m.StreamConnections.WithLabelValues(transport).Inc()
}

// StreamClosed decrements open streams for transport
func (m *Metrics) StreamClosed(transport string) {
	m.StreamConnections.WithLabelValues(transport).Dec()
}

// Snapshot returns current values for the JSON stats endpoint
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := m.snapshot
	if snap.TotalRequests > 0 {
		snap.AvgLatencyMs = snap.totalDurationS / float64(snap.TotalRequests) * 1000
	}
	snap.UptimeSeconds = time.Since(m.startTime).Seconds()
	return snap
}
