package http

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/DocRefine/backend/internal/domain/jobs"
	"github.com/GriffinCanCode/DocRefine/backend/internal/infrastructure/cache"
	"github.com/GriffinCanCode/DocRefine/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/DocRefine/backend/internal/infrastructure/resilience"
)

// Health states
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

const checkTimeout = 2 * time.Second

// DependencyHealth is the result of one readiness check
type DependencyHealth struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// HealthReport is the body of /health
type HealthReport struct {
	Status       string                      `json:"status"`
	Breakers     []resilience.Snapshot       `json:"breakers"`
	SharedCache  *DependencyHealth           `json:"shared_cache,omitempty"`
	Dependencies map[string]DependencyHealth `json:"dependencies,omitempty"`
	Jobs         jobs.Stats                  `json:"jobs"`
}

// StatsSnapshot is the body of /v1/stats
type StatsSnapshot struct {
	Timestamp time.Time                  `json:"timestamp"`
	Requests  monitoring.MetricsSnapshot `json:"requests"`
	Cache     cache.StatsSnapshot        `json:"cache"`
	Jobs      jobs.Stats                 `json:"jobs"`
	Breakers  []resilience.Snapshot      `json:"breakers"`
	Summary   StatsSummary               `json:"summary"`
}

// StatsSummary provides high-level ratios
type StatsSummary struct {
	ErrorRate    float64 `json:"error_rate"`
	CacheHitRate float64 `json:"cache_hit_rate"`
	OpenBreakers int     `json:"open_breakers"`
}

// Health reports breaker states and dependency reachability. It always
// answers 200; a degraded status means fallbacks are in use.
func (h *Handlers) Health(c *gin.Context) {
	res := h.router.Resilience()
	report := HealthReport{
		Status:   StatusHealthy,
		Breakers: res.Breakers.Snapshots(),
		Jobs:     res.Jobs.Store().Stats(),
	}

	for _, snap := range report.Breakers {
		if snap.State != resilience.StateClosed {
			report.Status = StatusDegraded
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
	defer cancel()

	if res.Cache.HasShared() {
		dh := probe(ctx, res.Cache.Ping)
		report.SharedCache = &dh
		if !dh.Healthy {
			report.Status = StatusDegraded
		}
	}

	if len(h.checks) > 0 {
		report.Dependencies = make(map[string]DependencyHealth, len(h.checks))
		names := make([]string, 0, len(h.checks))
		for name := range h.checks {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			dh := probe(ctx, h.checks[name])
			report.Dependencies[name] = dh
			if !dh.Healthy {
				report.Status = StatusDegraded
			}
		}
	}

	c.JSON(http.StatusOK, report)
}

func probe(ctx context.Context, check func(context.Context) error) DependencyHealth {
	if err := check(ctx); err != nil {
		return DependencyHealth{Error: err.Error()}
	}
	return DependencyHealth{Healthy: true}
}

// Stats returns request, cache, job and breaker counters
func (h *Handlers) Stats(c *gin.Context) {
	res := h.router.Resilience()
	snap := StatsSnapshot{
		Timestamp: time.Now().UTC(),
		Requests:  h.metrics.Snapshot(),
		Cache:     res.Cache.Stats(),
		Jobs:      res.Jobs.Store().Stats(),
		Breakers:  res.Breakers.Snapshots(),
	}

	if snap.Requests.TotalRequests > 0 {
		snap.Summary.ErrorRate = float64(snap.Requests.TotalErrors) / float64(snap.Requests.TotalRequests)
	}
	if lookups := snap.Cache.Hits + snap.Cache.Misses; lookups > 0 {
		snap.Summary.CacheHitRate = float64(snap.Cache.Hits) / float64(lookups)
	}
	for _, b := range snap.Breakers {
		if b.State == resilience.StateOpen {
			snap.Summary.OpenBreakers++
		}
	}

	c.JSON(http.StatusOK, snap)
}
