package monitoring

import (
	"github.com/GriffinCanCode/DocRefine/backend/internal/infrastructure/cache"
)

// CacheObserver feeds cache events into Prometheus
type CacheObserver struct {
	metrics *Metrics
}

// NewCacheObserver adapts metrics to cache.Observer
func NewCacheObserver(metrics *Metrics) *CacheObserver {
	return &CacheObserver{metrics: metrics}
}

func (o *CacheObserver) Hit(tier string) {
	o.metrics.CacheEvents.WithLabelValues("hit", tier).Inc()
}

func (o *CacheObserver) Miss() {
	o.metrics.CacheEvents.WithLabelValues("miss", "").Inc()
}

func (o *CacheObserver) Set() {
	o.metrics.CacheEvents.WithLabelValues("set", "").Inc()
}

func (o *CacheObserver) Eviction(reason cache.EvictReason) {
	detail := "capacity"
	if reason == cache.EvictExpired {
		detail = "expired"
	}
	o.metrics.CacheEvents.WithLabelValues("eviction", detail).Inc()
}

func (o *CacheObserver) SharedError(op string) {
	o.metrics.CacheEvents.WithLabelValues("shared_error", op).Inc()
}

var _ cache.Observer = (*CacheObserver)(nil)
