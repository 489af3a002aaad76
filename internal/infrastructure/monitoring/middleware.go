package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		// Route templates keep label cardinality bounded
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// Timer measures one downstream call
type Timer struct {
	start      time.Time
	metrics    *Metrics
	dependency string
}

// NewTimer starts timing a call to dependency
func NewTimer(metrics *Metrics, dependency string) *Timer {
	return &Timer{
		start:      time.Now(),
		metrics:    metrics,
		dependency: dependency,
	}
}

// Stop records the call with the given status
func (t *Timer) Stop(status string) {
	t.metrics.RecordDependencyCall(t.dependency, status, time.Since(t.start))
}
