package http

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GetJob returns a job snapshot
func (h *Handlers) GetJob(c *gin.Context) {
	job, err := h.router.Job(c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// CancelJob requests cooperative cancellation. The job reaches failed
// once its worker observes the request.
func (h *Handlers) CancelJob(c *gin.Context) {
	jobID := c.Param("id")
	if err := h.router.Cancel(jobID); err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"job_id":           jobID,
		"cancel_requested": true,
	})
}

// JobEvents streams a job's events as server-sent events. Past events are
// replayed first; the stream ends after the terminal event.
func (h *Handlers) JobEvents(c *gin.Context) {
	jobID := c.Param("id")
	events, err := h.router.Subscribe(c.Request.Context(), jobID)
	if err != nil {
		RespondError(c, err)
		return
	}

	h.metrics.StreamOpened("sse")
	defer h.metrics.StreamClosed("sse")

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Type), ev)
			return !ev.Terminal()
		case <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"job_id": jobID, "timestamp": time.Now().UTC()})
			return true
		case <-c.Request.Context().Done():
			h.logger.Debug("event stream client left", zap.String("job_id", jobID))
			return false
		}
	})
}
