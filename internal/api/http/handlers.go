package http

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/DocRefine/backend/internal/domain/document"
	"github.com/GriffinCanCode/DocRefine/backend/internal/domain/orchestrator"
	"github.com/GriffinCanCode/DocRefine/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/DocRefine/backend/internal/infrastructure/tracing"
)

// Check reports the health of one optional dependency
type Check func(ctx context.Context) error

// Handlers contains all HTTP handlers
type Handlers struct {
	router    *orchestrator.Router
	extractor *document.Extractor
	metrics   *monitoring.Metrics
	checks    map[string]Check
	heartbeat time.Duration
	logger    *zap.Logger
}

// Option configures Handlers
type Option func(*Handlers)

// WithCheck adds a named readiness check to /health
func WithCheck(name string, check Check) Option {
	return func(h *Handlers) { h.checks[name] = check }
}

// WithHeartbeat sets the SSE keep-alive interval
func WithHeartbeat(d time.Duration) Option {
	return func(h *Handlers) { h.heartbeat = d }
}

// NewHandlers creates a new handler set
func NewHandlers(
	router *orchestrator.Router,
	extractor *document.Extractor,
	metrics *monitoring.Metrics,
	logger *zap.Logger,
	opts ...Option,
) *Handlers {
	h := &Handlers{
		router:    router,
		extractor: extractor,
		metrics:   metrics,
		checks:    make(map[string]Check),
		heartbeat: 15 * time.Second,
		logger:    logger.Named("http"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts every route on r
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(h.metrics.Handler()))

	v1 := r.Group("/v1")
	{
		v1.POST("/suggestions", h.Suggest)
		v1.POST("/documents", h.SubmitDocument)
		v1.GET("/jobs/:id", h.GetJob)
		v1.POST("/jobs/:id/cancel", h.CancelJob)
		v1.GET("/jobs/:id/events", h.JobEvents)
		v1.GET("/stats", h.Stats)
	}
}

// Root identifies the service
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "DocRefine orchestration backend",
		"modes":   orchestrator.Modes,
	})
}

// Suggest serves a suggestion request inline or as a job
func (h *Handlers) Suggest(c *gin.Context) {
	var req orchestrator.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	resp, err := h.router.Handle(c.Request.Context(), req)
	if err != nil {
		RespondError(c, err)
		return
	}
	h.respond(c, resp, nil)
}

// SubmitDocument accepts a raw document body in any text format, extracts
// its text, and processes it as a document job.
func (h *Handlers) SubmitDocument(c *gin.Context) {
	data, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.extractor.MaxBytes()+1))
	if err != nil {
		RespondError(c, err)
		return
	}

	doc, err := h.extractor.Extract(data, c.GetHeader("Content-Type"))
	if err != nil {
		RespondError(c, err)
		return
	}

	h.logger.Debug("document extracted",
		append(tracing.Fields(c.Request.Context()),
			zap.String("media_type", doc.MediaType),
			zap.String("charset", doc.Charset),
			zap.Int("bytes", doc.Bytes),
			zap.Int("text_bytes", len(doc.Text)),
		)...,
	)

	resp, err := h.router.Handle(c.Request.Context(), orchestrator.Request{
		Mode:    string(orchestrator.ModeDocument),
		Content: doc.Text,
		Options: orchestrator.Options{
			Tone:     c.Query("tone"),
			Audience: c.Query("audience"),
		},
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	h.respond(c, resp, gin.H{
		"title":      doc.Title,
		"media_type": doc.MediaType,
		"charset":    doc.Charset,
		"bytes":      doc.Bytes,
	})
}

// respond writes 202 with a Location for job handles and 200 otherwise
func (h *Handlers) respond(c *gin.Context, resp *orchestrator.Response, meta gin.H) {
	status := http.StatusOK
	if resp.JobID != "" {
		status = http.StatusAccepted
		c.Header("Location", "/v1/jobs/"+resp.JobID)
	}
	if meta == nil {
		c.JSON(status, resp)
		return
	}
	c.JSON(status, gin.H{"response": resp, "document": meta})
}
