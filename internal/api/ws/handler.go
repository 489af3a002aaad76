package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/DocRefine/backend/internal/api/http"
	"github.com/GriffinCanCode/DocRefine/backend/internal/domain/orchestrator"
	"github.com/GriffinCanCode/DocRefine/backend/internal/infrastructure/monitoring"
)

const transport = "websocket"

// Config tunes connection keep-alive
type Config struct {
	AllowedOrigins []string
	PingInterval   time.Duration
	WriteTimeout   time.Duration
}

// DefaultConfig returns keep-alive defaults
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
		PingInterval:   30 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// ClientMessage is a frame sent by the client
type ClientMessage struct {
	Type string `json:"type"`
}

// Handler manages WebSocket job streams
type Handler struct {
	router   *orchestrator.Router
	metrics  *monitoring.Metrics
	cfg      Config
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(router *orchestrator.Router, metrics *monitoring.Metrics, cfg Config, logger *zap.Logger) *Handler {
	defaults := DefaultConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}

	h := &Handler{
		router:  router,
		metrics: metrics,
		cfg:     cfg,
		logger:  logger.Named("ws"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Register mounts the stream route
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/v1/jobs/:id/ws", h.JobStream)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// conn serializes writes; gorilla allows one concurrent writer
type conn struct {
	ws      *websocket.Conn
	mu      sync.Mutex
	timeout time.Duration
}

func (c *conn) send(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.timeout))
	return c.ws.WriteJSON(v)
}

func (c *conn) control(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(messageType, data, time.Now().Add(c.timeout))
}

// JobStream upgrades the request and forwards the job's events until the
// terminal event, then closes normally.
func (h *Handler) JobStream(c *gin.Context) {
	jobID := c.Param("id")

	// Reject unknown jobs with a plain JSON error before upgrading
	if _, err := h.router.Job(jobID); err != nil {
		apihttp.RespondError(c, err)
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	defer ws.Close()

	h.metrics.StreamOpened(transport)
	defer h.metrics.StreamClosed(transport)

	logger := h.logger.With(zap.String("job_id", jobID))
	cn := &conn{ws: ws, timeout: h.cfg.WriteTimeout}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.readLoop(ctx, cancel, cn, jobID, logger)

	events, err := h.router.Subscribe(ctx, jobID)
	if err != nil {
		_ = cn.send(gin.H{"type": "error", "error": err.Error()})
		return
	}

	ping := time.NewTicker(h.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := cn.send(ev); err != nil {
				logger.Debug("websocket write failed", zap.Error(err))
				return
			}
			if ev.Terminal() {
				_ = cn.control(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(ev.Type)))
				return
			}
		case <-ping.C:
			if err := cn.control(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// readLoop handles client frames and cancels ctx when the client leaves
func (h *Handler) readLoop(ctx context.Context, cancel context.CancelFunc, cn *conn, jobID string, logger *zap.Logger) {
	defer cancel()

	for {
		var msg ClientMessage
		if err := cn.ws.ReadJSON(&msg); err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("websocket read ended", zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case "cancel":
			if err := h.router.Cancel(jobID); err != nil {
				_ = cn.send(gin.H{"type": "error", "error": err.Error()})
				continue
			}
			_ = cn.send(gin.H{"type": "cancel_requested", "job_id": jobID})
		case "ping":
			_ = cn.send(gin.H{"type": "pong", "timestamp": time.Now().Unix()})
		default:
			_ = cn.send(gin.H{"type": "error", "error": "unknown message type"})
		}
	}
}
