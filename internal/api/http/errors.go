package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/DocRefine/backend/internal/domain/document"
	"github.com/GriffinCanCode/DocRefine/backend/internal/domain/orchestrator"
)

// Error kinds raised by the HTTP layer itself
const (
	KindUnsupportedMedia orchestrator.Kind = "unsupported_media_type"
	KindTooLarge         orchestrator.Kind = "payload_too_large"
)

// StatusClientClosedRequest is reported when the caller went away before
// an answer was ready
const StatusClientClosedRequest = 499

// StatusFor maps an error kind to an HTTP status
func StatusFor(kind orchestrator.Kind) int {
	switch kind {
	case orchestrator.KindInvalidRequest, orchestrator.KindUnknownMode:
		return http.StatusBadRequest
	case orchestrator.KindJobNotFound:
		return http.StatusNotFound
	case orchestrator.KindJobTerminal:
		return http.StatusConflict
	case KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindUnsupportedMedia:
		return http.StatusUnsupportedMediaType
	case orchestrator.KindBreakerOpen, orchestrator.KindFallbackExhausted, orchestrator.KindQueueFull:
		return http.StatusServiceUnavailable
	case orchestrator.KindRetryExhausted:
		return http.StatusBadGateway
	case orchestrator.KindTimeout:
		return http.StatusGatewayTimeout
	case orchestrator.KindCancelled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// ErrorBody classifies err and returns the status and JSON body for it
func ErrorBody(err error) (int, gin.H) {
	var (
		kind    orchestrator.Kind
		message string
	)

	var unsupported *document.UnsupportedTypeError
	var tooBig *http.MaxBytesError
	switch {
	case errors.As(err, &unsupported):
		kind, message = KindUnsupportedMedia, err.Error()
	case errors.Is(err, document.ErrTooLarge), errors.As(err, &tooBig):
		kind, message = KindTooLarge, "document exceeds maximum size"
	case errors.Is(err, document.ErrEmpty):
		kind, message = orchestrator.KindInvalidRequest, err.Error()
	default:
		oe := orchestrator.AsError(err)
		kind, message = oe.Kind, oe.Message
	}

	if kind == orchestrator.KindInternal || kind == orchestrator.KindWorkerFault {
		message = "internal error"
	}

	body := gin.H{"kind": kind, "message": message}
	var unknown *orchestrator.UnknownModeError
	if errors.As(err, &unknown) {
		body["supported"] = unknown.Supported
	}
	return StatusFor(kind), gin.H{"error": body}
}

// RespondError aborts the request with the classified error
func RespondError(c *gin.Context, err error) {
	status, body := ErrorBody(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error": gin.H{"kind": orchestrator.KindInvalidRequest, "message": message},
	})
}
