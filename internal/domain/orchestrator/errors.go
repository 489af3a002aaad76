package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/GriffinCanCode/DocRefine/backend/internal/domain/jobs"
	"github.com/GriffinCanCode/DocRefine/backend/internal/infrastructure/resilience"
)

// Kind is the machine-readable error category returned to callers
type Kind string

const (
	KindInvalidRequest    Kind = "invalid_request"
	KindUnknownMode       Kind = "unknown_mode"
	KindBreakerOpen       Kind = "breaker_open"
	KindRetryExhausted    Kind = "retry_exhausted"
	KindFallbackExhausted Kind = "fallback_exhausted"
	KindTimeout           Kind = "timeout"
	KindCancelled         Kind = "cancelled"
	KindJobNotFound       Kind = "job_not_found"
	KindJobTerminal       Kind = "job_terminal"
	KindQueueFull         Kind = "queue_full"
	KindWorkerFault       Kind = "worker_fault"
	KindInternal          Kind = "internal"
)

// ErrRetryExhausted marks a remote step that used every retry
var ErrRetryExhausted = errors.New("retries exhausted")

// Error is a classified orchestration failure
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Classify maps err to a Kind. A fallback chain is classified before its
// last cause so that an exhausted chain is reported as such.
func Classify(err error) Kind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}

	var unknown *UnknownModeError
	var fault *jobs.WorkerFault
	switch {
	case err == nil:
		return ""
	case errors.As(err, &unknown):
		return KindUnknownMode
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, resilience.ErrChainExhausted):
		return KindFallbackExhausted
	case errors.Is(err, resilience.ErrCircuitOpen):
		return KindBreakerOpen
	case errors.Is(err, ErrRetryExhausted):
		return KindRetryExhausted
	case errors.Is(err, jobs.ErrJobNotFound):
		return KindJobNotFound
	case errors.Is(err, jobs.ErrJobTerminal):
		return KindJobTerminal
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrRunnerClosed):
		return KindQueueFull
	case errors.As(err, &fault):
		return KindWorkerFault
	}
	return KindInternal
}

// AsError wraps err as *Error, keeping an existing classification
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var oe *Error
	if errors.As(err, &oe) {
		return oe
	}
	return &Error{Kind: Classify(err), Message: err.Error(), Cause: err}
}
