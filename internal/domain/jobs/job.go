package jobs

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrJobNotFound        = errors.New("job not found")
	ErrInvalidTransition  = errors.New("invalid job status transition")
	ErrInvalidProgress    = errors.New("progress must be between 0 and 100")
	ErrProgressRegression = errors.New("progress cannot decrease")
	ErrMissingResult      = errors.New("completed job requires a result")
	ErrJobTerminal        = errors.New("job already finished")
	ErrCancelled          = errors.New("job cancelled")
	ErrQueueFull          = errors.New("job queue is full")
	ErrRunnerClosed       = errors.New("job runner is shut down")
)

// Status is a job lifecycle state
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is possible
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) canTransitionTo(next Status) bool {
	switch s {
	case StatusQueued:
		return next == StatusRunning
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Job is the externally visible job record
type Job struct {
	ID              string      `json:"job_id"`
	Kind            string      `json:"-"`
	Status          Status      `json:"status"`
	ProgressPct     int         `json:"progress_pct"`
	ProgressMessage string      `json:"progress_message"`
	CreatedAt       time.Time   `json:"created_at"`
	StartedAt       *time.Time  `json:"started_at"`
	CompletedAt     *time.Time  `json:"completed_at"`
	Result          interface{} `json:"result"`
	Error           *string     `json:"error"`
}

// EventType classifies stream events
type EventType string

const (
	EventProgress EventType = "progress"
	EventError    EventType = "error"
	EventComplete EventType = "complete"
)

// Event is one entry in a job's ordered event log
type Event struct {
	Seq         int         `json:"seq"`
	Type        EventType   `json:"type"`
	JobID       string      `json:"job_id"`
	Status      Status      `json:"status"`
	ProgressPct int         `json:"progress_pct"`
	Message     string      `json:"message,omitempty"`
	Result      interface{} `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// Terminal reports whether this is the last event of its job
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// WorkerFault wraps a panic recovered at the worker boundary
type WorkerFault struct {
	Value interface{}
}

func (f *WorkerFault) Error() string {
	return fmt.Sprintf("worker panic: %v", f.Value)
}

// Stats counts live jobs by status
type Stats struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}
