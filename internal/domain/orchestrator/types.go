package orchestrator

import (
	"github.com/GriffinCanCode/DocRefine/backend/internal/domain/jobs"
	"github.com/GriffinCanCode/DocRefine/backend/internal/domain/suggestion"
)

// Strategy labels
const (
	StrategyCache     = "cache"
	StrategyPrimary   = "primary"
	StrategySecondary = "secondary"
	StrategyDegraded  = "degraded"
	StrategyChunked   = "chunked"
)

// Options tune a single request
type Options struct {
	Tone     string `json:"tone,omitempty"`
	Audience string `json:"audience,omitempty"`
	Async    bool   `json:"async,omitempty"`
}

// Request is an inbound suggestion request
type Request struct {
	Mode    string  `json:"mode" binding:"required"`
	Content string  `json:"content" binding:"required"`
	Options Options `json:"options"`
}

// Response is returned by Router.Handle. Inline answers carry
// Suggestions; async answers carry JobID and Status.
type Response struct {
	Mode        Mode                    `json:"mode"`
	CacheHit    bool                    `json:"cache_hit"`
	Strategy    string                  `json:"strategy,omitempty"`
	Suggestions []suggestion.Suggestion `json:"suggestions,omitempty"`
	JobID       string                  `json:"job_id,omitempty"`
	Status      jobs.Status             `json:"status,omitempty"`
	DurationMs  int64                   `json:"duration_ms"`
}

// Result is the cached value and the result of a document job
type Result struct {
	Strategy    string                  `json:"strategy"`
	Suggestions []suggestion.Suggestion `json:"suggestions"`
	Chunks      int                     `json:"chunks,omitempty"`
	Strategies  []string                `json:"strategies,omitempty"`
}

// jobPayload is what a document job carries
type jobPayload struct {
	Mode        Mode
	Content     string
	Options     Options
	Fingerprint string
}
