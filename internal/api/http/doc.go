// Package http exposes the orchestrator over a JSON API served by gin.
//
// Inline answers return 200 with suggestions. Work that runs in the
// background returns 202 with a job handle that can be polled, cancelled,
// or streamed as server-sent events. Failures share one body shape:
//
//	{"error": {"kind": "breaker_open", "message": "..."}}
package http
