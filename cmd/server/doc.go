// Package main is the entry point for the DocRefine orchestration backend.
//
// The server sits between clients and the language-model and vector-search
// services. Every downstream call goes through a circuit breaker and a
// bounded retry, answers are cached by content fingerprint, and large
// documents run as cancellable background jobs.
//
//	Client → gin API → Router → cache
//	                          → Breaker(Retry(completion))  primary → secondary → heuristics
//	                          → job runner (chunked documents)
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - DEPENDENCY_POLICY_FILE for per-dependency breaker and retry overrides
//
// Usage:
//
//	# Production mode
//	./server -port 8000
//
//	# Development mode (console logs)
//	./server -dev -policy deps.yaml
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
