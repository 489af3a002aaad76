// Package middleware provides gin middleware for the public API: CORS and
// per-client plus global rate limiting.
package middleware
