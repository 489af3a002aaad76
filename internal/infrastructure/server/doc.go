// Package server assembles the backend from configuration: logging,
// metrics, tracing, the shared resilience state, providers, the router and
// the HTTP surface. It owns startup and graceful shutdown.
package server
