// Package config provides 12-factor configuration management for the
// docrefine backend.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags can override environment variables for development flexibility.
// Per-dependency breaker and retry policies can additionally be supplied in
// a YAML or TOML file named by DEPENDENCY_POLICY_FILE:
//
//	dependencies:
//	  vector-search:
//	    threshold: 2
//	    timeout: 15s
//	    max_retries: 1
//
// Configuration Sections:
//   - Server, Logging, RateLimit: HTTP surface
//   - Completion, VectorSearch: downstream dependencies
//   - Breaker, Retry: resilience defaults
//   - Cache, Redis: tiered cache sizing and TTLs
//   - Jobs: background worker pool and purge TTL
//   - Router, Shadow: inline deadline, async threshold, shadow sampling
package config
