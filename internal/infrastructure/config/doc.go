// Package config provides 12-factor configuration for the trace server.
//
// Configuration is loaded from environment variables with sensible defaults,
// optionally seeded from a YAML file of filter init-parameters (LoadFile).
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host, shutdown timeout)
//   - Trace: trace directory, correlation header, exclusions, open breaker
//   - Async: timeout of suspended requests
//   - Logging: Log level and output format
//   - CORS: allowed origins
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
//
// Environment Variables:
//   - PORT, HOST, SHUTDOWN_TIMEOUT
//   - TRACE_DIR, TRACE_ID_HEADER, TRACE_EXCLUDE
//   - TRACE_BREAKER_FAILURES, TRACE_BREAKER_COOLDOWN
//   - ASYNC_TIMEOUT, LOG_LEVEL, LOG_DEV, CORS_ORIGINS
package config
