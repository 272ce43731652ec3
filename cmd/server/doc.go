// Package main is the entry point of the trace server.
//
// Every request is recorded into its own tracer-*.log artifact in the trace
// directory, and the artifact name is echoed in the configured header.
//
// Architecture:
//
//	client → async.Handler → tracing.Filter → mux ─┬→ /async/delay (net/http)
//	                                               └→ gin router (/, /echo, /healthz, /metrics)
//
// Configuration:
//   - Environment variables (12-factor)
//   - YAML file of filter init-parameters (-config)
//   - CLI flags (override env vars)
//
// Usage:
//
//	# Production mode
//	TRACE_DIR=/var/log/tracer TRACE_ID_HEADER=X-TraceId ./server -port 8000
//
//	# Development mode (colored logs, debug level)
//	./server -dev -config tracer.yaml
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
