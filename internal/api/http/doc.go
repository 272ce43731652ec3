// Package http provides the demo HTTP handlers served behind the trace
// filter: a greeting, a health check, an echo endpoint and an endpoint that
// completes asynchronously.
package http
