/*
Package monitoring provides Prometheus metrics for the trace server.

# Overview

Metrics are registered on a private registry owned by the Metrics value, so
several servers (or tests) can run in one process without colliding on the
default registerer.

# Features

- HTTP request metrics (latency, throughput, size)
- Trace artifact lifecycle (opened, closed by path, in flight)
- Exclusions, open failures and the state of the open breaker
- Captured body bytes and lost events

# Usage

	metrics := monitoring.NewMetrics()

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	filter, err := tracing.NewFilter(cfg, tracing.WithMetrics(metrics))

A nil *Metrics records nothing, which keeps callers free of nil checks.
*/
package monitoring
