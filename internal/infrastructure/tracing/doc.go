/*
Package tracing records every HTTP exchange into its own trace artifact.

# Overview

A Filter wraps a handler chain. For each request that the exclusion Policy
lets through it opens a tracer-*.log artifact (see package tracefile), hands
observing decorators of the request and response (see package capture) to
the chain, and closes the artifact exactly once:

  - right after the chain returns, for synchronous requests
  - on the first completion, error or timeout notification, for requests
    suspended through package async

Tracing never fails a request. When no artifact can be opened the request is
served untraced, the failure is logged and counted, and repeated failures
trip a circuit breaker that suspends open attempts for a cooldown.

# Usage

	filter, err := tracing.NewFilter(tracing.Config{
		Dir:      "/var/log/tracer",
		IDHeader: "X-TraceId",
	}, tracing.WithLogger(logger), tracing.WithMetrics(metrics))
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler: async.Handler(filter.Wrap(mux), async.Options{}),
	}

Gin routers can use the middleware form instead:

	router.Use(filter.HTTPMiddleware())

# Correlation

When IDHeader is set, every traced response carries the artifact base name,
so a client-side capture can be matched with the artifact on disk.
*/
package tracing
