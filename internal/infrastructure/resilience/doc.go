/*
Package resilience provides a circuit breaker for graceful degradation.

# Overview

The trace filter opens one artifact per request. When the trace directory
stops accepting new files (disk full, permissions changed, volume unmounted)
every request would otherwise pay for a failing create call and a warning.
The breaker trips after a run of failures and lets requests pass through
untraced until a cooldown elapses, then lets a single trial call through.

# Usage

	breaker := resilience.New("trace-dir", resilience.Settings{
		Threshold: 5,
		Cooldown:  30 * time.Second,
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Info("breaker state changed", zap.Stringer("from", from), zap.Stringer("to", to))
		},
	})

	file, err := resilience.Execute(breaker, func() (*tracefile.File, error) {
		return tracefile.Open(dir)
	})
	if resilience.Rejected(err) {
		// skip tracing for this request
	}

# States

	Closed --[threshold failures]-> Open --[cooldown]-> Half-Open --[trial ok]-> Closed
	                                                        |
	                                                 [trial failed]
	                                                        |
	                                                        v
	                                                      Open

While the trial call runs, other calls are rejected with ErrTooManyRequests.
*/
package resilience
