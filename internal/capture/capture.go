// Package capture decorates the request and response of an HTTP exchange so
// that every header and body event is mirrored into a trace sink.
//
// The decorators never change what the handler reads or what the client
// receives. A failure to record an event is handed to the ErrorHandler and
// otherwise ignored.
package capture

import (
	"github.com/GriffinCanCode/tracefilter/internal/tracefile"
)

// Sink receives observed events, in observation order.
type Sink interface {
	Record(ev tracefile.Event) error
}

// ErrorHandler is called with the error of a failed Record.
type ErrorHandler func(err error)

type recorder struct {
	sink    Sink
	onError ErrorHandler
}

func (r recorder) record(ev tracefile.Event) {
	if err := r.sink.Record(ev); err != nil && r.onError != nil {
		r.onError(err)
	}
}
