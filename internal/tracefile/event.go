package tracefile

import (
	"errors"
	"io"
	"net/http"
	"time"
)

// Kind identifies the variant of an Event.
type Kind string

const (
	KindRequestHeaders Kind = "request-headers"
	KindRequestBody    Kind = "request-body"
	KindRequestBodyEnd Kind = "request-body-end"
	KindResponseHeader Kind = "response-header"
	KindResponseStatus Kind = "response-status"
	KindResponseBody   Kind = "response-body"
	KindMarker         Kind = "marker"
)

// Marker names a lifecycle phase of a traced exchange.
type Marker string

const (
	MarkerStarted        Marker = "started"
	MarkerAsyncSuspended Marker = "async-suspended"
	MarkerAsyncCompleted Marker = "async-completed"
	MarkerAsyncError     Marker = "async-error"
	MarkerAsyncTimeout   Marker = "async-timeout"
	MarkerClosed         Marker = "closed"
)

// HeaderOp is the kind of change applied to a response header.
type HeaderOp string

const (
	OpSet HeaderOp = "set"
	OpAdd HeaderOp = "add"
	OpDel HeaderOp = "del"
)

// RequestLine holds the request metadata captured with the header snapshot.
type RequestLine struct {
	Method     string `json:"method"`
	URL        string `json:"url"`
	Proto      string `json:"proto"`
	Host       string `json:"host,omitempty"`
	RemoteAddr string `json:"remoteAddr,omitempty"`
}

// Event is one record of a trace artifact. Seq and Time are assigned by the
// File when the event is recorded; the remaining fields depend on Kind.
type Event struct {
	Seq  uint64    `json:"seq"`
	Time time.Time `json:"time"`
	Kind Kind      `json:"kind"`

	Request *RequestLine `json:"request,omitempty"`
	Headers http.Header  `json:"headers,omitempty"`

	Op    HeaderOp `json:"op,omitempty"`
	Name  string   `json:"name,omitempty"`
	Value string   `json:"value,omitempty"`

	Status int `json:"status,omitempty"`

	Data   []byte `json:"data,omitempty"`
	Length int    `json:"length,omitempty"`

	Marker Marker `json:"marker,omitempty"`
	Error  string `json:"error,omitempty"`
}

// RequestHeaderSnapshot captures the request line and a copy of the headers.
func RequestHeaderSnapshot(r *http.Request) Event {
	return Event{
		Kind: KindRequestHeaders,
		Request: &RequestLine{
			Method:     r.Method,
			URL:        r.URL.String(),
			Proto:      r.Proto,
			Host:       r.Host,
			RemoteAddr: r.RemoteAddr,
		},
		Headers: r.Header.Clone(),
	}
}

// ResponseHeaderChange records one mutation of the response header.
func ResponseHeaderChange(op HeaderOp, name, value string) Event {
	return Event{
		Kind:  KindResponseHeader,
		Op:    op,
		Name:  name,
		Value: value,
	}
}

// ResponseStatus records the status code the response was committed with.
func ResponseStatus(code int) Event {
	return Event{
		Kind:   KindResponseStatus,
		Status: code,
	}
}

// RequestBodyChunk records bytes returned by a request body read.
func RequestBodyChunk(p []byte) Event {
	return bodyChunk(KindRequestBody, p)
}

// ResponseBodyChunk records bytes passed to a response body write.
func ResponseBodyChunk(p []byte) Event {
	return bodyChunk(KindResponseBody, p)
}

func bodyChunk(kind Kind, p []byte) Event {
	data := make([]byte, len(p))
	copy(data, p)
	return Event{
		Kind:   kind,
		Data:   data,
		Length: len(data),
	}
}

// RequestBodyEnd records the end of the request body stream. A nil error or
// io.EOF is a clean end; anything else is kept as the error text.
func RequestBodyEnd(err error) Event {
	ev := Event{Kind: KindRequestBodyEnd}
	if err != nil && !errors.Is(err, io.EOF) {
		ev.Error = err.Error()
	}
	return ev
}

// LifecycleMarker records a phase transition, with an optional cause.
func LifecycleMarker(m Marker, cause error) Event {
	ev := Event{
		Kind:   KindMarker,
		Marker: m,
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	return ev
}

// Payload concatenates the data of all events of the given kind, in order.
func Payload(events []Event, kind Kind) []byte {
	var out []byte
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev.Data...)
		}
	}
	return out
}

// Markers returns the lifecycle markers of events, in order.
func Markers(events []Event) []Marker {
	var out []Marker
	for _, ev := range events {
		if ev.Kind == KindMarker {
			out = append(out, ev.Marker)
		}
	}
	return out
}
