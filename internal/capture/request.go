package capture

import (
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/GriffinCanCode/tracefilter/internal/tracefile"
)

// Request observes an inbound request.
//
// Header maps cannot be intercepted on read, so the header snapshot is
// recorded once when the Request is built, before the body can be read.
type Request struct {
	rec      recorder
	orig     *http.Request
	req      *http.Request
	body     *body
	snapshot sync.Once
}

// NewRequest builds the decorator for r and records its header snapshot.
func NewRequest(r *http.Request, sink Sink, onError ErrorHandler) *Request {
	cr := &Request{
		rec:  recorder{sink: sink, onError: onError},
		orig: r,
	}

	// WithContext returns a shallow copy; only Body differs from r.
	cr.req = r.WithContext(r.Context())
	if r.Body != nil && r.Body != http.NoBody {
		cr.body = &body{rc: r.Body, rec: cr.rec}
		cr.req.Body = cr.body
	}

	cr.Snapshot()
	return cr
}

// Snapshot records the request header snapshot. Only the first call records.
func (r *Request) Snapshot() {
	r.snapshot.Do(func() {
		r.rec.record(tracefile.RequestHeaderSnapshot(r.orig))
	})
}

// HTTPRequest returns the decorated request to hand to downstream handlers.
func (r *Request) HTTPRequest() *http.Request {
	return r.req
}

// BytesRead returns the number of body bytes returned to the handler so far.
func (r *Request) BytesRead() int64 {
	if r.body == nil {
		return 0
	}
	return r.body.n.Load()
}

type body struct {
	rc  io.ReadCloser
	rec recorder
	n   atomic.Int64
	end sync.Once
}

func (b *body) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 {
		b.n.Add(int64(n))
		b.rec.record(tracefile.RequestBodyChunk(p[:n]))
	}
	if err != nil {
		b.end.Do(func() {
			b.rec.record(tracefile.RequestBodyEnd(err))
		})
	}
	return n, err
}

func (b *body) Close() error {
	return b.rc.Close()
}
