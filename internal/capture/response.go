package capture

import (
	"net/http"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/GriffinCanCode/tracefilter/internal/tracefile"
)

// Response observes an outbound response.
//
// Header mutations go straight into the real header map, so they are
// reconstructed at the commit point by diffing the live header against the
// baseline taken when the Response was built. Headers set on the real writer
// before that (such as the correlation header) never show up as changes.
//
// The diff is a net result, not a log of calls. Changes come out sorted by
// header name rather than in the order the handler made them, and a value
// that was set and then replaced or deleted before the commit is not seen.
// Mutations made after the commit are not recorded at all.
type Response struct {
	rec      recorder
	header   http.Header
	baseline http.Header
	written  atomic.Int64

	mu        sync.Mutex
	committed bool
	status    int
}

// NewResponse builds a response observer for the live header map of the real
// response writer.
func NewResponse(header http.Header, sink Sink, onError ErrorHandler) *Response {
	return &Response{
		rec:      recorder{sink: sink, onError: onError},
		header:   header,
		baseline: header.Clone(),
	}
}

// Wrap returns an http.ResponseWriter that forwards to w through r.
func (r *Response) Wrap(w http.ResponseWriter) *Writer {
	return &Writer{ResponseWriter: w, obs: r}
}

// Finish commits the response with code if the handler never did. It flushes
// pending header changes for responses that were never written to.
func (r *Response) Finish(code int) {
	r.commit(code)
}

// Committed reports whether the status and headers have been recorded.
func (r *Response) Committed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.committed
}

// Status returns the committed status code, or 0 before commit.
func (r *Response) Status() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// BytesWritten returns the number of body bytes written by the handler.
func (r *Response) BytesWritten() int64 {
	return r.written.Load()
}

func (r *Response) commit(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.committed {
		return
	}
	r.committed = true
	r.status = code

	for _, ev := range headerChanges(r.baseline, r.header) {
		r.rec.record(ev)
	}
	r.rec.record(tracefile.ResponseStatus(code))
}

func (r *Response) write(p []byte) {
	if len(p) == 0 {
		return
	}
	r.written.Add(int64(len(p)))
	r.rec.record(tracefile.ResponseBodyChunk(p))
}

// headerChanges returns the set/add/del events that turn before into after,
// ordered by header name.
func headerChanges(before, after http.Header) []tracefile.Event {
	names := make([]string, 0, len(after))
	for name := range after {
		names = append(names, name)
	}
	for name := range before {
		if _, ok := after[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var events []tracefile.Event
	for _, name := range names {
		old, cur := before[name], after[name]
		switch {
		case slices.Equal(old, cur):
		case len(cur) == 0:
			events = append(events, tracefile.ResponseHeaderChange(tracefile.OpDel, name, ""))
		case len(old) > 0 && len(cur) > len(old) && slices.Equal(cur[:len(old)], old):
			for _, v := range cur[len(old):] {
				events = append(events, tracefile.ResponseHeaderChange(tracefile.OpAdd, name, v))
			}
		default:
			events = append(events, tracefile.ResponseHeaderChange(tracefile.OpSet, name, cur[0]))
			for _, v := range cur[1:] {
				events = append(events, tracefile.ResponseHeaderChange(tracefile.OpAdd, name, v))
			}
		}
	}
	return events
}

// informational reports whether code is a 1xx status that does not commit
// the response.
func informational(code int) bool {
	return code >= 100 && code <= 199 && code != http.StatusSwitchingProtocols
}
