// Package async lets an HTTP handler suspend a request and finish it later
// from another goroutine.
//
// Handler installs the facility. A handler below it calls Start to suspend
// the request, returns, and later calls Complete or Fail on the Context from
// any goroutine. Handler keeps the serving goroutine (and with it the
// ResponseWriter) alive until then, or until the timeout elapses or the
// client goes away, and then notifies the registered listeners.
//
// The ResponseWriter handed to next stops accepting output once the request
// is over: writes that arrive after Complete, Fail, the timeout, or the
// return of a handler that never suspended fail with http.ErrHandlerTimeout.
//
//	srv := &http.Server{Handler: async.Handler(mux, async.Options{Timeout: 10 * time.Second})}
//
//	func slow(w http.ResponseWriter, r *http.Request) {
//		ac, err := async.Start(r)
//		if err != nil {
//			http.Error(w, err.Error(), http.StatusInternalServerError)
//			return
//		}
//		go func() {
//			defer ac.Complete()
//			io.WriteString(w, "done")
//		}()
//	}
package async

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"
)

var (
	// ErrUnsupported is returned by Start when the request is not served
	// through Handler.
	ErrUnsupported = errors.New("async: request not served by an async handler")
	// ErrAlreadyStarted is returned by Start on an already suspended request.
	ErrAlreadyStarted = errors.New("async: request already started")
	// ErrTimeout is the cause reported for requests that were not completed
	// in time.
	ErrTimeout = errors.New("async: request timed out")
)

// DefaultTimeout applies when Options.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Outcome says how a suspended request ended.
type Outcome int

const (
	Completed Outcome = iota
	Failed
	TimedOut
)

// String returns the string representation of the outcome
func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed-out"
	default:
		return "unknown"
	}
}

// Event is passed to listeners.
type Event struct {
	Request *http.Request
	Outcome Outcome
	Err     error
}

// Listener is notified when a suspended request ends. OnTimeout or OnError
// are delivered first when they apply; OnComplete is always delivered last.
type Listener interface {
	OnComplete(Event)
	OnError(Event)
	OnTimeout(Event)
}

// Options configures Handler.
type Options struct {
	// Timeout bounds how long a suspended request may stay open.
	Timeout time.Duration
}

type slotKey struct{}

// slot is what Handler places in the request context. It holds the Context
// once the request is started.
type slot struct {
	mu  sync.Mutex
	ctx *Context
}

// Context is the handle of a suspended request.
type Context struct {
	req  *http.Request
	done chan struct{}
	once sync.Once

	mu        sync.Mutex
	timeout   time.Duration
	err       error
	listeners []Listener
}

// Handler serves next with the async facility enabled.
func Handler(next http.Handler, opts Options) http.Handler {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := &slot{}
		r = r.WithContext(context.WithValue(r.Context(), slotKey{}, s))
		gw := &guardedWriter{ResponseWriter: w}

		next.ServeHTTP(gw, r)

		s.mu.Lock()
		ac := s.ctx
		s.mu.Unlock()
		if ac == nil {
			gw.close()
			return
		}
		ac.await(r.Context(), opts.Timeout, gw.close)
	})
}

// guardedWriter forwards to the real writer until close, then refuses output.
// The lock is held across forwarded calls, so close waits for a write that is
// already in flight.
type guardedWriter struct {
	http.ResponseWriter

	mu     sync.Mutex
	closed bool
	spare  http.Header
}

// Header returns a detached map once the writer is closed.
func (w *guardedWriter) Header() http.Header {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		if w.spare == nil {
			w.spare = make(http.Header)
		}
		return w.spare
	}
	return w.ResponseWriter.Header()
}

func (w *guardedWriter) WriteHeader(code int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *guardedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, http.ErrHandlerTimeout
	}
	return w.ResponseWriter.Write(p)
}

func (w *guardedWriter) Flush() {
	_ = w.FlushError()
}

func (w *guardedWriter) FlushError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return http.ErrHandlerTimeout
	}
	return http.NewResponseController(w.ResponseWriter).Flush()
}

func (w *guardedWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, nil, http.ErrHandlerTimeout
	}
	return http.NewResponseController(w.ResponseWriter).Hijack()
}

func (w *guardedWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *guardedWriter) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
}

// Start suspends the request.
func Start(r *http.Request) (*Context, error) {
	s, ok := r.Context().Value(slotKey{}).(*slot)
	if !ok {
		return nil, ErrUnsupported
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return nil, ErrAlreadyStarted
	}
	s.ctx = &Context{
		req:  r,
		done: make(chan struct{}),
	}
	return s.ctx, nil
}

// FromRequest returns the Context of a suspended request, or nil when the
// request was not suspended.
func FromRequest(r *http.Request) *Context {
	s, ok := r.Context().Value(slotKey{}).(*slot)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// IsStarted reports whether the request was suspended.
func IsStarted(r *http.Request) bool {
	return FromRequest(r) != nil
}

// AddListener registers l. Listeners run on the serving goroutine once the
// request ends, in registration order.
func (c *Context) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// SetTimeout overrides the handler timeout for this request. It has no effect
// once the handler has returned.
func (c *Context) SetTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = d
}

// Complete ends the request successfully. Only the first of Complete and Fail
// counts.
func (c *Context) Complete() {
	c.finish(nil)
}

// Fail ends the request with err.
func (c *Context) Fail(err error) {
	if err == nil {
		err = errors.New("async: request failed")
	}
	c.finish(err)
}

// Done is closed when Complete or Fail is first called.
func (c *Context) Done() <-chan struct{} {
	return c.done
}

// Request returns the request that was suspended.
func (c *Context) Request() *http.Request {
	return c.req
}

func (c *Context) finish(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

// await blocks until the request ends, runs release, then notifies the
// listeners.
func (c *Context) await(ctx context.Context, timeout time.Duration, release func()) {
	c.mu.Lock()
	if c.timeout > 0 {
		timeout = c.timeout
	}
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	outcome := Completed
	select {
	case <-c.done:
	case <-timer.C:
		outcome = TimedOut
		c.finish(ErrTimeout)
	case <-ctx.Done():
		c.finish(context.Cause(ctx))
	}
	release()

	c.mu.Lock()
	err := c.err
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	// A Complete racing with the timer wins if it got there first.
	if outcome == TimedOut && !errors.Is(err, ErrTimeout) {
		outcome = Completed
	}
	if outcome == Completed && err != nil {
		outcome = Failed
	}

	ev := Event{Request: c.req, Outcome: outcome, Err: err}
	for _, l := range listeners {
		switch outcome {
		case TimedOut:
			l.OnTimeout(ev)
		case Failed:
			l.OnError(ev)
		}
		l.OnComplete(ev)
	}
}
