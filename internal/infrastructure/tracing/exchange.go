package tracing

import (
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracefilter/internal/async"
	"github.com/GriffinCanCode/tracefilter/internal/capture"
	"github.com/GriffinCanCode/tracefilter/internal/infrastructure/logging"
	"github.com/GriffinCanCode/tracefilter/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/tracefilter/internal/tracefile"
)

// state of a traced exchange. Excluded and NotStarted exchanges never get
// this far: they are served without an exchange value.
type state int

const (
	stateNotStarted state = iota
	stateExcluded
	stateTracing
	stateAsyncPending
	stateClosedSync
	stateClosedAsync
)

func (s state) String() string {
	switch s {
	case stateNotStarted:
		return "not-started"
	case stateExcluded:
		return "excluded"
	case stateTracing:
		return "tracing"
	case stateAsyncPending:
		return "async-pending"
	case stateClosedSync:
		return "closed-sync"
	case stateClosedAsync:
		return "closed-async"
	default:
		return "unknown"
	}
}

// exchange pairs one request, its response and its artifact. It owns the
// artifact and closes it exactly once.
type exchange struct {
	filter *Filter
	file   *tracefile.File
	req    *capture.Request
	resp   *capture.Response
	log    *zap.Logger

	mu    sync.Mutex
	state state
	code  int

	closeOnce sync.Once
	warnOnce  sync.Once
}

func newExchange(f *Filter, file *tracefile.File, w http.ResponseWriter, r *http.Request) *exchange {
	x := &exchange{
		filter: f,
		file:   file,
		log:    f.logger.With(logging.TraceID(file.ID())),
		state:  stateTracing,
		code:   http.StatusOK,
	}
	x.req = capture.NewRequest(r, file, x.captureFailed)
	x.resp = capture.NewResponse(w.Header(), file, x.captureFailed)

	x.log.Debug("trace opened",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("file", file.Path()))
	return x
}

func (x *exchange) current() state {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.state
}

// settle runs after the handler chain returned. code is committed for
// responses the handler never wrote.
func (x *exchange) settle(r *http.Request, code int) {
	ac := async.FromRequest(r)

	x.mu.Lock()
	x.code = code
	if ac != nil {
		x.state = stateAsyncPending
	}
	x.mu.Unlock()

	if ac == nil {
		x.close(stateClosedSync, "", nil, true)
		return
	}

	x.record(tracefile.LifecycleMarker(tracefile.MarkerAsyncSuspended, nil))
	ac.AddListener(x)
	x.log.Debug("trace suspended")
}

// recoverChain closes the artifact when the chain panics, then re-panics.
func (x *exchange) recoverChain() {
	if p := recover(); p != nil {
		x.log.Warn("handler panicked, closing trace", zap.Any("panic", p))
		x.close(stateClosedSync, "", nil, false)
		panic(p)
	}
}

// OnComplete implements async.Listener.
func (x *exchange) OnComplete(ev async.Event) {
	x.close(stateClosedAsync, tracefile.MarkerAsyncCompleted, nil, true)
}

// OnError implements async.Listener.
func (x *exchange) OnError(ev async.Event) {
	x.close(stateClosedAsync, tracefile.MarkerAsyncError, ev.Err, true)
}

// OnTimeout implements async.Listener.
func (x *exchange) OnTimeout(ev async.Event) {
	x.close(stateClosedAsync, tracefile.MarkerAsyncTimeout, ev.Err, true)
}

// close is the terminal action of the exchange. Only the first call has an
// effect; later notifications are dropped.
func (x *exchange) close(to state, marker tracefile.Marker, cause error, commit bool) {
	x.closeOnce.Do(func() {
		x.mu.Lock()
		from := x.state
		x.state = to
		code := x.code
		x.mu.Unlock()

		if marker != "" {
			x.record(tracefile.LifecycleMarker(marker, cause))
		}
		if commit {
			x.resp.Finish(code)
		}

		path := monitoring.PathSync
		if to == stateClosedAsync {
			path = monitoring.PathAsync
		}
		m := x.filter.metrics
		m.AddCapturedBytes(monitoring.DirectionRequest, x.req.BytesRead())
		m.AddCapturedBytes(monitoring.DirectionResponse, x.resp.BytesWritten())
		m.TraceClosed(path)

		if err := x.file.Close(); err != nil {
			x.log.Warn("trace close failed", zap.Error(err))
			return
		}
		x.log.Debug("trace closed",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
			zap.Int("status", x.resp.Status()))
	})
}

func (x *exchange) record(ev tracefile.Event) {
	if err := x.file.Record(ev); err != nil {
		x.captureFailed(err)
	}
}

// captureFailed isolates write failures from the data path. The first one
// per exchange is logged at warn level.
func (x *exchange) captureFailed(err error) {
	x.filter.metrics.CaptureError()
	logged := false
	x.warnOnce.Do(func() {
		logged = true
		x.log.Warn("trace capture failed", zap.Error(err))
	})
	if !logged {
		x.log.Debug("trace capture failed", zap.Error(err))
	}
}

var _ async.Listener = (*exchange)(nil)
