package tracing

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http/httpguts"

	"github.com/GriffinCanCode/tracefilter/internal/infrastructure/logging"
	"github.com/GriffinCanCode/tracefilter/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/tracefilter/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/tracefilter/internal/tracefile"
)

// ErrConfig is returned by NewFilter when the filter cannot start.
var ErrConfig = errors.New("tracing: invalid configuration")

// Reasons reported for requests served untraced.
const (
	ReasonUnavailable = "unavailable"
	ReasonBreaker     = "breaker-open"
	ReasonWrite       = "write-failed"
)

// Config holds the filter parameters.
type Config struct {
	// Dir is the directory receiving artifacts. Empty means os.TempDir().
	Dir string
	// IDHeader, when set, is added to every traced response with the
	// artifact name as value.
	IDHeader string
	// BreakerFailures is the number of consecutive open failures after which
	// opens are suspended for BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Option configures a Filter.
type Option func(*Filter)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *logging.Logger) Option {
	return func(f *Filter) { f.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(f *Filter) { f.metrics = m }
}

// WithPolicy sets the exclusion policy. The default is IncludeAll.
func WithPolicy(p Policy) Option {
	return func(f *Filter) { f.policy = p }
}

// WithBreaker replaces the breaker guarding artifact opens.
func WithBreaker(b *resilience.Breaker) Option {
	return func(f *Filter) { f.breaker = b }
}

// WithFileOptions passes options to every tracefile.Open call.
func WithFileOptions(opts ...tracefile.Option) Option {
	return func(f *Filter) { f.fileOpts = append(f.fileOpts, opts...) }
}

// Filter traces HTTP exchanges into one artifact per request.
type Filter struct {
	dir      string
	header   string
	policy   Policy
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	breaker  *resilience.Breaker
	fileOpts []tracefile.Option
}

// NewFilter validates cfg and builds a Filter. A trace directory that does
// not exist is a configuration error.
func NewFilter(cfg Config, opts ...Option) (*Filter, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: trace-dir: %w", ErrConfig, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: trace-dir %s is not a directory", ErrConfig, dir)
	}
	if cfg.IDHeader != "" && !httpguts.ValidHeaderFieldName(cfg.IDHeader) {
		return nil, fmt.Errorf("%w: trace-id-header %q", ErrConfig, cfg.IDHeader)
	}

	f := &Filter{
		dir:    dir,
		header: cfg.IDHeader,
		policy: IncludeAll,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.policy == nil {
		f.policy = IncludeAll
	}
	if f.breaker == nil {
		f.breaker = resilience.New("trace-dir", resilience.Settings{
			Threshold:     cfg.BreakerFailures,
			Cooldown:      cfg.BreakerCooldown,
			OnStateChange: f.breakerChanged,
		})
	}
	return f, nil
}

// Dir returns the resolved trace directory.
func (f *Filter) Dir() string { return f.dir }

// Wrap returns next with tracing applied. The async facility, when used,
// must be installed outside the returned handler.
func (f *Filter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		x := f.begin(w, r)
		if x == nil {
			next.ServeHTTP(w, r)
			return
		}
		defer x.recoverChain()

		req := x.req.HTTPRequest()
		next.ServeHTTP(x.resp.Wrap(w), req)
		x.settle(req, http.StatusOK)
	})
}

// begin runs the exclusion check and opens the artifact. It returns nil when
// the request must pass through untraced.
func (f *Filter) begin(w http.ResponseWriter, r *http.Request) *exchange {
	if f.policy(r) {
		f.metrics.TraceExcluded()
		return nil
	}

	file, err := resilience.Execute(f.breaker, func() (*tracefile.File, error) {
		return tracefile.Open(f.dir, f.fileOpts...)
	})
	if err != nil {
		f.openFailed(r, err)
		return nil
	}
	f.metrics.TraceOpened()

	// Set on the real writer, ahead of the response baseline, so it is not
	// recorded as a handler change.
	if f.header != "" {
		w.Header().Set(f.header, file.ID())
	}
	return newExchange(f, file, w, r)
}

func (f *Filter) openFailed(r *http.Request, err error) {
	switch {
	case resilience.Rejected(err):
		f.metrics.OpenFailed(ReasonBreaker)
		f.logger.Debug("trace skipped, opens suspended",
			zap.String("path", r.URL.Path))
	case errors.Is(err, tracefile.ErrWriteFailed):
		f.metrics.OpenFailed(ReasonWrite)
		f.logger.Warn("trace skipped", zap.String("path", r.URL.Path), zap.Error(err))
	default:
		f.metrics.OpenFailed(ReasonUnavailable)
		f.logger.Warn("trace skipped", zap.String("path", r.URL.Path), zap.Error(err))
	}
}

func (f *Filter) breakerChanged(name string, from, to resilience.State) {
	f.metrics.SetBreakerOpen(to == resilience.StateOpen)
	f.logger.Info("trace breaker state changed",
		zap.String("breaker", name),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.String("dir", f.dir))
}
