package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Close paths of a trace artifact.
const (
	PathSync  = "sync"
	PathAsync = "async"
)

// Capture directions.
const (
	DirectionRequest  = "request"
	DirectionResponse = "response"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Trace metrics
	TracesOpened   prometheus.Counter
	TracesClosed   *prometheus.CounterVec
	TracesExcluded prometheus.Counter
	OpenFailures   *prometheus.CounterVec
	CaptureErrors  prometheus.Counter
	CapturedBytes  *prometheus.CounterVec
	TracesInflight prometheus.Gauge
	BreakerOpen    prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates a metrics collector backed by its own registry, so
// several collectors can coexist in one process (and in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracefilter_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tracefilter_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tracefilter_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tracefilter_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		// Trace metrics
		TracesOpened: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tracefilter_traces_opened_total",
				Help: "Total number of trace artifacts opened",
			},
		),
		TracesClosed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracefilter_traces_closed_total",
				Help: "Total number of trace artifacts closed, by close path",
			},
			[]string{"path"},
		),
		TracesExcluded: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tracefilter_traces_excluded_total",
				Help: "Total number of requests skipped by the exclusion policy",
			},
		),
		OpenFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracefilter_trace_open_failures_total",
				Help: "Total number of requests served untraced because no artifact could be opened",
			},
			[]string{"reason"},
		),
		CaptureErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tracefilter_capture_errors_total",
				Help: "Total number of events that could not be written to an artifact",
			},
		),
		CapturedBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracefilter_captured_bytes_total",
				Help: "Total number of body bytes captured",
			},
			[]string{"direction"},
		),
		TracesInflight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracefilter_traces_inflight",
				Help: "Number of trace artifacts currently open",
			},
		),
		BreakerOpen: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracefilter_trace_breaker_open",
				Help: "1 while artifact opens are suspended by the circuit breaker",
			},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "tracefilter_uptime_seconds",
			Help: "Server uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))
}

// TraceOpened records a new artifact.
func (m *Metrics) TraceOpened() {
	if m == nil {
		return
	}
	m.TracesOpened.Inc()
	m.TracesInflight.Inc()
}

// TraceClosed records a closed artifact; path is PathSync or PathAsync.
func (m *Metrics) TraceClosed(path string) {
	if m == nil {
		return
	}
	m.TracesClosed.WithLabelValues(path).Inc()
	m.TracesInflight.Dec()
}

// TraceExcluded records a request skipped by the exclusion policy.
func (m *Metrics) TraceExcluded() {
	if m == nil {
		return
	}
	m.TracesExcluded.Inc()
}

// OpenFailed records a request served untraced.
func (m *Metrics) OpenFailed(reason string) {
	if m == nil {
		return
	}
	m.OpenFailures.WithLabelValues(reason).Inc()
}

// CaptureError records an event lost to a write failure.
func (m *Metrics) CaptureError() {
	if m == nil {
		return
	}
	m.CaptureErrors.Inc()
}

// AddCapturedBytes records n captured body bytes in direction.
func (m *Metrics) AddCapturedBytes(direction string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.CapturedBytes.WithLabelValues(direction).Add(float64(n))
}

// SetBreakerOpen records the state of the open breaker.
func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerOpen.Set(1)
		return
	}
	m.BreakerOpen.Set(0)
}
