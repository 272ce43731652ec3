package tracing

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/tracefilter/internal/async"
	"github.com/GriffinCanCode/tracefilter/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/tracefilter/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/tracefilter/internal/shared/id"
	"github.com/GriffinCanCode/tracefilter/internal/tracefile"
)

func artifacts(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "tracer-*.log"))
	require.NoError(t, err)
	return matches
}

func onlyArtifact(t *testing.T, dir string) []tracefile.Event {
	t.Helper()
	paths := artifacts(t, dir)
	require.Len(t, paths, 1)
	events, err := tracefile.ReadFile(paths[0])
	require.NoError(t, err)
	return events
}

func kinds(events []tracefile.Event) []tracefile.Kind {
	out := make([]tracefile.Kind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func newFilter(t *testing.T, cfg Config, opts ...Option) *Filter {
	t.Helper()
	f, err := NewFilter(cfg, opts...)
	require.NoError(t, err)
	return f
}

func TestNewFilter(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid", cfg: Config{Dir: dir, IDHeader: "X-TraceId"}},
		{name: "temp dir default", cfg: Config{}},
		{name: "missing dir", cfg: Config{Dir: filepath.Join(dir, "missing")}, wantErr: true},
		{name: "not a directory", cfg: Config{Dir: file}, wantErr: true},
		{name: "bad header", cfg: Config{Dir: dir, IDHeader: "X:Trace"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFilter(tt.cfg)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrConfig)
				assert.Nil(t, f)
				return
			}
			require.NoError(t, err)
			if tt.cfg.Dir == "" {
				assert.Equal(t, os.TempDir(), f.Dir())
			}
		})
	}
}

func TestSynchronousRequest(t *testing.T) {
	dir := t.TempDir()
	f := newFilter(t, Config{Dir: dir, IDHeader: "X-TraceId"})

	h := f.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/plain", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "hello")
	}))

	req := httptest.NewRequest("GET", "/greeting", nil)
	req.Header.Set("Accept", "text/plain")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "hello", rec.Body.String())

	paths := artifacts(t, dir)
	require.Len(t, paths, 1)
	assert.Equal(t, filepath.Base(paths[0]), rec.Header().Get("X-TraceId"))
	assert.True(t, id.IsArtifactName(rec.Header().Get("X-TraceId")))

	events := onlyArtifact(t, dir)
	assert.Equal(t, []tracefile.Kind{
		tracefile.KindMarker,
		tracefile.KindRequestHeaders,
		tracefile.KindResponseHeader,
		tracefile.KindResponseStatus,
		tracefile.KindResponseBody,
		tracefile.KindMarker,
	}, kinds(events))

	assert.Equal(t, "text/plain", events[1].Headers.Get("Accept"))
	assert.Equal(t, "Content-Type", events[2].Name)
	assert.Equal(t, http.StatusOK, events[3].Status)
	assert.Equal(t, []byte("hello"), tracefile.Payload(events, tracefile.KindResponseBody))
	assert.Equal(t, []tracefile.Marker{tracefile.MarkerStarted, tracefile.MarkerClosed}, tracefile.Markers(events))

	for _, ev := range events {
		assert.NotEqual(t, "X-Traceid", ev.Name, "correlation header must not be recorded as a handler change")
	}
}

func TestSynchronousRequestWithoutWrite(t *testing.T) {
	dir := t.TempDir()
	f := newFilter(t, Config{Dir: dir})

	h := f.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("HEAD", "/", nil))

	events := onlyArtifact(t, dir)
	status := 0
	for _, ev := range events {
		if ev.Kind == tracefile.KindResponseStatus {
			status = ev.Status
		}
	}
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, rec.Header().Get("X-TraceId"))
	assert.Equal(t, tracefile.MarkerClosed, events[len(events)-1].Marker)
}

func TestAsynchronousRequest(t *testing.T) {
	dir := t.TempDir()
	metrics := monitoring.NewMetrics()
	f := newFilter(t, Config{Dir: dir, IDHeader: "X-TraceId"}, WithMetrics(metrics))

	var beforeComplete []tracefile.Marker
	h := async.Handler(f.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, err := async.Start(r)
		require.NoError(t, err)

		go func() {
			time.Sleep(500 * time.Millisecond)
			io.WriteString(w, "done")

			paths := artifacts(t, dir)
			if assert.Len(t, paths, 1) {
				events, err := tracefile.ReadFile(paths[0])
				assert.NoError(t, err)
				beforeComplete = tracefile.Markers(events)
			}
			ac.Complete()
		}()
	})), async.Options{Timeout: 5 * time.Second})

	rec := httptest.NewRecorder()
	start := time.Now()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/slow", nil))

	assert.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, "done", rec.Body.String())
	assert.Equal(t, []tracefile.Marker{tracefile.MarkerStarted, tracefile.MarkerAsyncSuspended}, beforeComplete)

	events := onlyArtifact(t, dir)
	assert.Equal(t, []tracefile.Marker{
		tracefile.MarkerStarted,
		tracefile.MarkerAsyncSuspended,
		tracefile.MarkerAsyncCompleted,
		tracefile.MarkerClosed,
	}, tracefile.Markers(events))
	assert.Equal(t, []byte("done"), tracefile.Payload(events, tracefile.KindResponseBody))

	var bodySeq, completedSeq uint64
	for _, ev := range events {
		switch {
		case ev.Kind == tracefile.KindResponseBody:
			bodySeq = ev.Seq
		case ev.Marker == tracefile.MarkerAsyncCompleted:
			completedSeq = ev.Seq
		}
	}
	assert.Less(t, bodySeq, completedSeq)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TracesClosed.WithLabelValues(monitoring.PathAsync)))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.TracesInflight))
}

func TestAsyncTimeoutClosesArtifact(t *testing.T) {
	dir := t.TempDir()
	f := newFilter(t, Config{Dir: dir})

	h := async.Handler(f.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, err := async.Start(r)
		require.NoError(t, err)
		ac.SetTimeout(20 * time.Millisecond)
	})), async.Options{})

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	events := onlyArtifact(t, dir)
	markers := tracefile.Markers(events)
	assert.Equal(t, []tracefile.Marker{
		tracefile.MarkerStarted,
		tracefile.MarkerAsyncSuspended,
		tracefile.MarkerAsyncTimeout,
		tracefile.MarkerClosed,
	}, markers)
}

func TestLateWriteAfterAsyncTimeout(t *testing.T) {
	dir := t.TempDir()
	f := newFilter(t, Config{Dir: dir, IDHeader: "X-TraceId"})
	late := make(chan error, 1)

	srv := httptest.NewServer(async.Handler(f.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := async.Start(r)
		if !assert.NoError(t, err) {
			return
		}
		go func() {
			time.Sleep(100 * time.Millisecond)
			_, err := io.WriteString(w, "too late")
			late <- err
		}()
	})), async.Options{Timeout: 20 * time.Millisecond}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	select {
	case err := <-late:
		assert.ErrorIs(t, err, http.ErrHandlerTimeout)
	case <-time.After(5 * time.Second):
		t.Fatal("late write never returned")
	}

	events := onlyArtifact(t, dir)
	assert.Empty(t, tracefile.Payload(events, tracefile.KindResponseBody))
	assert.Equal(t, tracefile.MarkerClosed, events[len(events)-1].Marker)
}

func TestHijackThroughFilter(t *testing.T) {
	dir := t.TempDir()
	f := newFilter(t, Config{Dir: dir, IDHeader: "X-TraceId"})

	srv := httptest.NewServer(async.Handler(f.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !assert.True(t, ok, "writer should support hijacking") {
			return
		}
		conn, buf, err := hj.Hijack()
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		buf.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: close\r\n\r\nhi")
		assert.NoError(t, buf.Flush())
	})), async.Options{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	assert.Equal(t, "hi", string(body))

	// The client can finish reading before the handler returns.
	assert.Eventually(t, func() bool {
		paths, _ := filepath.Glob(filepath.Join(dir, "tracer-*.log"))
		if len(paths) != 1 {
			return false
		}
		events, err := tracefile.ReadFile(paths[0])
		return err == nil && len(events) > 0 && events[len(events)-1].Marker == tracefile.MarkerClosed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClientGoneDuringAsync(t *testing.T) {
	dir := t.TempDir()
	f := newFilter(t, Config{Dir: dir})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := async.Handler(f.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := async.Start(r)
		require.NoError(t, err)
		cancel()
	})), async.Options{Timeout: time.Hour})

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil).WithContext(ctx))

	events := onlyArtifact(t, dir)
	assert.Equal(t, []tracefile.Marker{
		tracefile.MarkerStarted,
		tracefile.MarkerAsyncSuspended,
		tracefile.MarkerAsyncError,
		tracefile.MarkerClosed,
	}, tracefile.Markers(events))

	for _, ev := range events {
		if ev.Marker == tracefile.MarkerAsyncError {
			assert.Equal(t, context.Canceled.Error(), ev.Error)
		}
	}
}

func TestRepeatedNotificationsCloseOnce(t *testing.T) {
	dir := t.TempDir()
	f := newFilter(t, Config{Dir: dir})

	x := f.begin(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	require.NotNil(t, x)
	assert.Equal(t, stateTracing, x.current())

	x.OnError(async.Event{Outcome: async.Failed, Err: io.ErrUnexpectedEOF})
	x.OnComplete(async.Event{Outcome: async.Failed, Err: io.ErrUnexpectedEOF})
	x.OnTimeout(async.Event{Outcome: async.TimedOut})

	assert.Equal(t, stateClosedAsync, x.current())
	assert.True(t, x.file.Closed())
	assert.Equal(t, []tracefile.Marker{
		tracefile.MarkerStarted,
		tracefile.MarkerAsyncError,
		tracefile.MarkerClosed,
	}, tracefile.Markers(onlyArtifact(t, dir)))
}

func TestExcludedRequests(t *testing.T) {
	dir := t.TempDir()
	metrics := monitoring.NewMetrics()
	f := newFilter(t, Config{Dir: dir, IDHeader: "X-TraceId"}, WithPolicy(ExcludeAll), WithMetrics(metrics))

	h := f.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "untouched")
	}))

	const n = 20
	for i := 0; i < n; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
		assert.Equal(t, "untouched", rec.Body.String())
		assert.Empty(t, rec.Header().Get("X-TraceId"))
	}

	assert.Empty(t, artifacts(t, dir))
	assert.Equal(t, float64(n), testutil.ToFloat64(metrics.TracesExcluded))
}

func TestExcludePaths(t *testing.T) {
	policy, err := ExcludePaths("/metrics", "/static/**", "/*.ico")
	require.NoError(t, err)

	tests := []struct {
		path     string
		excluded bool
	}{
		{"/metrics", true},
		{"/static/css/site.css", true},
		{"/favicon.ico", true},
		{"/api/metrics", false},
		{"/", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.excluded, policy(httptest.NewRequest("GET", tt.path, nil)))
		})
	}

	_, err = ExcludePaths("/[unclosed")
	assert.ErrorIs(t, err, ErrConfig)

	none, err := ExcludePaths()
	require.NoError(t, err)
	assert.False(t, none(httptest.NewRequest("GET", "/metrics", nil)))
}

func TestConcurrentRequests(t *testing.T) {
	dir := t.TempDir()
	f := newFilter(t, Config{Dir: dir, IDHeader: "X-TraceId"})

	srv := httptest.NewServer(f.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		io.Copy(w, r.Body)
	})))
	defer srv.Close()

	const m = 32
	var (
		mu   sync.Mutex
		sent = make(map[string]string, m)
		wg   sync.WaitGroup
	)
	for i := 0; i < m; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := fmt.Sprintf("request-%02d-%s", i, strings.Repeat("x", i*100))
			resp, err := http.Post(srv.URL+"/echo", "text/plain", strings.NewReader(body))
			if !assert.NoError(t, err) {
				return
			}
			defer resp.Body.Close()
			got, err := io.ReadAll(resp.Body)
			assert.NoError(t, err)
			assert.Equal(t, body, string(got))

			mu.Lock()
			sent[resp.Header.Get("X-TraceId")] = body
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	require.Len(t, sent, m, "artifact names must be distinct")
	require.Len(t, artifacts(t, dir), m)

	for name, body := range sent {
		events, err := tracefile.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.Equal(t, body, string(tracefile.Payload(events, tracefile.KindRequestBody)), name)
		assert.Equal(t, body, string(tracefile.Payload(events, tracefile.KindResponseBody)), name)
		assert.Equal(t, tracefile.MarkerClosed, events[len(events)-1].Marker)
		for i, ev := range events {
			assert.Equal(t, uint64(i+1), ev.Seq)
		}
	}
}

func TestBodyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	f := newFilter(t, Config{Dir: dir})

	payload := make([]byte, 256<<10)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	srv := httptest.NewServer(f.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		for off := 0; off < len(body); off += 10000 {
			end := min(off+10000, len(body))
			w.Write(body[off:end])
		}
	})))
	defer srv.Close()

	resp, err := http.Post(srv.URL, "application/octet-stream", bytes.NewReader(payload))
	require.NoError(t, err)
	received, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	events := onlyArtifact(t, dir)
	assert.True(t, bytes.Equal(payload, tracefile.Payload(events, tracefile.KindRequestBody)))
	assert.True(t, bytes.Equal(received, tracefile.Payload(events, tracefile.KindResponseBody)))
	assert.True(t, bytes.Equal(payload, received))

	// The header snapshot precedes every body chunk.
	for _, ev := range events {
		if ev.Kind == tracefile.KindRequestBody {
			assert.Greater(t, ev.Seq, events[1].Seq)
		}
	}
	assert.Equal(t, tracefile.KindRequestHeaders, events[1].Kind)
}

func TestOpenFailurePassesThrough(t *testing.T) {
	dir := t.TempDir()
	metrics := monitoring.NewMetrics()
	f := newFilter(t, Config{Dir: dir, IDHeader: "X-TraceId"}, WithMetrics(metrics))
	require.NoError(t, os.RemoveAll(dir))

	h := f.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		io.WriteString(w, "served")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "served", rec.Body.String())
	assert.Empty(t, rec.Header().Get("X-TraceId"))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.OpenFailures.WithLabelValues(ReasonUnavailable)))
}

func TestBreakerSuspendsOpens(t *testing.T) {
	dir := t.TempDir()
	metrics := monitoring.NewMetrics()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	f := newFilter(t, Config{Dir: dir}, WithMetrics(metrics))
	f.breaker = resilience.New("trace-dir", resilience.Settings{
		Threshold:     2,
		Cooldown:      time.Minute,
		OnStateChange: f.breakerChanged,
		Now:           clock,
	})
	require.NoError(t, os.RemoveAll(dir))

	h := f.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))
	serve := func() string {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
		return rec.Body.String()
	}

	for i := 0; i < 5; i++ {
		assert.Equal(t, "ok", serve())
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.OpenFailures.WithLabelValues(ReasonUnavailable)))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.OpenFailures.WithLabelValues(ReasonBreaker)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BreakerOpen))

	// The directory comes back; opens resume after the cooldown.
	require.NoError(t, os.MkdirAll(dir, 0o755))
	serve()
	assert.Empty(t, artifacts(t, dir))

	now = now.Add(2 * time.Minute)
	assert.Equal(t, "ok", serve())
	assert.Len(t, artifacts(t, dir), 1)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.BreakerOpen))
}

func TestPanicClosesArtifact(t *testing.T) {
	dir := t.TempDir()
	metrics := monitoring.NewMetrics()
	f := newFilter(t, Config{Dir: dir}, WithMetrics(metrics))

	h := f.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	assert.PanicsWithValue(t, "boom", func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	})

	events := onlyArtifact(t, dir)
	assert.Equal(t, []tracefile.Marker{tracefile.MarkerStarted, tracefile.MarkerClosed}, tracefile.Markers(events))
	assert.NotContains(t, kinds(events), tracefile.KindResponseStatus)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.TracesInflight))
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	f := newFilter(t, Config{Dir: dir, IDHeader: "X-TraceId"})

	router := gin.New()
	router.Use(f.HTTPMiddleware())
	router.POST("/items", func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		assert.NoError(t, err)
		c.Header("X-Item", "created")
		c.String(http.StatusCreated, "got %s", body)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/items", strings.NewReader("apple")))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "got apple", rec.Body.String())

	events := onlyArtifact(t, dir)
	assert.Equal(t, filepath.Base(artifacts(t, dir)[0]), rec.Header().Get("X-TraceId"))
	assert.Equal(t, []byte("apple"), tracefile.Payload(events, tracefile.KindRequestBody))
	assert.Equal(t, []byte("got apple"), tracefile.Payload(events, tracefile.KindResponseBody))

	var names []string
	for _, ev := range events {
		if ev.Kind == tracefile.KindResponseHeader {
			names = append(names, ev.Name)
		}
		if ev.Kind == tracefile.KindResponseStatus {
			assert.Equal(t, http.StatusCreated, ev.Status)
		}
	}
	assert.Contains(t, names, "X-Item")
	assert.NotContains(t, names, "X-Traceid")
	assert.Equal(t, tracefile.MarkerClosed, events[len(events)-1].Marker)
}
