package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/tracefilter/internal/infrastructure/config"
	"github.com/GriffinCanCode/tracefilter/internal/infrastructure/logging"
	"github.com/GriffinCanCode/tracefilter/internal/tracefile"
)

func testServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	cfg := config.Default()
	cfg.Trace.Dir = t.TempDir()
	cfg.Trace.IDHeader = "X-TraceId"
	cfg.Trace.Exclude = []string{"/metrics", "/healthz"}
	cfg.Async.Timeout = 2 * time.Second
	cfg.Logging.Development = true
	require.NoError(t, cfg.Validate())

	s, err := newServer(cfg, logging.NewNop())
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, cfg.Trace.Dir
}

func readTrace(t *testing.T, dir string, resp *http.Response) []tracefile.Event {
	t.Helper()
	name := resp.Header.Get("X-TraceId")
	require.NotEmpty(t, name)
	events, err := tracefile.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return events
}

func TestRootIsTraced(t *testing.T) {
	ts, dir := testServer(t)

	req, err := http.NewRequest("GET", ts.URL+"/", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/plain")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	events := readTrace(t, dir, resp)
	assert.Equal(t, "text/plain", events[1].Headers.Get("Accept"))
	assert.Equal(t, body, tracefile.Payload(events, tracefile.KindResponseBody))
	assert.Equal(t, tracefile.MarkerClosed, events[len(events)-1].Marker)
}

func TestEchoRoundTrip(t *testing.T) {
	ts, dir := testServer(t)

	resp, err := http.Post(ts.URL+"/echo", "text/plain", strings.NewReader("ping"))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, "ping", string(body))
	events := readTrace(t, dir, resp)
	assert.Equal(t, []byte("ping"), tracefile.Payload(events, tracefile.KindRequestBody))
	assert.Equal(t, []byte("ping"), tracefile.Payload(events, tracefile.KindResponseBody))
}

func TestAsyncDelayIsTraced(t *testing.T) {
	ts, dir := testServer(t)

	resp, err := http.Get(ts.URL + "/async/delay?ms=100")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, "delayed 100ms\n", string(body))
	events := readTrace(t, dir, resp)
	assert.Equal(t, []tracefile.Marker{
		tracefile.MarkerStarted,
		tracefile.MarkerAsyncSuspended,
		tracefile.MarkerAsyncCompleted,
		tracefile.MarkerClosed,
	}, tracefile.Markers(events))
}

func TestExcludedPathsAreNotTraced(t *testing.T) {
	ts, dir := testServer(t)

	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Empty(t, resp.Header.Get("X-TraceId"), path)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "tracer-*.log"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestNewServerRejectsMissingTraceDir(t *testing.T) {
	cfg := config.Default()
	cfg.Trace.Dir = filepath.Join(t.TempDir(), "missing")

	_, err := NewServer(cfg)
	assert.ErrorIs(t, err, config.ErrTraceDir)
}

func TestLoggerConfigPresets(t *testing.T) {
	cfg := config.Default()
	lc := loggerConfig(cfg)
	assert.False(t, lc.Development)
	assert.Equal(t, "info", lc.Level)
	assert.Equal(t, []string{"stdout"}, lc.OutputPaths)

	cfg.Logging.Development = true
	cfg.Logging.Level = ""
	lc = loggerConfig(cfg)
	assert.True(t, lc.Development)
	assert.Equal(t, "debug", lc.Level)

	cfg.Logging.Level = "warn"
	assert.Equal(t, "warn", loggerConfig(cfg).Level)
}
