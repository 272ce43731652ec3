package http

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracefilter/internal/async"
	"github.com/GriffinCanCode/tracefilter/internal/infrastructure/logging"
)

// MaxDelay bounds the delay accepted by Delay.
const MaxDelay = 10 * time.Second

// Handlers contains the demo HTTP handlers
type Handlers struct {
	traceDir string
	logger   *logging.Logger
	started  time.Time
}

// NewHandlers creates a new handler set
func NewHandlers(traceDir string, logger *logging.Logger) *Handlers {
	return &Handlers{
		traceDir: traceDir,
		logger:   logger,
		started:  time.Now(),
	}
}

// Root answers with a plain text greeting
func (h *Handlers) Root(c *gin.Context) {
	c.String(http.StatusOK, "tracefilter demo\n")
}

// Health handles health check
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"trace_dir": h.traceDir,
		"uptime":    time.Since(h.started).Round(time.Second).String(),
	})
}

// Echo writes the request body back with the same content type
func (h *Handlers) Echo(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	contentType := c.ContentType()
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(http.StatusOK, contentType, body)
}

// Delay suspends the request and answers from another goroutine after the
// number of milliseconds given by the "ms" query parameter.
//
// It is a plain net/http handler: gin recycles its context once the engine
// returns, which rules out writing through it later.
func (h *Handlers) Delay(w http.ResponseWriter, r *http.Request) {
	delay, err := parseDelay(r.URL.Query().Get("ms"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ac, err := async.Start(r)
	if err != nil {
		h.logger.Error("async not available", zap.Error(err))
		http.Error(w, "async processing unavailable", http.StatusInternalServerError)
		return
	}

	// Headers are settled before suspending; the goroutine only writes the body.
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
			if _, err := fmt.Fprintf(w, "delayed %dms\n", delay.Milliseconds()); err != nil {
				h.logger.Debug("delayed response dropped", zap.Error(err))
			}
			ac.Complete()
		case <-ac.Done():
			// Timed out or the client went away.
		}
	}()
}

func parseDelay(raw string) (time.Duration, error) {
	if raw == "" {
		return 100 * time.Millisecond, nil
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms < 0 {
		return 0, fmt.Errorf("invalid ms %q", raw)
	}
	d := time.Duration(ms) * time.Millisecond
	if d > MaxDelay {
		return 0, fmt.Errorf("ms must not exceed %d", MaxDelay.Milliseconds())
	}
	return d, nil
}
