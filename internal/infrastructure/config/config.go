package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"golang.org/x/net/http/httpguts"
)

// ErrTraceDir is returned by Validate when the trace directory is unusable.
var ErrTraceDir = errors.New("'trace-dir' does not exist")

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig
	Trace   TraceConfig
	Async   AsyncConfig
	Logging LogConfig
	CORS    CORSConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8000"`
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// TraceConfig holds the trace filter parameters.
type TraceConfig struct {
	// Dir receives the tracer-*.log artifacts. Empty means the platform
	// temp directory.
	Dir string `envconfig:"TRACE_DIR" yaml:"trace-dir"`
	// IDHeader, when set, names the response header carrying the artifact
	// name, e.g. "X-TraceId".
	IDHeader string `envconfig:"TRACE_ID_HEADER" yaml:"trace-id-header"`
	// Exclude lists URL path globs that are never traced.
	Exclude []string `envconfig:"TRACE_EXCLUDE" yaml:"trace-exclude"`

	BreakerFailures uint32        `envconfig:"TRACE_BREAKER_FAILURES" default:"5"`
	BreakerCooldown time.Duration `envconfig:"TRACE_BREAKER_COOLDOWN" default:"30s"`
}

// AsyncConfig holds the suspended request settings.
type AsyncConfig struct {
	Timeout time.Duration `envconfig:"ASYNC_TIMEOUT" default:"30s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// CORSConfig holds the allowed origins of the demo server.
type CORSConfig struct {
	Origins []string `envconfig:"CORS_ORIGINS" default:"*"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8000",
			Host:            "0.0.0.0",
			ShutdownTimeout: 10 * time.Second,
		},
		Trace: TraceConfig{
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Async: AsyncConfig{
			Timeout: 30 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		CORS: CORSConfig{
			Origins: []string{"*"},
		},
	}
}

// Validate resolves the trace directory and checks the values the server
// cannot start without. A missing trace directory is fatal.
func (c *Config) Validate() error {
	if c.Trace.Dir == "" {
		c.Trace.Dir = os.TempDir()
	}
	info, err := os.Stat(c.Trace.Dir)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrTraceDir, c.Trace.Dir)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrTraceDir, c.Trace.Dir)
	}

	if c.Trace.IDHeader != "" && !httpguts.ValidHeaderFieldName(c.Trace.IDHeader) {
		return fmt.Errorf("invalid 'trace-id-header': %q", c.Trace.IDHeader)
	}
	if c.Async.Timeout <= 0 {
		return fmt.Errorf("async timeout must be positive, got %s", c.Async.Timeout)
	}
	return nil
}
