package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/tracefilter/internal/api/http"
	"github.com/GriffinCanCode/tracefilter/internal/api/middleware"
	"github.com/GriffinCanCode/tracefilter/internal/async"
	"github.com/GriffinCanCode/tracefilter/internal/infrastructure/config"
	"github.com/GriffinCanCode/tracefilter/internal/infrastructure/logging"
	"github.com/GriffinCanCode/tracefilter/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/tracefilter/internal/infrastructure/tracing"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	http    *http.Server
	handler http.Handler
	filter  *tracing.Filter
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(loggerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return newServer(cfg, logger)
}

// loggerConfig starts from the production or development preset and applies
// the configured level on top.
func loggerConfig(cfg *config.Config) logging.Config {
	lc := logging.DefaultConfig()
	if cfg.Logging.Development {
		lc = logging.DevelopmentConfig()
	}
	if cfg.Logging.Level != "" {
		lc.Level = cfg.Logging.Level
	}
	return lc
}

func newServer(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	logger.Info("Initializing trace server",
		zap.String("port", cfg.Server.Port),
		zap.String("trace_dir", cfg.Trace.Dir),
		zap.String("trace_id_header", cfg.Trace.IDHeader),
	)

	metrics := monitoring.NewMetrics()

	policy, err := tracing.ExcludePaths(cfg.Trace.Exclude...)
	if err != nil {
		return nil, err
	}
	filter, err := tracing.NewFilter(tracing.Config{
		Dir:             cfg.Trace.Dir,
		IDHeader:        cfg.Trace.IDHeader,
		BreakerFailures: cfg.Trace.BreakerFailures,
		BreakerCooldown: cfg.Trace.BreakerCooldown,
	},
		tracing.WithLogger(logger.Named("tracing")),
		tracing.WithMetrics(metrics),
		tracing.WithPolicy(policy),
	)
	if err != nil {
		return nil, err
	}
	logger.Info("Trace filter initialized", zap.String("dir", filter.Dir()))

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	corsCfg := middleware.DefaultCORSConfig(cfg.Trace.IDHeader)
	corsCfg.AllowOrigins = cfg.CORS.Origins
	router.Use(middleware.CORS(corsCfg))

	handlers := apihttp.NewHandlers(filter.Dir(), logger.Named("http"))

	router.GET("/", handlers.Root)
	router.GET("/healthz", handlers.Health)
	router.POST("/echo", handlers.Echo)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Suspended requests bypass gin.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /async/delay", handlers.Delay)
	mux.Handle("/", router)

	handler := async.Handler(filter.Wrap(mux), async.Options{Timeout: cfg.Async.Timeout})

	return &Server{
		http: &http.Server{
			Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
			Handler: handler,
		},
		handler: handler,
		filter:  filter,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

// Handler returns the root handler, filter included.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run starts the HTTP server. It returns nil after Shutdown.
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests,
// suspended ones included, so their artifacts get closed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	err := s.http.Shutdown(ctx)

	// Sync logger before exit
	_ = s.logger.Sync()

	if err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}
