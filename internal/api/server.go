package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	mw "github.com/bge-barcoding/BGE-library-curation-tool-win/internal/api/middleware"
	v2 "github.com/bge-barcoding/BGE-library-curation-tool-win/internal/api/v2"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/buildinfo"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/conf"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/dataset"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/logger"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/observability"
)

// Server is the HTTP server of the curation tool.
// It manages the Echo instance, middleware, and all HTTP routes.
type Server struct {
	echo     *echo.Echo
	config   *Config
	settings *conf.Settings
	log      logger.Logger

	datasets    *dataset.Manager
	metrics     *observability.Metrics
	controlChan chan string

	apiController *v2.Controller

	startTime time.Time
	errCh     chan error
	stopOnce  sync.Once
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the observability metrics for the server.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithControlChannel sets the control channel for system commands.
func WithControlChannel(ch chan string) ServerOption {
	return func(s *Server) {
		s.controlChan = ch
	}
}

// New creates a new HTTP server serving the datasets of m.
func New(settings *conf.Settings, m *dataset.Manager, opts ...ServerOption) (*Server, error) {
	config := ConfigFromSettings(settings)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	s := &Server{
		config:    config,
		settings:  settings,
		log:       GetLogger(),
		datasets:  m,
		startTime: time.Now(),
		errCh:     make(chan error, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.controlChan == nil {
		s.controlChan = make(chan string, 1)
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Logger = logger.NewEchoLoggerAdapter(s.log.Module("echo"))

	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()
	if err := s.setupRoutes(); err != nil {
		return nil, fmt.Errorf("failed to setup routes: %w", err)
	}

	s.log.Info("HTTP server initialized",
		logger.String("address", config.Address()),
		logger.String("body_limit", config.BodyLimit),
		logger.Float64("rate_limit", config.RateLimit))
	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	// Recovery middleware - should be first
	s.echo.Use(echomw.Recover())
	s.echo.Use(mw.NewRequestID())
	s.echo.Use(mw.NewRequestLoggerWithSkipper(s.log.Module("http"), func(c echo.Context) bool {
		return c.Path() == "/metrics" || c.Path() == "/health"
	}))

	securityConfig := mw.SecurityConfig{AllowedOrigins: s.config.AllowedOrigins}
	s.echo.Use(mw.NewCORS(securityConfig))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewSecureHeaders(securityConfig))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() error {
	s.echo.GET("/health", s.healthCheck)

	var opts []v2.Option
	opts = append(opts, v2.WithLogger(s.log))
	if s.metrics != nil {
		opts = append(opts, v2.WithMetrics(s.metrics))
	}
	apiController, err := v2.New(s.echo, s.datasets, s.settings, s.controlChan, opts...)
	if err != nil {
		return fmt.Errorf("failed to initialize API v2: %w", err)
	}
	s.apiController = apiController
	return nil
}

// healthCheck handles the server health check endpoint.
func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)
	build := buildinfo.Current()
	return c.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"version":        build.GetVersion(),
		"build_date":     build.GetBuildDate(),
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

// Start begins serving HTTP requests in a background goroutine and
// returns immediately. Use Shutdown to stop the server.
func (s *Server) Start() {
	go func() {
		s.log.Info("HTTP server starting", logger.String("address", s.config.Address()))
		if err := s.echo.Start(s.config.Address()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errCh <- fmt.Errorf("server error: %w", err)
		}
	}()
}

// Serve serves on an existing listener until Shutdown.
func (s *Server) Serve(l net.Listener) {
	s.echo.Listener = l
	s.Start()
}

// Run starts the server and blocks until ctx is done, a shutdown is
// requested through the control channel, or the server fails. The server
// is shut down before Run returns.
func (s *Server) Run(ctx context.Context) error {
	if s.echo.Listener == nil {
		s.Start()
	}

	var runErr error
	select {
	case <-ctx.Done():
		s.log.Info("shutdown signal received")
	case sig := <-s.controlChan:
		s.log.Info("shutdown requested", logger.String("signal", sig))
	case runErr = <-s.errCh:
		s.log.Error("HTTP server failed", logger.Error(runErr))
	}

	if err := s.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown gracefully stops the server. In-flight requests finish within
// the shutdown timeout.
func (s *Server) Shutdown() error {
	var err error
	s.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if err = s.echo.Shutdown(ctx); err != nil {
			s.log.Error("error during server shutdown", logger.Error(err))
			err = fmt.Errorf("shutdown error: %w", err)
			return
		}
		s.log.Info("server shutdown complete")
	})
	return err
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// APIController returns the v2 API controller.
func (s *Server) APIController() *v2.Controller {
	return s.apiController
}
