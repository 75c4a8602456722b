// internal/api/v2/api.go
package api

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	mw "github.com/bge-barcoding/BGE-library-curation-tool-win/internal/api/middleware"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/buildinfo"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/conf"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/curation"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/dataset"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/datastore"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/errors"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/export"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/logger"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/observability"
)

// Controller manages the API routes and handlers
type Controller struct {
	Echo     *echo.Echo
	Group    *echo.Group
	Datasets *dataset.Manager
	Settings *conf.Settings

	exporter    *export.Exporter
	metrics     *observability.Metrics
	log         logger.Logger
	controlChan chan string
	writeLimit  echo.MiddlewareFunc // applied to routes that modify state
	startTime   time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithMetrics exposes the collectors under /metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithLogger sets the API logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// New creates the v2 controller and registers its routes on e.
func New(e *echo.Echo, datasets *dataset.Manager, settings *conf.Settings,
	controlChan chan string, opts ...Option) (*Controller, error) {
	if datasets == nil {
		return nil, fmt.Errorf("dataset manager is required")
	}
	if settings == nil {
		return nil, fmt.Errorf("settings are required")
	}

	c := &Controller{
		Echo:        e,
		Group:       e.Group("/api/v2"),
		Datasets:    datasets,
		Settings:    settings,
		exporter:    export.NewExporter(settings.Export),
		log:         logger.Global().Module("api"),
		controlChan: controlChan,
		writeLimit:  mw.NewRateLimiter(settings.WebServer.RateLimit),
		startTime:   time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.Group.Use(middleware.Recover())
	c.initRoutes()
	return c, nil
}

func (c *Controller) initRoutes() {
	c.Group.GET("/health", c.HealthCheck)

	c.initDatasetRoutes()
	c.initRecordRoutes()
	c.initExportRoutes()
	c.initControlRoutes()

	if c.metrics != nil {
		c.Echo.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}
}

// HealthCheck handles GET /api/v2/health
func (c *Controller) HealthCheck(ctx echo.Context) error {
	var current string
	if ds := c.Datasets.Current(); ds != nil {
		current = ds.Name
	}
	uptime := time.Since(c.startTime)
	return ctx.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"dataset":        current,
		"version":        buildinfo.Current().GetVersion(),
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

// engine acquires the engine of the active dataset. Handlers defer the
// release so a dataset switch does not close it mid-request.
func (c *Controller) engine() (*curation.Engine, func(), error) {
	return c.Datasets.Acquire()
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// NewErrorResponse creates a new API error response
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}

	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: generateCorrelationID(),
	}
}

// generateCorrelationID creates an identifier for error tracking using cryptographic randomness
func generateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 8

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "ERR-RAND"
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}

// HandleError constructs and returns an appropriate error response
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	errorResp := NewErrorResponse(err, message, code)

	fields := []logger.Field{
		logger.String("correlation_id", errorResp.CorrelationID),
		logger.String("message", message),
		logger.Int("code", code),
		logger.String("path", ctx.Request().URL.Path),
		logger.String("method", ctx.Request().Method),
		logger.String("ip", ctx.RealIP()),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	if code >= http.StatusInternalServerError {
		c.log.Error("API error", fields...)
	} else {
		c.log.Warn("API error", fields...)
	}

	return ctx.JSON(code, errorResp)
}

// handleCurationError maps error categories to HTTP status codes.
func (c *Controller) handleCurationError(ctx echo.Context, err error, message string) error {
	return c.HandleError(ctx, err, message, statusCode(err))
}

func statusCode(err error) int {
	if errors.Is(err, datastore.ErrStoreClosed) {
		return http.StatusConflict
	}
	switch errors.GetCategory(err) {
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryValidation:
		return http.StatusBadRequest
	case errors.CategoryConflict, errors.CategoryState:
		return http.StatusConflict
	case errors.CategoryCancellation:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
