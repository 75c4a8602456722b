// internal/api/v2/control.go
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/logger"
)

// ControlResult represents the result of a control action
type ControlResult struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// Available control actions
const (
	ActionShutdown = "shutdown"
)

// Control channel signals
const (
	SignalShutdown = "shutdown"
)

func (c *Controller) initControlRoutes() {
	c.Group.POST("/control/shutdown", c.Shutdown, c.writeLimit)
}

// Shutdown handles POST /api/v2/control/shutdown
// The response is written before the server stops.
func (c *Controller) Shutdown(ctx echo.Context) error {
	if c.controlChan == nil {
		return c.HandleError(ctx, fmt.Errorf("control channel not initialized"),
			"System control interface not available", http.StatusInternalServerError)
	}

	select {
	case c.controlChan <- SignalShutdown:
		c.log.Info("shutdown requested via API", logger.String("ip", ctx.RealIP()))
	default:
		// a shutdown is already pending
		c.log.Debug("shutdown signal already queued")
	}

	return ctx.JSON(http.StatusOK, ControlResult{
		Success:   true,
		Message:   "Server is shutting down",
		Action:    ActionShutdown,
		Timestamp: time.Now(),
	})
}
