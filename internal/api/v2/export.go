package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/export"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/logger"
)

// ExportRequest is the body of POST /api/v2/export. Without columns every
// column is exported.
type ExportRequest struct {
	Columns []string `json:"columns"`
}

func (c *Controller) initExportRoutes() {
	c.Group.POST("/export", c.ExportCSV, c.writeLimit)
}

// ExportCSV handles POST /api/v2/export
// The CSV is buffered so a failed export still gets a JSON error response.
func (c *Controller) ExportCSV(ctx echo.Context) error {
	var req ExportRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	engine, release, err := c.engine()
	if err != nil {
		return c.handleCurationError(ctx, err, "No dataset selected")
	}
	defer release()

	var buf bytes.Buffer
	rows, err := c.exporter.Write(ctx.Request().Context(), &buf, engine.Store(), req.Columns)
	if err != nil {
		return c.handleCurationError(ctx, err, "Failed to export records")
	}

	c.log.Info("export served", logger.Int("rows", rows), logger.String("ip", ctx.RealIP()))
	ctx.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%q", export.DefaultFilename))
	return ctx.Blob(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}
