package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/logger"
)

// DatasetList is the response of GET /api/v2/datasets.
type DatasetList struct {
	Datasets []string `json:"datasets"`
	Current  string   `json:"current"`
}

// SwitchRequest is the body of POST /api/v2/datasets/switch.
type SwitchRequest struct {
	Dataset string `json:"dataset"`
}

// SwitchResponse reports the dataset that became active.
type SwitchResponse struct {
	Success  bool      `json:"success"`
	Dataset  string    `json:"dataset"`
	Imported int       `json:"imported,omitempty"`
	OpenedAt time.Time `json:"openedAt"`
}

func (c *Controller) initDatasetRoutes() {
	c.Group.GET("/datasets", c.ListDatasets)
	c.Group.POST("/datasets/switch", c.SwitchDataset, c.writeLimit)
	c.Group.GET("/columns", c.GetColumns)
}

// ListDatasets handles GET /api/v2/datasets
func (c *Controller) ListDatasets(ctx echo.Context) error {
	names, err := c.Datasets.List()
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list datasets", http.StatusInternalServerError)
	}
	resp := DatasetList{Datasets: names}
	if ds := c.Datasets.Current(); ds != nil {
		resp.Current = ds.Name
	}
	return ctx.JSON(http.StatusOK, resp)
}

// SwitchDataset handles POST /api/v2/datasets/switch
func (c *Controller) SwitchDataset(ctx echo.Context) error {
	var req SwitchRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}

	ds, err := c.Datasets.Switch(ctx.Request().Context(), req.Dataset)
	if err != nil {
		return c.handleCurationError(ctx, err, "Failed to open dataset")
	}

	resp := SwitchResponse{Success: true, Dataset: ds.Name, OpenedAt: ds.OpenedAt}
	if ds.Imported != nil {
		resp.Imported = ds.Imported.Imported
	}
	c.log.Info("dataset selected via API",
		logger.String("dataset", ds.Name),
		logger.String("ip", ctx.RealIP()))
	return ctx.JSON(http.StatusOK, resp)
}

// GetColumns handles GET /api/v2/columns
func (c *Controller) GetColumns(ctx echo.Context) error {
	engine, release, err := c.engine()
	if err != nil {
		return c.handleCurationError(ctx, err, "No dataset selected")
	}
	defer release()
	columns, err := engine.Columns(ctx.Request().Context())
	if err != nil {
		return c.handleCurationError(ctx, err, "Failed to read columns")
	}
	return ctx.JSON(http.StatusOK, map[string][]string{"availableColumns": columns})
}
