package api

import (
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/curation"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/logger"
)

// BrowseRequest is the DataTables style body of POST /api/v2/records/browse.
// Order entries index into Columns.
type BrowseRequest struct {
	Draw           int          `json:"draw"`
	Start          int          `json:"start"`
	Length         int          `json:"length"`
	Columns        []string     `json:"columns"`
	Order          []OrderEntry `json:"order"`
	SearchTerm     string       `json:"searchTerm"`
	SearchType     string       `json:"searchType"`
	SearchTerm2    string       `json:"searchTerm2"`
	SearchType2    string       `json:"searchType2"`
	IncludeInvalid bool         `json:"includeInvalid"`
}

// OrderEntry sorts by the column at index Column of the request columns.
type OrderEntry struct {
	Column int    `json:"column"`
	Dir    string `json:"dir"`
}

// BrowseResponse carries one page in the DataTables format. Each row holds
// the requested columns followed by the trailing fields listed in
// rowTrailer.
type BrowseResponse struct {
	Draw            int            `json:"draw"`
	RecordsTotal    int64          `json:"recordsTotal"`
	RecordsFiltered int64          `json:"recordsFiltered"`
	Data            [][]string     `json:"data"`
	Stats           curation.Stats `json:"stats"`
}

// rowTrailer names the fields appended to every browse row.
var rowTrailer = []string{"bags", "bin_info", "status", "additionalStatus", "species", "curator_notes", "processid"}

// SubmitRequest is the body of POST /api/v2/records/submit. Absent fields
// are left unchanged.
type SubmitRequest struct {
	ProcessID        string  `json:"processId"`
	Status           *string `json:"status"`
	AdditionalStatus *string `json:"additionalStatus"`
	Species          *string `json:"species"`
	CuratorNotes     *string `json:"curator_notes"`
}

// SubmitResponse reports the outcome of an edit.
type SubmitResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	ProcessID      string `json:"processId"`
	Branch         string `json:"branch"`
	Affected       int    `json:"affected"`
	StatusRejected bool   `json:"statusRejected,omitempty"`
	AuditWarning   string `json:"auditWarning,omitempty"`
}

// HistoryResponse lists the audit entries of one record, newest first.
type HistoryResponse struct {
	ProcessID string                `json:"processId"`
	Entries   []curation.AuditEntry `json:"entries"`
}

// DistinctResponse is the response of GET /api/v2/records/distinct.
type DistinctResponse struct {
	Success bool  `json:"success"`
	Count   int64 `json:"count"`
}

func (c *Controller) initRecordRoutes() {
	records := c.Group.Group("/records")
	records.POST("/browse", c.BrowseRecords)
	records.POST("/submit", c.SubmitRecord, c.writeLimit)
	records.GET("/distinct", c.DistinctValues)
	records.GET("/:id/history", c.RecordHistory)
}

// BrowseRecords handles POST /api/v2/records/browse
func (c *Controller) BrowseRecords(ctx echo.Context) error {
	var req BrowseRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	engine, release, err := c.engine()
	if err != nil {
		return c.handleCurationError(ctx, err, "No dataset selected")
	}
	defer release()

	columns := req.Columns
	if len(columns) == 0 {
		columns = engine.Policy().Columns()
	}

	res, err := engine.Browse(ctx.Request().Context(), toBrowseRequest(&req, columns))
	if err != nil {
		return c.handleCurationError(ctx, err, "Failed to load records")
	}

	resp := BrowseResponse{
		Draw:            req.Draw,
		RecordsTotal:    res.Total,
		RecordsFiltered: res.Filtered,
		Data:            make([][]string, len(res.Rows)),
		Stats:           res.Stats,
	}
	for i := range res.Rows {
		resp.Data[i] = browseRow(&res.Rows[i], columns)
	}
	return ctx.JSON(http.StatusOK, resp)
}

// toBrowseRequest applies searches only on displayed columns and resolves
// order indexes. The engine drops columns outside its allow-list.
func toBrowseRequest(req *BrowseRequest, columns []string) curation.BrowseRequest {
	out := curation.BrowseRequest{
		IncludeInvalid: req.IncludeInvalid,
		Offset:         req.Start,
		Limit:          req.Length,
	}
	for _, s := range []curation.SearchSpec{
		{Column: req.SearchType, Term: req.SearchTerm},
		{Column: req.SearchType2, Term: req.SearchTerm2},
	} {
		if s.Column != "" && slices.Contains(columns, s.Column) {
			out.Searches = append(out.Searches, s)
		}
	}
	for _, o := range req.Order {
		if o.Column < 0 || o.Column >= len(columns) {
			continue
		}
		out.Sorts = append(out.Sorts, curation.SortSpec{Column: columns[o.Column], Direction: o.Dir})
	}
	return out
}

func browseRow(r *curation.EnrichedRecord, columns []string) []string {
	row := make([]string, 0, len(columns)+len(rowTrailer))
	for _, col := range columns {
		v, ok := r.Value(col)
		if !ok {
			v, _ = r.Value(strings.ToLower(col))
		}
		row = append(row, v)
	}
	return append(row,
		string(r.Grade),
		r.ClusterInfo,
		r.Status,
		r.CorrectionReason,
		r.Species,
		r.CuratorNotes,
		r.ProcessID,
	)
}

// SubmitRecord handles POST /api/v2/records/submit
func (c *Controller) SubmitRecord(ctx echo.Context) error {
	var req SubmitRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	edit, err := toEditRequest(&req)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid edit", http.StatusBadRequest)
	}
	engine, release, err := c.engine()
	if err != nil {
		return c.handleCurationError(ctx, err, "No dataset selected")
	}
	defer release()

	res, err := engine.SubmitEdit(ctx.Request().Context(), edit)
	if err != nil {
		return c.handleCurationError(ctx, err, "Failed to update record")
	}

	resp := SubmitResponse{
		Success:        true,
		Message:        res.Message,
		ProcessID:      res.RecordID,
		Branch:         string(res.Branch),
		Affected:       res.Affected,
		StatusRejected: res.StatusRejected,
	}
	if res.AuditErr != nil {
		// the edit committed; the audit trail is incomplete
		resp.AuditWarning = res.AuditErr.Error()
		c.log.Warn("edit committed with audit failure",
			logger.String("process_id", res.RecordID),
			logger.Error(res.AuditErr))
	}
	return ctx.JSON(http.StatusOK, resp)
}

func toEditRequest(req *SubmitRequest) (curation.EditRequest, error) {
	edit := curation.EditRequest{
		RecordID: req.ProcessID,
		Species:  req.Species,
		Notes:    req.CuratorNotes,
	}
	if req.Status != nil {
		st, err := curation.ParseStatus(*req.Status)
		if err != nil {
			return edit, err
		}
		edit.Status = &st
	}
	if req.AdditionalStatus != nil {
		r, err := curation.ParseReason(*req.AdditionalStatus)
		if err != nil {
			return edit, err
		}
		edit.Reason = &r
	}
	return edit, nil
}

// RecordHistory handles GET /api/v2/records/:id/history
func (c *Controller) RecordHistory(ctx echo.Context) error {
	id := ctx.Param("id")
	engine, release, err := c.engine()
	if err != nil {
		return c.handleCurationError(ctx, err, "No dataset selected")
	}
	defer release()
	entries, err := engine.History(ctx.Request().Context(), id)
	if err != nil {
		return c.handleCurationError(ctx, err, "Failed to read record history")
	}
	return ctx.JSON(http.StatusOK, HistoryResponse{ProcessID: id, Entries: entries})
}

// DistinctValues handles GET /api/v2/records/distinct
func (c *Controller) DistinctValues(ctx echo.Context) error {
	column := ctx.QueryParam("column")
	if column == "" {
		column = ctx.QueryParam("searchType")
	}
	if column == "" {
		return c.HandleError(ctx, nil, "Missing column parameter", http.StatusBadRequest)
	}
	engine, release, err := c.engine()
	if err != nil {
		return c.handleCurationError(ctx, err, "No dataset selected")
	}
	defer release()

	count, err := engine.DistinctCount(ctx.Request().Context(), column,
		ctx.QueryParam("searchTerm"), ctx.QueryParam("searchTerm2"))
	if err != nil {
		return c.handleCurationError(ctx, err, "Failed to count values")
	}
	return ctx.JSON(http.StatusOK, DistinctResponse{Success: true, Count: count})
}
