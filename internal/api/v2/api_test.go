package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/conf"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/dataset"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/observability"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/testutil"
)

const testXML = `<records>
  <record><processid>P1</processid><identification>Aus</identification><species>Aus bus</species><bin_uri>C1</bin_uri><country_representative>Yes</country_representative><family>Apidae</family></record>
  <record><processid>P2</processid><identification>Aus</identification><species>Aus bus</species><bin_uri>C1</bin_uri><family>Apidae</family></record>
  <record><processid>P3</processid><identification>Cus</identification><species>Cus dus</species><bin_uri>C2</bin_uri><family>Culidae</family></record>
</records>`

type testEnv struct {
	e        *echo.Echo
	ctrl     *Controller
	settings *conf.Settings
	control  chan string
}

func setupTestEnvironment(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	dir := t.TempDir()

	s := &conf.Settings{}
	s.Data.Dir = filepath.Join(dir, "data")
	s.Output.SQLite.Enabled = true
	s.Output.SQLite.BusyTimeout = 5000
	s.Curation = conf.CurationSettings{
		SearchColumns: conf.DefaultSearchColumns,
		PageSize:      10,
		MaxPageSize:   100,
		StatsCacheTTL: time.Minute,
	}
	s.Export = conf.ExportSettings{Required: conf.DefaultExportRequired, SelectedHeader: "selected records"}
	s.Audit = conf.AuditSettings{Path: filepath.Join(dir, "changes.log"), Database: true}
	require.NoError(t, os.MkdirAll(s.Data.Dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(s.Data.Dir, "beetles.xml"), []byte(testXML), 0o600))

	m := dataset.NewManager(s)
	t.Cleanup(func() { _ = m.Close() })

	e := echo.New()
	control := make(chan string, 1)
	ctrl, err := New(e, m, s, control, opts...)
	require.NoError(t, err)
	return &testEnv{e: e, ctrl: ctrl, settings: s, control: control}
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) switchTo(t *testing.T, name string) {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/v2/datasets/switch", SwitchRequest{Dataset: name})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()
	_, err := New(echo.New(), nil, &conf.Settings{}, nil)
	require.Error(t, err)
	_, err = New(echo.New(), dataset.NewManager(&conf.Settings{}), nil, nil)
	require.Error(t, err)
}

func TestDatasets(t *testing.T) {
	t.Parallel()
	env := setupTestEnvironment(t)

	list := decode[DatasetList](t, env.do(t, http.MethodGet, "/api/v2/datasets", nil))
	assert.Equal(t, []string{"beetles"}, list.Datasets)
	assert.Empty(t, list.Current)

	rec := env.do(t, http.MethodGet, "/api/v2/columns", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "no dataset selected")
	errResp := decode[ErrorResponse](t, rec)
	assert.Equal(t, http.StatusConflict, errResp.Code)
	assert.Len(t, errResp.CorrelationID, 8)

	rec = env.do(t, http.MethodPost, "/api/v2/datasets/switch", SwitchRequest{Dataset: "beetles"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sw := decode[SwitchResponse](t, rec)
	assert.True(t, sw.Success)
	assert.Equal(t, 3, sw.Imported)

	list = decode[DatasetList](t, env.do(t, http.MethodGet, "/api/v2/datasets", nil))
	assert.Equal(t, "beetles", list.Current)

	cols := decode[map[string][]string](t, env.do(t, http.MethodGet, "/api/v2/columns", nil))
	assert.Contains(t, cols["availableColumns"], "processid")
	assert.NotContains(t, cols["availableColumns"], "extra")

	rec = env.do(t, http.MethodPost, "/api/v2/datasets/switch", SwitchRequest{Dataset: "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/v2/datasets/switch", SwitchRequest{Dataset: "../etc"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBrowseRecords(t *testing.T) {
	t.Parallel()
	env := setupTestEnvironment(t)
	env.switchTo(t, "beetles")

	rec := env.do(t, http.MethodPost, "/api/v2/records/browse", BrowseRequest{
		Draw:           4,
		Length:         10,
		Columns:        []string{"processid", "species"},
		Order:          []OrderEntry{{Column: 0, Dir: "desc"}, {Column: 7, Dir: "asc"}},
		IncludeInvalid: true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[BrowseResponse](t, rec)
	assert.Equal(t, 4, resp.Draw)
	assert.Equal(t, int64(3), resp.RecordsTotal)
	assert.Equal(t, int64(3), resp.RecordsFiltered)
	assert.Equal(t, 3, resp.Stats.Records)
	require.Len(t, resp.Data, 3)

	first := resp.Data[0]
	require.Len(t, first, 2+len(rowTrailer))
	assert.Equal(t, "P3", first[0])
	assert.Equal(t, "Cus dus", first[1])
	assert.Equal(t, "Cus dus", first[6], "species trailer")
	assert.Equal(t, "P3", first[len(first)-1])
}

func TestBrowseSearchesDisplayedColumnsOnly(t *testing.T) {
	t.Parallel()
	env := setupTestEnvironment(t)
	env.switchTo(t, "beetles")

	resp := decode[BrowseResponse](t, env.do(t, http.MethodPost, "/api/v2/records/browse", BrowseRequest{
		Columns:    []string{"processid", "species"},
		SearchType: "species", SearchTerm: "bus",
	}))
	assert.Equal(t, int64(2), resp.RecordsFiltered)

	resp = decode[BrowseResponse](t, env.do(t, http.MethodPost, "/api/v2/records/browse", BrowseRequest{
		Columns:    []string{"processid", "species"},
		SearchType: "bin_uri", SearchTerm: "C2",
	}))
	assert.Equal(t, int64(3), resp.RecordsFiltered, "search on a hidden column is ignored")
}

func TestSubmitRecord(t *testing.T) {
	t.Parallel()
	env := setupTestEnvironment(t)
	env.switchTo(t, "beetles")

	status := "exclude species"
	rec := env.do(t, http.MethodPost, "/api/v2/records/submit", SubmitRequest{ProcessID: "P1", Status: &status})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[SubmitResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "exclude", resp.Branch)
	assert.Equal(t, 2, resp.Affected)
	assert.Empty(t, resp.AuditWarning)

	browse := decode[BrowseResponse](t, env.do(t, http.MethodPost, "/api/v2/records/browse", BrowseRequest{
		Columns: []string{"processid"},
	}))
	assert.Equal(t, int64(1), browse.RecordsFiltered)

	history := decode[HistoryResponse](t, env.do(t, http.MethodGet, "/api/v2/records/P2/history", nil))
	assert.Equal(t, "P2", history.ProcessID)
	require.Len(t, history.Entries, 1)
	assert.Equal(t, "P2", history.Entries[0].RecordID)

	bad := "maybe"
	rec = env.do(t, http.MethodPost, "/api/v2/records/submit", SubmitRequest{ProcessID: "P1", Status: &bad})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	notes := "checked"
	rec = env.do(t, http.MethodPost, "/api/v2/records/submit", SubmitRequest{ProcessID: "NOPE", CuratorNotes: &notes})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v2/records/submit", SubmitRequest{CuratorNotes: &notes})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDistinctValues(t *testing.T) {
	t.Parallel()
	env := setupTestEnvironment(t)
	env.switchTo(t, "beetles")

	resp := decode[DistinctResponse](t, env.do(t, http.MethodGet, "/api/v2/records/distinct?column=species&searchTerm=us", nil))
	assert.True(t, resp.Success)
	assert.Equal(t, int64(2), resp.Count)

	resp = decode[DistinctResponse](t, env.do(t, http.MethodGet, "/api/v2/records/distinct?searchType=bin_uri", nil))
	assert.Equal(t, int64(2), resp.Count)

	rec := env.do(t, http.MethodGet, "/api/v2/records/distinct", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/v2/records/distinct?column=sampleid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportCSV(t *testing.T) {
	t.Parallel()
	env := setupTestEnvironment(t)
	env.switchTo(t, "beetles")

	rec := env.do(t, http.MethodPost, "/api/v2/export", ExportRequest{Columns: []string{"family"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "taxonomic_records.csv")
	assert.True(t, strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), "text/csv"))

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasSuffix(lines[0], "selected records,family"), lines[0])
	assert.True(t, strings.HasSuffix(lines[1], ",P1,Apidae"), lines[1])
}

func TestShutdown(t *testing.T) {
	t.Parallel()
	env := setupTestEnvironment(t)

	for range 2 {
		rec := env.do(t, http.MethodPost, "/api/v2/control/shutdown", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		result := decode[ControlResult](t, rec)
		assert.True(t, result.Success)
		assert.Equal(t, "Server is shutting down", result.Message)
		assert.Equal(t, ActionShutdown, result.Action)
	}

	signal := testutil.WaitForValue(t, env.control, testutil.ShortTestTimeout, "control signal was not sent")
	assert.Equal(t, SignalShutdown, signal)
}

func TestShutdownWithoutControlChannel(t *testing.T) {
	t.Parallel()
	env := setupTestEnvironment(t)
	env.ctrl.controlChan = nil

	rec := env.do(t, http.MethodPost, "/api/v2/control/shutdown", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	metrics, err := observability.NewMetrics()
	require.NoError(t, err)
	env := setupTestEnvironment(t, WithMetrics(metrics))

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v2/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusCode(t *testing.T) {
	t.Parallel()
	assert.Equal(t, http.StatusInternalServerError, statusCode(assert.AnError))
}
