package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/conf"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/datastore"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/logger"
)

var dbCounter atomic.Int64

func testSettings() conf.ExportSettings {
	return conf.ExportSettings{
		Required:       conf.DefaultExportRequired,
		Excluded:       []string{"BAGS"},
		SelectedHeader: "selected records",
		Renames: []conf.ColumnRename{
			{Column: "additionalStatus", Header: "reason name correction"},
			{Column: "species", Header: "correct species name"},
			{Column: "curator_notes", Header: "curator notes"},
			{Column: "sampleid", Header: "sample_id"},
			{Column: "species_reference", Header: "authorship"},
		},
	}
}

func newStore(t *testing.T, records ...datastore.Record) datastore.Store {
	t.Helper()
	name := fmt.Sprintf("export_test_%d_%d", time.Now().UnixNano(), dbCounter.Add(1))
	store, err := datastore.OpenSQLite(datastore.SQLiteConfig{Path: name, InMemory: true}, datastore.Options{
		Logger: logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.SaveRecords(t.Context(), records))
	return store
}

func headers(layout []Column) []string {
	out := make([]string, len(layout))
	for i, c := range layout {
		out[i] = c.Header
	}
	return out
}

func TestLayout(t *testing.T) {
	t.Parallel()
	x := NewExporter(testSettings())
	available := []string{"processid", "bin_uri", "identification", "status", "additionalStatus", "species", "curator_notes", "sampleid", "BAGS", "family"}

	got := x.Layout(available, []string{"family", "BAGS", "species", "correct species name", "sample_id", "family", " "})
	assert.Equal(t, []string{
		"bin_uri", "processid", "identification", "status", "reason name correction",
		"correct species name", "curator notes", "selected records", "family", "sample_id",
	}, headers(got))
	assert.Equal(t, Column{Name: "sampleid", Header: "sample_id"}, got[len(got)-1])

	all := x.Layout(available, nil)
	assert.Equal(t, []string{
		"bin_uri", "processid", "identification", "status", "reason name correction",
		"correct species name", "curator notes", "selected records", "sample_id", "family",
	}, headers(all))
}

func TestLayoutSkipsMissingRequiredColumns(t *testing.T) {
	t.Parallel()
	x := NewExporter(conf.ExportSettings{})
	got := x.Layout([]string{"processid", "species"}, nil)
	assert.Equal(t, []string{"processid", "species", "selected records"}, headers(got))
}

func TestIsSelected(t *testing.T) {
	t.Parallel()
	tests := []struct {
		rep, status string
		want        bool
	}{
		{"Yes", "", true},
		{"yes", "valid record", true},
		{"No", "Valid Record", false},
		{"No", "", false},
		{"Yes", "exclude species", false},
		{"", "valid record", false},
	}
	for _, tt := range tests {
		r := datastore.Record{CountryRepresentative: tt.rep, Status: tt.status}
		assert.Equal(t, tt.want, IsSelected(&r), "rep=%q status=%q", tt.rep, tt.status)
	}
}

func TestWrite(t *testing.T) {
	t.Parallel()
	store := newStore(t,
		datastore.Record{
			ProcessID: "P1", BinURI: "C1", Identification: "Aus", Species: "Aus bus",
			CountryRepresentative: "Yes", Extra: datatypes.JSONMap{"BAGS": "A", "habitat": "forest"},
		},
		datastore.Record{
			ProcessID: "P2", BinURI: "C1", Identification: "Aus", Species: "Aus cus",
			Status: "exclude species", CorrectionReason: "typo", CuratorNotes: "=SUM(A1)",
			CountryRepresentative: "Yes",
		},
	)

	var buf bytes.Buffer
	x := NewExporter(testSettings())
	n, err := x.Write(t.Context(), &buf, store, []string{"habitat", "BAGS"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{
		"bin_uri", "processid", "identification", "status", "reason name correction",
		"correct species name", "curator notes", "selected records", "habitat",
	}, rows[0])
	assert.Equal(t, []string{"C1", "P1", "Aus", "", "", "Aus bus", "", "P1", "forest"}, rows[1])
	assert.Equal(t, []string{"C1", "P2", "Aus", "exclude species", "typo", "Aus cus", "'=SUM(A1)", "", ""}, rows[2])
}

func TestWriteWithoutSelectionIncludesExtraColumns(t *testing.T) {
	t.Parallel()
	store := newStore(t, datastore.Record{
		ProcessID: "P1", Extra: datatypes.JSONMap{"BAGS": "A", "habitat": "forest", "elev": "120"},
	})

	var buf bytes.Buffer
	_, err := NewExporter(testSettings()).Write(t.Context(), &buf, store, nil)
	require.NoError(t, err)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Contains(t, rows[0], "habitat")
	assert.Contains(t, rows[0], "elev")
	assert.Contains(t, rows[0], "authorship")
	assert.NotContains(t, rows[0], "BAGS")
	assert.NotContains(t, rows[0], "extra")
}

func TestWriteEmptyStore(t *testing.T) {
	t.Parallel()
	store := newStore(t)

	var buf bytes.Buffer
	n, err := NewExporter(testSettings()).Write(t.Context(), &buf, store, []string{"family"})
	require.NoError(t, err)
	assert.Zero(t, n)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 1, "header only")
}
