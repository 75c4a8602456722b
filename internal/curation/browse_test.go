package curation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/datastore"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/errors"
)

func browseFixture() []datastore.Record {
	records := []datastore.Record{
		rec("A1", "Aus", "Aus bus", "C1", StatusUnset),
		rec("A2", "Aus", "Aus bus", "C1", StatusValid),
		rec("A3", "Aus", "Aus bus", "C1", StatusExcluded),
		rec("A4", "Aus", "Aus cus", "C1", StatusUnset),
		rec("B1", "bus", "Bus dus", "C2", StatusInvalid),
		rec("B2", "bus", "Bus dus", "C2", StatusUnset),
		rec("B3", "bus", "Bus dus", "C3", StatusReincluded),
	}
	records[0].CountryRepresentative, records[0].RankScore = "Yes", "10"
	records[1].CountryRepresentative, records[1].RankScore = "No", "50"
	records[5].RankScore = "n/a"
	records[6].RankScore = "7"
	return records
}

func rowIDs(rows []EnrichedRecord) []string {
	ids := make([]string, len(rows))
	for i := range rows {
		ids[i] = rows[i].ProcessID
	}
	return ids
}

func TestBrowseDefaults(t *testing.T) {
	t.Parallel()
	te := newTestEngine(t, nil, Config{})
	te.seed(t, browseFixture()...)

	res, err := te.Browse(t.Context(), BrowseRequest{})
	require.NoError(t, err)

	assert.Equal(t, int64(7), res.Total)
	assert.Equal(t, int64(5), res.Filtered, "invalid and excluded records are hidden")
	assert.Equal(t, []string{"A1", "A2", "A4", "B3", "B2"}, rowIDs(res.Rows))

	assert.Equal(t, Stats{
		Records:         5,
		Species:         3,
		Clusters:        3,
		Curated:         2,
		Uncurated:       3,
		SharingEvents:   1,
		SplittingEvents: 1,
		Grades:          map[Grade]int{GradeA: 0, GradeB: 0, GradeC: 1, GradeD: 0, GradeE: 2},
	}, res.Stats)

	a1 := res.Rows[0]
	assert.Equal(t, GradeE, a1.Grade)
	assert.Equal(t, "cluster-sharing with: Aus cus; single cluster: C1", a1.ClusterInfo)

	b3 := res.Rows[3]
	assert.Equal(t, GradeC, b3.Grade)
	assert.Equal(t, "cluster-splitting across: C2, C3", b3.ClusterInfo)
}

func TestBrowseIncludeInvalid(t *testing.T) {
	t.Parallel()
	te := newTestEngine(t, nil, Config{})
	te.seed(t, browseFixture()...)

	res, err := te.Browse(t.Context(), BrowseRequest{IncludeInvalid: true, Limit: 100})
	require.NoError(t, err)

	assert.Equal(t, int64(7), res.Filtered)
	assert.Len(t, res.Rows, 7)
	assert.Equal(t, 4, res.Stats.Curated)
	assert.Equal(t, 3, res.Stats.Uncurated)
	// hidden records stay out of the grouping
	assert.Equal(t, 1, res.Stats.SharingEvents)
	assert.Equal(t, 1, res.Stats.SplittingEvents)
}

func TestBrowseSearchAndSort(t *testing.T) {
	t.Parallel()
	te := newTestEngine(t, nil, Config{})
	te.seed(t, browseFixture()...)

	res, err := te.Browse(t.Context(), BrowseRequest{
		Searches: []SearchSpec{{Column: "species", Term: "us"}, {Column: "curator_notes", Term: "x"}},
		Sorts:    []SortSpec{{Column: "processid", Direction: "desc"}, {Column: "nope", Direction: "asc"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"B3", "B2", "A4", "A2", "A1"}, rowIDs(res.Rows), "disallowed search and sort columns are ignored")

	res, err = te.Browse(t.Context(), BrowseRequest{Searches: []SearchSpec{{Column: "species", Term: "cus"}}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Filtered)
	assert.Equal(t, []string{"A4"}, rowIDs(res.Rows))
	// the grouping only sees the filtered set
	assert.Equal(t, "single cluster: C1", res.Rows[0].ClusterInfo)
	assert.Equal(t, GradeD, res.Rows[0].Grade)
}

func TestBrowsePagination(t *testing.T) {
	t.Parallel()
	te := newTestEngine(t, nil, Config{PageSize: 2, MaxPageSize: 3})
	te.seed(t, browseFixture()...)

	res, err := te.Browse(t.Context(), BrowseRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Limit)
	assert.Len(t, res.Rows, 2)

	res, err = te.Browse(t.Context(), BrowseRequest{Limit: 100, Offset: -4})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Limit)
	assert.Zero(t, res.Offset)
	assert.Equal(t, []string{"A1", "A2", "A4"}, rowIDs(res.Rows))

	res, err = te.Browse(t.Context(), BrowseRequest{Offset: 4, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"B2"}, rowIDs(res.Rows))
	assert.Equal(t, 5, res.Stats.Records, "stats cover the filtered set, not the page")
}

func TestBrowseStatsCacheIsInvalidatedByEdits(t *testing.T) {
	t.Parallel()
	te := newTestEngine(t, nil, Config{StatsCacheTTL: time.Minute})
	te.seed(t, browseFixture()...)

	first, err := te.Browse(t.Context(), BrowseRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, te.stats.ItemCount())

	again, err := te.Browse(t.Context(), BrowseRequest{})
	require.NoError(t, err)
	assert.Equal(t, first.Stats, again.Stats)

	// returned stats are copies
	again.Stats.Grades[GradeA] = 99
	third, err := te.Browse(t.Context(), BrowseRequest{})
	require.NoError(t, err)
	assert.Zero(t, third.Stats.Grades[GradeA])

	_, err = te.SubmitEdit(t.Context(), EditRequest{RecordID: "A4", Status: ptr(StatusExcluded)})
	require.NoError(t, err)
	assert.Zero(t, te.stats.ItemCount(), "cache flushed on commit")

	after, err := te.Browse(t.Context(), BrowseRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), after.Filtered)
	assert.Equal(t, 3, after.Stats.Records)
	assert.Equal(t, []string{"A2", "B3", "B2"}, rowIDs(after.Rows))
}

func TestBrowseWithoutCache(t *testing.T) {
	t.Parallel()
	te := newTestEngine(t, nil, Config{})
	te.seed(t, browseFixture()...)

	assert.Nil(t, te.stats)
	_, err := te.Browse(t.Context(), BrowseRequest{})
	require.NoError(t, err)
}

func TestDistinctCount(t *testing.T) {
	t.Parallel()
	te := newTestEngine(t, nil, Config{})
	te.seed(t, browseFixture()...)

	n, err := te.DistinctCount(t.Context(), "species", "us")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = te.DistinctCount(t.Context(), "species", "cus", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = te.DistinctCount(t.Context(), "bin_uri")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = te.DistinctCount(t.Context(), "curator_notes", "x")
	assert.True(t, errors.IsValidation(err))
}

func TestColumns(t *testing.T) {
	t.Parallel()
	te := newTestEngine(t, nil, Config{})

	cols, err := te.Columns(t.Context())
	require.NoError(t, err)
	assert.Contains(t, cols, "processid")
	assert.Contains(t, cols, "additionalStatus")
	assert.NotContains(t, cols, "extra")
}
