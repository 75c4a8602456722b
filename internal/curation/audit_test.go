package curation

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/datastore"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/errors"
)

var auditTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func sampleEntries() []AuditEntry {
	return []AuditEntry{
		newAuditEntry("P1", []FieldChange{
			{Field: "status", Old: "", New: "exclude species"},
			{Field: "curator_notes", Old: "", New: "checked"},
		}, auditTime),
		newAuditEntry("P2", []FieldChange{{Field: "species", Old: "Aus bus", New: "Aus cus"}}, auditTime),
	}
}

func TestFileSinkFormat(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "logs", "changes.log")

	sink, err := NewFileSink("log", path)
	require.NoError(t, err)
	assert.Equal(t, "log", sink.Name())

	require.NoError(t, sink.Write(t.Context(), sampleEntries()))
	require.NoError(t, sink.Write(t.Context(), nil))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01T10:00:00.000Z - Process ID: P1, Action: Updated\n"+
		"    status:  -> exclude species\n"+
		"    curator_notes:  -> checked\n"+
		"2024-05-01T10:00:00.000Z - Process ID: P2, Action: Updated\n"+
		"    species: Aus bus -> Aus cus\n", string(data))
}

func TestFileSinkAppends(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "changes.log")
	require.NoError(t, os.WriteFile(path, []byte("earlier\n"), 0o600))

	sink, err := NewFileSink("log", path)
	require.NoError(t, err)
	require.NoError(t, sink.Write(t.Context(), sampleEntries()[1:]))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "earlier\n"+
		"2024-05-01T10:00:00.000Z - Process ID: P2, Action: Updated\n"+
		"    species: Aus bus -> Aus cus\n", string(data))
}

func TestMultiSinkDeliversToEverySink(t *testing.T) {
	t.Parallel()
	broken := &memorySink{err: errors.NewStd("disk full")}
	healthy := &memorySink{}

	var observed []string
	m := NewMultiSink(nil, broken, healthy)
	m.observe = func(sink string, err error) {
		if err != nil {
			observed = append(observed, sink)
		}
	}
	assert.Equal(t, 2, m.Len(), "nil sinks are skipped")

	err := m.Write(t.Context(), sampleEntries())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit sink memory: disk full")
	assert.Len(t, healthy.all(), 2, "a failing sink does not block the others")
	assert.Equal(t, []string{"memory"}, observed)

	assert.NoError(t, m.Write(t.Context(), nil))
}

func TestAuditLogRoundTrip(t *testing.T) {
	t.Parallel()
	entry := sampleEntries()[0]
	assert.Equal(t, uuid.Version(7), entry.ID.Version())

	row, err := toAuditLog(&entry)
	require.NoError(t, err)
	assert.Equal(t, "P1", row.ProcessID)
	assert.Equal(t, entry.ID.String(), row.ID)

	back, err := fromAuditLog(&row)
	require.NoError(t, err)
	assert.Equal(t, entry, back)

	_, err = fromAuditLog(&datastore.AuditLog{ID: "not-a-uuid", ProcessID: "P1"})
	assert.True(t, errors.IsCategory(err, errors.CategoryFileParsing))
}

func TestHistoryFromStoreAudit(t *testing.T) {
	t.Parallel()
	clock := auditTime
	te := newTestEngine(t, nil, Config{}, WithStoreAudit(), WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))
	te.seed(t, rec("P1", "Aus", "Aus bus", "C1", StatusUnset))

	_, err := te.SubmitEdit(t.Context(), EditRequest{RecordID: "P1", Notes: ptr("first")})
	require.NoError(t, err)
	_, err = te.SubmitEdit(t.Context(), EditRequest{RecordID: "P1", Notes: ptr("second")})
	require.NoError(t, err)

	history, err := te.History(t.Context(), "P1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, []FieldChange{{Field: "curator_notes", Old: "first", New: "second"}}, history[0].Changes, "newest first")
	assert.Equal(t, []FieldChange{{Field: "curator_notes", Old: "", New: "first"}}, history[1].Changes)
	assert.Equal(t, ActionUpdated, history[0].Action)

	// the in-memory sink received the same entries
	assert.Len(t, te.sink.all(), 2)

	empty, err := te.History(t.Context(), "P2")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
