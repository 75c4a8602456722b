package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/conf"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/curation"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/datastore"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/errors"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/observability"
)

const datasetXML = `<records>
  <record><processid>P1</processid><identification>Aus</identification><species>Aus bus</species><bin_uri>C1</bin_uri></record>
  <record><processid>P2</processid><identification>Aus</identification><species>Aus bus</species><bin_uri>C1</bin_uri></record>
</records>`

func testSettings(t *testing.T) *conf.Settings {
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
	s.Audit = conf.AuditSettings{
		Path:       filepath.Join(dir, "logs", "changes.log"),
		MirrorPath: filepath.Join(dir, "backup", "changes.log"),
		Database:   true,
	}
	require.NoError(t, os.MkdirAll(s.Data.Dir, 0o750))
	return s
}

func ptr[T any](v T) *T { return &v }

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestList(t *testing.T) {
	t.Parallel()
	s := testSettings(t)
	writeFile(t, filepath.Join(s.Data.Dir, "beetles.xml"), datasetXML)
	writeFile(t, filepath.Join(s.Data.Dir, "beetles.db"), "")
	writeFile(t, filepath.Join(s.Data.Dir, "ants.xml"), datasetXML)
	writeFile(t, filepath.Join(s.Data.Dir, "notes.txt"), "")
	require.NoError(t, os.Mkdir(filepath.Join(s.Data.Dir, "flies.db"), 0o750))

	names, err := NewManager(s).List()
	require.NoError(t, err)
	assert.Equal(t, []string{"ants", "beetles"}, names)
}

func TestListMissingDir(t *testing.T) {
	t.Parallel()
	s := testSettings(t)
	s.Data.Dir = filepath.Join(s.Data.Dir, "missing")

	names, err := NewManager(s).List()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestSwitchImportsXML(t *testing.T) {
	t.Parallel()
	s := testSettings(t)
	writeFile(t, filepath.Join(s.Data.Dir, "beetles.xml"), datasetXML)

	metrics, err := observability.NewMetrics()
	require.NoError(t, err)
	m := NewManager(s, WithMetrics(metrics))
	t.Cleanup(func() { _ = m.Close() })

	_, err = m.Engine()
	assert.True(t, errors.IsCategory(err, errors.CategoryState))

	ds, err := m.Switch(t.Context(), "beetles")
	require.NoError(t, err)
	require.NotNil(t, ds.Imported)
	assert.Equal(t, 2, ds.Imported.Imported)
	assert.FileExists(t, s.DatasetPath("beetles"))
	assert.Same(t, ds, m.Current())

	engine, err := m.Engine()
	require.NoError(t, err)
	res, err := engine.SubmitEdit(t.Context(), curation.EditRequest{
		RecordID: "P1",
		Status:   ptr(curation.StatusExcluded),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Affected)
	require.NoError(t, res.AuditErr)

	for _, p := range []string{s.Audit.Path, s.Audit.MirrorPath} {
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		assert.Equal(t, 2, strings.Count(string(data), "Action: Updated"), p)
	}
	history, err := engine.History(t.Context(), "P2")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestImportedValidRecordSurvivesCascade(t *testing.T) {
	t.Parallel()
	s := testSettings(t)
	writeFile(t, filepath.Join(s.Data.Dir, "beetles.xml"), `<records>
  <record><processid>P1</processid><identification>Aus</identification><species>Aus bus</species></record>
  <record><processid>V1</processid><identification>Aus</identification><species>Aus bus</species><status>Valid Record</status></record>
</records>`)

	m := NewManager(s)
	t.Cleanup(func() { _ = m.Close() })
	ds, err := m.Switch(t.Context(), "beetles")
	require.NoError(t, err)

	res, err := ds.Engine.SubmitEdit(t.Context(), curation.EditRequest{
		RecordID: "P1",
		Status:   ptr(curation.StatusExcluded),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Affected)

	v1, err := ds.Engine.Store().Get(t.Context(), "V1")
	require.NoError(t, err)
	assert.Equal(t, string(curation.StatusValid), v1.Status)
}

func TestSwitchReopensExistingDatabase(t *testing.T) {
	t.Parallel()
	s := testSettings(t)
	writeFile(t, filepath.Join(s.Data.Dir, "beetles.xml"), datasetXML)
	writeFile(t, filepath.Join(s.Data.Dir, "ants.xml"), datasetXML)

	m := NewManager(s)
	t.Cleanup(func() { _ = m.Close() })

	first, err := m.Switch(t.Context(), "beetles")
	require.NoError(t, err)
	_, err = first.Engine.SubmitEdit(t.Context(), curation.EditRequest{RecordID: "P1", Notes: ptr("checked")})
	require.NoError(t, err)

	_, err = m.Switch(t.Context(), "ants")
	require.NoError(t, err)
	err = first.Engine.Store().Transaction(t.Context(), func(datastore.Store) error { return nil })
	assert.ErrorIs(t, err, datastore.ErrStoreClosed, "previous dataset is closed")

	again, err := m.Switch(t.Context(), "beetles")
	require.NoError(t, err)
	assert.Nil(t, again.Imported, "existing database is not re-imported")

	r, err := again.Engine.Store().Get(t.Context(), "P1")
	require.NoError(t, err)
	assert.Equal(t, "checked", r.CuratorNotes)
}

func TestSwitchWaitsForAcquiredEngine(t *testing.T) {
	t.Parallel()
	s := testSettings(t)
	writeFile(t, filepath.Join(s.Data.Dir, "beetles.xml"), datasetXML)
	writeFile(t, filepath.Join(s.Data.Dir, "ants.xml"), datasetXML)

	m := NewManager(s)
	t.Cleanup(func() { _ = m.Close() })

	_, err := m.Switch(t.Context(), "beetles")
	require.NoError(t, err)
	engine, release, err := m.Acquire()
	require.NoError(t, err)

	_, err = m.Switch(t.Context(), "ants")
	require.NoError(t, err)

	// The request that acquired beetles still finishes its edit and audit.
	res, err := engine.SubmitEdit(t.Context(), curation.EditRequest{RecordID: "P1", Notes: ptr("late")})
	require.NoError(t, err)
	require.NoError(t, res.AuditErr)
	data, err := os.ReadFile(s.Audit.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "late")

	release()
	release()
	err = engine.Store().Transaction(t.Context(), func(datastore.Store) error { return nil })
	assert.ErrorIs(t, err, datastore.ErrStoreClosed, "closed on last release")

	current, release2, err := m.Acquire()
	require.NoError(t, err)
	defer release2()
	assert.NotSame(t, engine, current)
}

func TestImport(t *testing.T) {
	t.Parallel()
	s := testSettings(t)
	writeFile(t, filepath.Join(s.Data.Dir, "beetles.xml"), datasetXML)
	m := NewManager(s)
	t.Cleanup(func() { _ = m.Close() })

	res, err := m.Import(t.Context(), "beetles", false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)
	assert.FileExists(t, s.DatasetPath("beetles"))

	_, err = m.Import(t.Context(), "beetles", false)
	assert.True(t, errors.IsCategory(err, errors.CategoryConflict), "existing database is kept")

	ds, err := m.Switch(t.Context(), "beetles")
	require.NoError(t, err)
	assert.Nil(t, ds.Imported)
	_, err = m.Import(t.Context(), "beetles", true)
	assert.True(t, errors.IsCategory(err, errors.CategoryState), "open dataset cannot be replaced")

	require.NoError(t, m.Close())
	res, err = m.Import(t.Context(), "beetles", true)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)

	_, err = m.Import(t.Context(), "ants", false)
	assert.True(t, errors.IsNotFound(err))
}

func TestSwitchErrors(t *testing.T) {
	t.Parallel()
	s := testSettings(t)
	writeFile(t, filepath.Join(s.Data.Dir, "broken.xml"), "<records><record><processid>P1</record>")
	m := NewManager(s)
	t.Cleanup(func() { _ = m.Close() })

	_, err := m.Switch(t.Context(), "missing")
	assert.True(t, errors.IsNotFound(err))

	for _, name := range []string{"", "..", "../etc", `a\b`} {
		_, err = m.Switch(t.Context(), name)
		assert.True(t, errors.IsValidation(err), name)
	}

	_, err = m.Switch(t.Context(), "broken")
	require.Error(t, err)
	assert.NoFileExists(t, s.DatasetPath("broken"), "failed import leaves no database behind")
	assert.Nil(t, m.Current())
}
