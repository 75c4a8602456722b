package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/errors"
)

func validSettings() *Settings {
	s := &Settings{}
	s.Data.Dir = "data"
	s.Output.SQLite.Enabled = true
	s.WebServer = WebServerSettings{Enabled: true, Port: "3000", BodyLimit: "2M", RateLimit: 10}
	s.Curation = CurationSettings{
		SearchColumns: DefaultSearchColumns,
		PageSize:      10,
		MaxPageSize:   1000,
		StatsCacheTTL: time.Minute,
	}
	s.Export = ExportSettings{
		Required:       DefaultExportRequired,
		Excluded:       []string{"BAGS"},
		SelectedHeader: "selected records",
		Renames:        []ColumnRename{{Column: "species", Header: "correct species name"}},
	}
	s.Audit.Path = "logs/audit.log"
	return s
}

func TestValidateSettingsAcceptsDefaults(t *testing.T) {
	t.Parallel()
	require.NoError(t, ValidateSettings(validSettings()))
}

func TestValidateSettingsCollectsAllErrors(t *testing.T) {
	t.Parallel()

	s := validSettings()
	s.Output.SQLite.Enabled = false
	s.WebServer.Port = "99999"
	s.Curation.SearchColumns = []string{"species", "1; DROP TABLE records"}
	s.Curation.PageSize = 0
	s.Export.Renames = append(s.Export.Renames, ColumnRename{Column: "species", Header: "dup"})
	s.Audit.MirrorPath = s.Audit.Path

	err := ValidateSettings(s)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	var ve ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Errors, 6)
}

func TestValidateSettingsMySQLNeedsHost(t *testing.T) {
	t.Parallel()

	s := validSettings()
	s.Output.MySQL = MySQLSettings{Enabled: true, Database: "curation"}

	err := ValidateSettings(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output.mysql.host")
}

func TestValidateSettingsSelectedHeaderMustBeRequired(t *testing.T) {
	t.Parallel()

	s := validSettings()
	s.Export.SelectedHeader = "picked"

	err := ValidateSettings(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "export.selected_header")
}

func TestDatasetPaths(t *testing.T) {
	t.Parallel()

	s := validSettings()
	assert.Equal(t, filepath.Join("data", "bge.db"), s.DatasetPath("bge"))
	assert.Equal(t, filepath.Join("data", "bge.xml"), s.DatasetSourcePath("bge"))
}

// TestLoadFromFile touches viper's global state and must not run in parallel.
func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
data:
  dir: /srv/datasets
  default: bge-2024
webserver:
  port: "8080"
curation:
  page_size: 25
  stats_cache_ttl: 30s
audit:
  path: /var/log/curator/audit.log
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	SetConfigFile(path)
	t.Cleanup(func() { SetConfigFile("") })

	settings, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/srv/datasets", settings.Data.Dir)
	assert.Equal(t, "bge-2024", settings.Data.Default)
	assert.Equal(t, "8080", settings.WebServer.Port)
	assert.Equal(t, 25, settings.Curation.PageSize)
	assert.Equal(t, 30*time.Second, settings.Curation.StatsCacheTTL)
	assert.Equal(t, 1000, settings.Curation.MaxPageSize, "unset keys fall back to defaults")
	assert.Equal(t, DefaultSearchColumns, settings.Curation.SearchColumns)
	assert.True(t, settings.Output.SQLite.Enabled)
	require.Len(t, settings.Export.Renames, 5)
	assert.Equal(t, ColumnRename{Column: "additionalStatus", Header: "reason name correction"}, settings.Export.Renames[0])
	assert.Same(t, settings, GetSettings())
}

func TestEmbeddedConfigIsValid(t *testing.T) {
	t.Parallel()

	data, err := getDefaultConfig()
	require.NoError(t, err)
	assert.Contains(t, string(data), "search_columns:")
}

func TestSaveYAMLConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("old: true\n"), 0o600))

	s := validSettings()
	require.NoError(t, SaveYAMLConfig(path, s))

	data, err := os.ReadFile(path) //nolint:gosec // test path
	require.NoError(t, err)
	assert.Contains(t, string(data), "search_columns:")
	assert.NotContains(t, string(data), "old: true")

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), "config-*.yaml"))
	require.NoError(t, err)
	assert.Empty(t, matches, "temporary file is cleaned up")
}
