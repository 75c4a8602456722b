// config.go: settings struct for the curation tool and functions to load and save it.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// Settings contains all configuration options for the curation tool.
type Settings struct {
	Debug bool `yaml:"debug" mapstructure:"debug"`

	Main struct {
		Name string `yaml:"name" mapstructure:"name"`
	} `yaml:"main" mapstructure:"main"`

	Data      DataSettings      `yaml:"data" mapstructure:"data"`
	Output    OutputSettings    `yaml:"output" mapstructure:"output"`
	WebServer WebServerSettings `yaml:"webserver" mapstructure:"webserver"`
	Curation  CurationSettings  `yaml:"curation" mapstructure:"curation"`
	Export    ExportSettings    `yaml:"export" mapstructure:"export"`
	Audit     AuditSettings     `yaml:"audit" mapstructure:"audit"`

	Logging logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

// DataSettings locates dataset files.
type DataSettings struct {
	Dir     string `yaml:"dir" mapstructure:"dir"`         // folder holding <name>.xml and <name>.db files
	Default string `yaml:"default" mapstructure:"default"` // dataset opened on start, empty for none
}

// OutputSettings selects the record store backend.
type OutputSettings struct {
	SQLite SQLiteSettings `yaml:"sqlite" mapstructure:"sqlite"`
	MySQL  MySQLSettings  `yaml:"mysql" mapstructure:"mysql"`
}

// SQLiteSettings configures per-dataset SQLite files.
type SQLiteSettings struct {
	Enabled     bool `yaml:"enabled" mapstructure:"enabled"`
	BusyTimeout int  `yaml:"busytimeout" mapstructure:"busytimeout"` // milliseconds
}

// MySQLSettings configures a shared MySQL backend.
type MySQLSettings struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	Host     string `yaml:"host" mapstructure:"host"`
	Port     string `yaml:"port" mapstructure:"port"`
	Database string `yaml:"database" mapstructure:"database"`
}

// WebServerSettings configures the HTTP API.
type WebServerSettings struct {
	Enabled   bool    `yaml:"enabled" mapstructure:"enabled"`
	Port      string  `yaml:"port" mapstructure:"port"`
	BodyLimit string  `yaml:"bodylimit" mapstructure:"bodylimit"` // echo size string, e.g. "2M"
	RateLimit float64 `yaml:"ratelimit" mapstructure:"ratelimit"` // write requests per second per client, 0 disables
}

// CurationSettings configures browsing.
type CurationSettings struct {
	SearchColumns []string      `yaml:"search_columns" mapstructure:"search_columns"` // allow-list for search and sort
	PageSize      int           `yaml:"page_size" mapstructure:"page_size"`
	MaxPageSize   int           `yaml:"max_page_size" mapstructure:"max_page_size"`
	StatsCacheTTL time.Duration `yaml:"stats_cache_ttl" mapstructure:"stats_cache_ttl"`
}

// ColumnRename maps a stored column to the header written in CSV exports.
type ColumnRename struct {
	Column string `yaml:"column" mapstructure:"column"`
	Header string `yaml:"header" mapstructure:"header"`
}

// ExportSettings configures CSV export layout.
type ExportSettings struct {
	Required       []string       `yaml:"required" mapstructure:"required"` // leading columns, in order
	Excluded       []string       `yaml:"excluded" mapstructure:"excluded"` // never exported
	Renames        []ColumnRename `yaml:"renames" mapstructure:"renames"`
	SelectedHeader string         `yaml:"selected_header" mapstructure:"selected_header"` // computed selection column
}

// AuditSettings configures where audit entries are written.
type AuditSettings struct {
	Path       string `yaml:"path" mapstructure:"path"`               // primary append-only log
	MirrorPath string `yaml:"mirror_path" mapstructure:"mirror_path"` // optional second copy
	Database   bool   `yaml:"database" mapstructure:"database"`       // also persist to the audit_entries table
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
	configFile       string
)

// SetConfigFile makes Load read path instead of searching the default locations.
func SetConfigFile(path string) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()
	configFile = path
}

// Load reads the configuration file and environment variables into Settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper registers defaults and reads the configuration file, creating
// one from the embedded template when none exists.
func initViper() error {
	setDefaultConfig()

	viper.SetEnvPrefix("CURATOR")
	viper.AutomaticEnv()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("fatal error reading config file %s: %w", configFile, err)
		}
		return nil
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded config.yaml into dir and reads it.
func createDefaultConfig(dir string) error {
	configPath := filepath.Join(dir, "config.yaml")

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	defaultConfig, err := getDefaultConfig()
	if err != nil {
		return err
	}

	if err := os.WriteFile(configPath, defaultConfig, 0o644); err != nil { //nolint:gosec // config is not secret by default
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() ([]byte, error) {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("error reading embedded config: %w", err)
	}
	return data, nil
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAMLConfig writes settings to configPath through a temporary file so
// a crash never leaves a half-written config. Comments are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer func() { _ = os.Remove(tempFileName) }()

	if _, err := tempFile.Write(yamlData); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		if err := moveFile(tempFileName, configPath); err != nil {
			return fmt.Errorf("error copying config file: %w", err)
		}
	}

	return nil
}

// DatasetPath returns the SQLite database path for a dataset name.
func (s *Settings) DatasetPath(name string) string {
	return filepath.Join(s.Data.Dir, name+".db")
}

// DatasetSourcePath returns the XML source path for a dataset name.
func (s *Settings) DatasetSourcePath(name string) string {
	return filepath.Join(s.Data.Dir, name+".xml")
}
