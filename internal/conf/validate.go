// conf/validate.go
package conf

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/errors"
)

// columnNamePattern matches the column names the record store accepts.
var columnNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidationError collects every problem found in one pass.
type ValidationError struct {
	Errors []string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings checks all sections and returns a ValidationError
// wrapped as a configuration error when any check fails.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateOutputSettings(&settings.Output); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateWebServerSettings(&settings.WebServer); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	ve.Errors = append(ve.Errors, validateCurationSettings(&settings.Curation)...)
	ve.Errors = append(ve.Errors, validateExportSettings(&settings.Export)...)

	if strings.TrimSpace(settings.Audit.Path) == "" {
		ve.Errors = append(ve.Errors, "audit.path must be set")
	} else if settings.Audit.MirrorPath == settings.Audit.Path {
		ve.Errors = append(ve.Errors, "audit.mirror_path must differ from audit.path")
	}

	if len(ve.Errors) > 0 {
		return errors.New(ve).
			Category(errors.CategoryConfiguration).
			Context("error_count", len(ve.Errors)).
			Build()
	}

	return nil
}

func validateOutputSettings(settings *OutputSettings) error {
	if !settings.SQLite.Enabled && !settings.MySQL.Enabled {
		return fmt.Errorf("either output.sqlite or output.mysql must be enabled")
	}
	if settings.MySQL.Enabled {
		if settings.MySQL.Host == "" || settings.MySQL.Database == "" {
			return fmt.Errorf("output.mysql.host and output.mysql.database must be set when MySQL is enabled")
		}
	}
	if settings.SQLite.BusyTimeout < 0 {
		return fmt.Errorf("output.sqlite.busytimeout must be non-negative")
	}
	return nil
}

func validateWebServerSettings(settings *WebServerSettings) error {
	if !settings.Enabled {
		return nil
	}
	if settings.Port == "" {
		return fmt.Errorf("webserver.port must be set when the web server is enabled")
	}
	port, err := strconv.Atoi(settings.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("webserver.port must be a number between 1 and 65535, got %q", settings.Port)
	}
	if settings.RateLimit < 0 {
		return fmt.Errorf("webserver.ratelimit must be non-negative")
	}
	return nil
}

func validateCurationSettings(settings *CurationSettings) []string {
	var errs []string

	if len(settings.SearchColumns) == 0 {
		errs = append(errs, "curation.search_columns must list at least one column")
	}
	for _, column := range settings.SearchColumns {
		if !columnNamePattern.MatchString(column) {
			errs = append(errs, fmt.Sprintf("curation.search_columns: %q is not a valid column name", column))
		}
	}
	if settings.PageSize < 1 {
		errs = append(errs, "curation.page_size must be at least 1")
	}
	if settings.MaxPageSize < settings.PageSize {
		errs = append(errs, "curation.max_page_size must not be smaller than curation.page_size")
	}
	if settings.StatsCacheTTL < 0 {
		errs = append(errs, "curation.stats_cache_ttl must be non-negative")
	}

	return errs
}

func validateExportSettings(settings *ExportSettings) []string {
	var errs []string

	if len(settings.Required) == 0 {
		errs = append(errs, "export.required must list at least one column")
	}
	if settings.SelectedHeader != "" && !slices.Contains(settings.Required, settings.SelectedHeader) {
		errs = append(errs, fmt.Sprintf("export.selected_header %q must appear in export.required", settings.SelectedHeader))
	}
	seen := make(map[string]bool, len(settings.Renames))
	for _, r := range settings.Renames {
		if r.Column == "" || r.Header == "" {
			errs = append(errs, "export.renames entries need both column and header")
			continue
		}
		if seen[r.Column] {
			errs = append(errs, fmt.Sprintf("export.renames: column %q renamed twice", r.Column))
		}
		seen[r.Column] = true
	}

	return errs
}
