// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"

	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/logger"
)

// DefaultSearchColumns is the column allow-list for search and sort.
var DefaultSearchColumns = []string{
	"bin_uri", "processid", "identification", "country_ocean", "url", "ranking",
	"sumscore", "species", "status", "class", "order", "family", "genus",
	"subspecies", "species_reference", "country_representative",
	"additionalStatus", "curator_notes",
}

// DefaultExportRequired lists the leading CSV columns in export order.
var DefaultExportRequired = []string{
	"bin_uri", "processid", "identification", "status", "additionalStatus",
	"species", "curator_notes", "selected records",
}

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "BGE library curator")

	viper.SetDefault("data.dir", "data")
	viper.SetDefault("data.default", "")

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.busytimeout", 5000)

	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "")
	viper.SetDefault("output.mysql.password", "")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")
	viper.SetDefault("output.mysql.database", "curation")

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.port", "3000")
	viper.SetDefault("webserver.bodylimit", "2M")
	viper.SetDefault("webserver.ratelimit", 20.0)

	viper.SetDefault("curation.search_columns", DefaultSearchColumns)
	viper.SetDefault("curation.page_size", 10)
	viper.SetDefault("curation.max_page_size", 1000)
	viper.SetDefault("curation.stats_cache_ttl", 5*time.Minute)

	viper.SetDefault("export.required", DefaultExportRequired)
	viper.SetDefault("export.excluded", []string{"BAGS"})
	viper.SetDefault("export.selected_header", "selected records")
	viper.SetDefault("export.renames", []map[string]string{
		{"column": "additionalStatus", "header": "reason name correction"},
		{"column": "species", "header": "correct species name"},
		{"column": "curator_notes", "header": "curator notes"},
		{"column": "sampleid", "header": "sample_id"},
		{"column": "species_reference", "header": "authorship"},
	})

	viper.SetDefault("audit.path", "logs/curation-audit.log")
	viper.SetDefault("audit.mirror_path", "")
	viper.SetDefault("audit.database", true)

	viper.SetDefault("logging.default_level", logger.DefaultLogLevel)
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", logger.DefaultLogLevel)
	viper.SetDefault("logging.file_output.enabled", true)
	viper.SetDefault("logging.file_output.path", logger.DefaultLogPath)
	viper.SetDefault("logging.file_output.level", logger.DefaultLogLevel)
}
