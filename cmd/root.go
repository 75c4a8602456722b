// Package cmd wires the curator command line.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bge-barcoding/BGE-library-curation-tool-win/cmd/export"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/cmd/importer"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/cmd/serve"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/cmd/stats"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/buildinfo"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/conf"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/logger"
)

// RootCommand creates and returns the root command. Subcommands receive
// settings, which is filled from the config file, environment and flags
// before any of them runs.
func RootCommand(settings *conf.Settings) *cobra.Command {
	var configPath string
	var central *logger.CentralLogger

	rootCmd := &cobra.Command{
		Use:           "curator",
		Short:         "Curation tool for barcode reference libraries",
		Version:       buildinfo.Current().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, &configPath); err != nil {
		panic(err) // flag names are static
	}

	rootCmd.AddCommand(
		serve.Command(settings),
		importer.Command(settings),
		export.Command(settings),
		stats.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			conf.SetConfigFile(configPath)
		}
		loaded, err := conf.Load()
		if err != nil {
			return err
		}
		*settings = *loaded

		central, err = initLogging(settings)
		return err
	}

	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if central == nil {
			return nil
		}
		return central.Close()
	}

	return rootCmd
}

// initLogging installs the process-wide logger.
func initLogging(settings *conf.Settings) (*logger.CentralLogger, error) {
	cfg := settings.Logging
	if settings.Debug {
		cfg.DefaultLevel = "debug"
	}
	central, err := logger.NewCentralLogger(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)
	return central, nil
}

// setupFlags defines flags that are global to the command line interface.
func setupFlags(rootCmd *cobra.Command, configPath *string) error {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(configPath, "config", "", "Path to the configuration file")
	flags.BoolP("debug", "d", false, "Enable debug output")
	flags.String("datadir", "", "Folder holding dataset XML and database files")

	for key, name := range map[string]string{
		"debug":    "debug",
		"data.dir": "datadir",
	} {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", name, err)
		}
	}
	return nil
}
