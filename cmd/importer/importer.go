// Package importer provides the import command.
package importer

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/conf"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/dataset"
)

// Command creates the import command.
func Command(settings *conf.Settings) *cobra.Command {
	var replace bool

	cmd := &cobra.Command{
		Use:   "import <dataset>",
		Short: "Build a dataset database from its XML file",
		Long:  "Import <dataset>.xml from the data folder into <dataset>.db. An existing database is kept unless --replace is given.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := dataset.NewManager(settings).Import(cmd.Context(), args[0], replace)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d records into %s (%d skipped, %d duplicates) in %s\n",
				res.Imported, settings.DatasetPath(args[0]), res.Skipped, res.Duplicates, res.Duration.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().BoolVar(&replace, "replace", false, "Replace an existing database, discarding its curation state")

	return cmd
}
