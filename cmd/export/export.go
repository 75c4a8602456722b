// Package export provides the export command.
package export

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/conf"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/dataset"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/export"
)

// Command creates the export command.
func Command(settings *conf.Settings) *cobra.Command {
	var output string
	var columns []string

	cmd := &cobra.Command{
		Use:   "export <dataset>",
		Short: "Export a dataset as CSV",
		Long:  "Write the curated records of a dataset as CSV. Without --columns every column is exported.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd.OutOrStdout(), settings, args[0], output, columns)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", export.DefaultFilename, `Output file, "-" for stdout`)
	cmd.Flags().StringSliceVar(&columns, "columns", nil, "Columns to export after the required ones")

	return cmd
}

func run(ctx context.Context, stdout io.Writer, settings *conf.Settings, name, output string, columns []string) (err error) {
	ds, err := dataset.NewManager(settings).Open(ctx, name)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := ds.Engine.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	w := stdout
	if output != "-" {
		f, ferr := os.Create(output)
		if ferr != nil {
			return fmt.Errorf("failed to create %s: %w", output, ferr)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		w = f
	}

	rows, err := export.NewExporter(settings.Export).Write(ctx, w, ds.Engine.Store(), columns)
	if err != nil {
		return err
	}
	if output != "-" {
		fmt.Fprintf(stdout, "Exported %d records to %s\n", rows, output)
	}
	return nil
}
