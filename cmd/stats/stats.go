// Package stats provides the stats command.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/conf"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/curation"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/dataset"
)

// maxConcurrent bounds how many datasets are open at once.
const maxConcurrent = 4

// Report holds the stats of one dataset.
type Report struct {
	Dataset  string         `json:"dataset" yaml:"dataset"`
	Total    int64          `json:"total" yaml:"total"`
	Filtered int64          `json:"filtered" yaml:"filtered"`
	Stats    curation.Stats `json:"stats" yaml:"stats"`
}

type options struct {
	all            bool
	includeInvalid bool
	format         string
}

// Command creates the stats command.
func Command(settings *conf.Settings) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "stats [dataset...]",
		Short: "Print curation statistics of datasets",
		Long:  "Compute browse statistics for the named datasets, or for every dataset in the data folder with --all.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd.OutOrStdout(), settings, args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.all, "all", false, "Report every dataset in the data folder")
	cmd.Flags().BoolVar(&opts.includeInvalid, "include-invalid", false, "Count invalid and excluded records")
	cmd.Flags().StringVar(&opts.format, "format", "table", "Output format: table, json or yaml")

	return cmd
}

func run(ctx context.Context, w io.Writer, settings *conf.Settings, names []string, opts options) error {
	m := dataset.NewManager(settings)
	if opts.all {
		all, err := m.List()
		if err != nil {
			return err
		}
		names = all
	}
	if len(names) == 0 {
		return fmt.Errorf("no dataset given, name one or use --all")
	}

	reports, err := Collect(ctx, m, names, opts.includeInvalid)
	if err != nil {
		return err
	}
	return write(w, reports, opts.format)
}

// Collect computes the reports of names concurrently, in the order given.
// Repeated names are reported once.
func Collect(ctx context.Context, m *dataset.Manager, names []string, includeInvalid bool) ([]Report, error) {
	names = unique(names)
	reports := make([]Report, len(names))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	for i, name := range names {
		g.Go(func() error {
			r, err := collectOne(ctx, m, name, includeInvalid)
			if err != nil {
				return fmt.Errorf("dataset %s: %w", name, err)
			}
			reports[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

func unique(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func collectOne(ctx context.Context, m *dataset.Manager, name string, includeInvalid bool) (r Report, err error) {
	ds, err := m.Open(ctx, name)
	if err != nil {
		return r, err
	}
	defer func() {
		if cerr := ds.Engine.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	res, err := ds.Engine.Browse(ctx, curation.BrowseRequest{IncludeInvalid: includeInvalid, Limit: 1})
	if err != nil {
		return r, err
	}
	return Report{Dataset: name, Total: res.Total, Filtered: res.Filtered, Stats: res.Stats}, nil
}

func write(w io.Writer, reports []Report, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(reports); err != nil {
			return err
		}
		return enc.Close()
	case "table", "":
		return writeTable(w, reports)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func writeTable(w io.Writer, reports []Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATASET\tRECORDS\tSPECIES\tBINS\tCURATED\tUNCURATED\tSHARING\tSPLITTING\tGRADES")
	for _, r := range reports {
		s := r.Stats
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.Dataset, s.Records, s.Species, s.Clusters, s.Curated, s.Uncurated,
			s.SharingEvents, s.SplittingEvents, gradeSummary(s.Grades))
	}
	return tw.Flush()
}

func gradeSummary(grades map[curation.Grade]int) string {
	keys := make([]curation.Grade, 0, len(grades))
	for g := range grades {
		keys = append(keys, g)
	}
	slices.Sort(keys)
	out := ""
	for _, g := range keys {
		if out != "" {
			out += " "
		}
		out += fmt.Sprintf("%s:%d", g, grades[g])
	}
	return out
}
