// Package export writes curated datasets as CSV.
package export

import (
	"context"
	"encoding/csv"
	"io"
	"slices"
	"strings"

	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/conf"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/curation"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/datastore"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/errors"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/logger"
)

// DefaultFilename is suggested to clients downloading an export.
const DefaultFilename = "taxonomic_records.csv"

const pageSize = 1000

// Column is one exported column and the header it is written under.
type Column struct {
	Name   string
	Header string
}

// Exporter lays out and writes CSV exports.
type Exporter struct {
	required []string
	excluded map[string]struct{}
	headers  map[string]string // column -> header
	columns  map[string]string // header -> column
	selected string
	log      logger.Logger
}

// NewExporter creates an exporter for the given layout settings.
func NewExporter(cfg conf.ExportSettings) *Exporter {
	x := &Exporter{
		required: slices.Clone(cfg.Required),
		excluded: make(map[string]struct{}, len(cfg.Excluded)),
		headers:  make(map[string]string, len(cfg.Renames)),
		columns:  make(map[string]string, len(cfg.Renames)),
		selected: cfg.SelectedHeader,
		log:      logger.Global().Module("export"),
	}
	if len(x.required) == 0 {
		x.required = slices.Clone(conf.DefaultExportRequired)
	}
	if x.selected == "" {
		x.selected = "selected records"
	}
	for _, c := range cfg.Excluded {
		x.excluded[c] = struct{}{}
	}
	for _, r := range cfg.Renames {
		x.headers[r.Column] = r.Header
		x.columns[r.Header] = r.Column
	}
	return x
}

func (x *Exporter) header(column string) string {
	if h, ok := x.headers[column]; ok {
		return h
	}
	return column
}

// column resolves a requested name that may be a renamed header.
func (x *Exporter) column(name string) string {
	if c, ok := x.columns[name]; ok {
		return c
	}
	return name
}

// Layout returns the exported columns: required columns first, then the
// selected ones. With no selection every available column is exported.
// Excluded columns and duplicates are dropped.
func (x *Exporter) Layout(available, selected []string) []Column {
	present := make(map[string]struct{}, len(available))
	for _, c := range available {
		present[c] = struct{}{}
	}

	var layout []Column
	seen := make(map[string]struct{})
	add := func(name string) {
		h := x.header(name)
		if _, dup := seen[h]; dup {
			return
		}
		seen[h] = struct{}{}
		layout = append(layout, Column{Name: name, Header: h})
	}

	required := make(map[string]struct{}, len(x.required))
	for _, c := range x.required {
		required[c] = struct{}{}
		required[x.header(c)] = struct{}{}
		if _, ok := present[c]; ok || c == x.selected {
			add(c)
		}
	}

	if len(selected) == 0 {
		selected = available
	}
	for _, name := range selected {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := x.excluded[name]; ok {
			continue
		}
		if _, ok := required[name]; ok {
			continue
		}
		add(x.column(name))
	}
	return layout
}

// Write exports every record of store to w and returns the number of rows
// written. All rows come from one snapshot.
func (x *Exporter) Write(ctx context.Context, w io.Writer, store datastore.Store, selected []string) (int, error) {
	rows := 0
	err := store.Snapshot(ctx, func(view datastore.Store) error {
		available, err := view.Columns(ctx)
		if err != nil {
			return err
		}
		if len(selected) == 0 {
			extra, err := extraColumns(ctx, view)
			if err != nil {
				return err
			}
			available = append(available, extra...)
		}
		layout := x.Layout(available, selected)

		cw := csv.NewWriter(w)
		header := make([]string, len(layout))
		for i, c := range layout {
			header[i] = c.Header
		}
		if err := cw.Write(header); err != nil {
			return writeError(err)
		}

		line := make([]string, len(layout))
		err = eachPage(ctx, view, func(page []datastore.Record) error {
			for i := range page {
				for j, c := range layout {
					line[j] = x.value(&page[i], c.Name)
				}
				if err := cw.Write(line); err != nil {
					return writeError(err)
				}
				rows++
			}
			cw.Flush()
			return writeError(cw.Error())
		})
		if err != nil {
			return err
		}
		cw.Flush()
		return writeError(cw.Error())
	})
	if err != nil {
		x.log.Error("export failed", logger.Int("rows", rows), logger.Error(err))
		return rows, err
	}
	x.log.Info("dataset exported", logger.Int("rows", rows))
	return rows, nil
}

func (x *Exporter) value(r *datastore.Record, column string) string {
	if column == x.selected {
		if IsSelected(r) {
			return r.ProcessID
		}
		return ""
	}
	v, _ := r.Value(column)
	return sanitizeCSVField(v)
}

// IsSelected reports whether a record belongs to the curated selection:
// uncurated country representatives and every valid record that has a
// representative flag.
func IsSelected(r *datastore.Record) bool {
	rep := strings.ToLower(strings.TrimSpace(r.CountryRepresentative))
	valid := curation.Status(r.Status) == curation.StatusValid
	switch rep {
	case "yes":
		return r.Status == "" || valid
	case "no":
		return valid
	}
	return false
}

// extraColumns returns every key found in the Extra field of any record, sorted.
func extraColumns(ctx context.Context, view datastore.Store) ([]string, error) {
	keys := make(map[string]struct{})
	err := eachPage(ctx, view, func(page []datastore.Record) error {
		for i := range page {
			for k := range page[i].Extra {
				keys[k] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	slices.Sort(out)
	return out, nil
}

// eachPage walks all records in processid order.
func eachPage(ctx context.Context, view datastore.Store, fn func([]datastore.Record) error) error {
	for offset := 0; ; offset += pageSize {
		page, err := view.Find(ctx, datastore.Query{Offset: offset, Limit: pageSize})
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		if err := fn(page); err != nil {
			return err
		}
		if len(page) < pageSize {
			return nil
		}
	}
}

// sanitizeCSVField neutralizes values a spreadsheet would run as a formula.
func sanitizeCSVField(field string) string {
	if field == "" {
		return field
	}
	switch field[0] {
	case '=', '+', '-', '@':
		return "'" + field
	}
	return field
}

func writeError(err error) error {
	if err == nil {
		return nil
	}
	return errors.New(err).
		Component("export").
		Category(errors.CategoryFileIO).
		Context("operation", "write_csv").
		Build()
}
