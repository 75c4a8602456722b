// Package ingest loads dataset exports into a record store.
package ingest

import (
	"context"
	"encoding/xml"
	"io"
	"os"
	"strings"
	"time"

	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/curation"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/datastore"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/errors"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/logger"
)

const (
	// DefaultBatchSize is the number of records written per SaveRecords call.
	DefaultBatchSize = 500

	recordElement = "record"
	portalURL     = "https://portal.boldsystems.org/record/"
)

// Result summarizes one import.
type Result struct {
	Imported   int
	Skipped    int // records without a processid
	Duplicates int // records replaced by a later one with the same processid
	Duration   time.Duration
}

// Importer streams <records><record>…</record></records> documents into a store.
type Importer struct {
	store     datastore.Store
	batchSize int
	log       logger.Logger
}

// Option configures an Importer.
type Option func(*Importer)

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) Option {
	return func(im *Importer) {
		if n > 0 {
			im.batchSize = n
		}
	}
}

// WithLogger sets the importer's logger.
func WithLogger(l logger.Logger) Option {
	return func(im *Importer) {
		if l != nil {
			im.log = l
		}
	}
}

// NewImporter creates an importer writing to store.
func NewImporter(store datastore.Store, opts ...Option) *Importer {
	im := &Importer{
		store:     store,
		batchSize: DefaultBatchSize,
		log:       logger.Global().Module("ingest"),
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// field is one child element of a record. Nested markup is kept verbatim.
type field struct {
	XMLName xml.Name
	Inner   string `xml:",innerxml"`
}

type xmlRecord struct {
	Fields []field `xml:",any"`
}

// ImportFile imports the XML document at path.
func (im *Importer) ImportFile(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path) //nolint:gosec // dataset paths come from config
	if err != nil {
		return nil, errors.New(err).
			Component("ingest").
			Category(errors.CategoryFileIO).
			Context("operation", "open_dataset_xml").
			Context("path", path).
			Build()
	}
	defer func() { _ = f.Close() }()

	res, err := im.Import(ctx, f)
	if err != nil {
		return nil, err
	}
	im.log.Info("dataset imported",
		logger.String("path", path),
		logger.Int("imported", res.Imported),
		logger.Int("skipped", res.Skipped),
		logger.Duration("duration", res.Duration))
	return res, nil
}

// Import reads records from r and saves them in one transaction, so a
// malformed document leaves the store untouched.
func (im *Importer) Import(ctx context.Context, r io.Reader) (*Result, error) {
	start := time.Now()
	res := &Result{}

	err := im.store.Transaction(ctx, func(tx datastore.Store) error {
		dec := xml.NewDecoder(r)
		batch := make([]datastore.Record, 0, im.batchSize)
		// a repeated processid replaces the earlier record, within a batch too
		index := make(map[string]int, im.batchSize)

		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			if err := tx.SaveRecords(ctx, batch); err != nil {
				return err
			}
			res.Imported += len(batch)
			batch = batch[:0]
			clear(index)
			return ctx.Err()
		}

		for {
			tok, err := dec.Token()
			if err == io.EOF {
				break
			}
			if err != nil {
				return parseError(err, dec.InputOffset())
			}
			se, ok := tok.(xml.StartElement)
			if !ok || se.Name.Local != recordElement {
				continue
			}

			var raw xmlRecord
			if err := dec.DecodeElement(&raw, &se); err != nil {
				return parseError(err, dec.InputOffset())
			}
			rec, ok := toRecord(&raw)
			if !ok {
				res.Skipped++
				continue
			}
			if i, dup := index[rec.ProcessID]; dup {
				batch[i] = rec
				res.Duplicates++
				continue
			}
			index[rec.ProcessID] = len(batch)
			batch = append(batch, rec)
			if len(batch) >= im.batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		return flush()
	})
	if err != nil {
		return nil, err
	}

	res.Duration = time.Since(start)
	if res.Skipped > 0 {
		im.log.Warn("records without processid skipped", logger.Int("skipped", res.Skipped))
	}
	return res, nil
}

// toRecord maps the fields of one record element. It reports false when
// the record has no processid.
func toRecord(raw *xmlRecord) (datastore.Record, bool) {
	values := make(map[string]string, len(raw.Fields))
	for _, f := range raw.Fields {
		values[f.XMLName.Local] = fieldText(f.Inner)
	}
	rec := datastore.RecordFromFields(values)
	if rec.ProcessID == "" {
		return rec, false
	}
	rec.URL = portalURL + rec.ProcessID
	rec.Status = curation.CanonicalStatus(rec.Status)
	return rec, true
}

// fieldText unescapes character data and keeps nested markup as is.
func fieldText(inner string) string {
	trimmed := strings.TrimSpace(inner)
	if strings.HasPrefix(trimmed, "<") && !strings.HasPrefix(trimmed, "<![CDATA[") {
		return trimmed
	}
	var s string
	if err := xml.Unmarshal([]byte("<v>"+inner+"</v>"), &s); err != nil {
		return trimmed
	}
	return strings.TrimSpace(s)
}

func parseError(err error, offset int64) error {
	return errors.New(err).
		Component("ingest").
		Category(errors.CategoryFileParsing).
		Context("operation", "decode_dataset_xml").
		Context("offset", offset).
		Build()
}
