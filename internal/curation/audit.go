package curation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/datastore"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/errors"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/logger"
)

// ActionUpdated labels entries written for applied edits.
const ActionUpdated = "Updated"

// auditTimeLayout matches the timestamps of existing change logs.
const auditTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// FieldChange is one changed column of one record.
type FieldChange struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// AuditEntry records every changed field of one record for one edit.
type AuditEntry struct {
	ID        uuid.UUID     `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	RecordID  string        `json:"record_id"`
	Action    string        `json:"action"`
	Changes   []FieldChange `json:"changes"`
}

// AuditSink receives entries after the corresponding writes committed.
type AuditSink interface {
	Write(ctx context.Context, entries []AuditEntry) error
}

type namedSink interface {
	Name() string
}

func sinkName(s AuditSink) string {
	if n, ok := s.(namedSink); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}

// newAuditEntry stamps a new entry with a time-ordered ID.
func newAuditEntry(recordID string, changes []FieldChange, now time.Time) AuditEntry {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return AuditEntry{
		ID:        id,
		Timestamp: now,
		RecordID:  recordID,
		Action:    ActionUpdated,
		Changes:   changes,
	}
}

// FileSink appends entries to a text change log:
//
//	2024-05-01T10:00:00.000Z - Process ID: ABC123-20, Action: Updated
//	    status:  -> exclude species
type FileSink struct {
	name   string
	writer *logger.BufferedFileWriter
}

// NewFileSink opens (or creates) the change log at path.
func NewFileSink(name, path string) (*FileSink, error) {
	if err := logger.EnsureFileDirectory(path); err != nil {
		return nil, auditFileError(err, path)
	}
	// flushing is explicit, one sync per batch
	w, err := logger.NewBufferedFileWriter(path, logger.WithFlushInterval(0))
	if err != nil {
		return nil, auditFileError(err, path)
	}
	return &FileSink{name: name, writer: w}, nil
}

// Name identifies the sink in metrics and errors.
func (s *FileSink) Name() string { return s.name }

// Write appends entries and syncs the file.
func (s *FileSink) Write(_ context.Context, entries []AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for i := range entries {
		formatEntry(&buf, &entries[i])
	}
	if err := s.writer.WriteSync(buf.Bytes()); err != nil {
		return auditFileError(err, s.writer.FilePath())
	}
	return nil
}

// Close flushes and closes the log file.
func (s *FileSink) Close() error {
	return s.writer.Close()
}

func formatEntry(buf *bytes.Buffer, e *AuditEntry) {
	fmt.Fprintf(buf, "%s - Process ID: %s, Action: %s\n",
		e.Timestamp.UTC().Format(auditTimeLayout), e.RecordID, e.Action)
	for _, c := range e.Changes {
		fmt.Fprintf(buf, "    %s: %s -> %s\n", c.Field, c.Old, c.New)
	}
}

func auditFileError(err error, path string) error {
	return errors.New(err).
		Component("curation").
		Category(errors.CategoryFileIO).
		Context("operation", "audit_write").
		Context("path", path).
		Build()
}

// StoreSink persists entries to the audit table of a record store.
type StoreSink struct {
	store datastore.Store
}

// NewStoreSink creates a sink writing to store.
func NewStoreSink(store datastore.Store) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Name() string { return "database" }

func (s *StoreSink) Write(ctx context.Context, entries []AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]datastore.AuditLog, 0, len(entries))
	for i := range entries {
		row, err := toAuditLog(&entries[i])
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	return s.store.SaveAuditEntries(ctx, rows)
}

func toAuditLog(e *AuditEntry) (datastore.AuditLog, error) {
	changes, err := json.Marshal(e.Changes)
	if err != nil {
		return datastore.AuditLog{}, errors.New(err).
			Component("curation").
			Category(errors.CategoryGeneric).
			Context("operation", "encode_audit_changes").
			Build()
	}
	return datastore.AuditLog{
		ID:        e.ID.String(),
		ProcessID: e.RecordID,
		Action:    e.Action,
		Changes:   changes,
		CreatedAt: e.Timestamp,
	}, nil
}

func fromAuditLog(row *datastore.AuditLog) (AuditEntry, error) {
	e := AuditEntry{
		Timestamp: row.CreatedAt,
		RecordID:  row.ProcessID,
		Action:    row.Action,
	}
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return e, errors.New(err).
			Component("curation").
			Category(errors.CategoryFileParsing).
			Context("audit_id", row.ID).
			Build()
	}
	e.ID = id
	if len(row.Changes) > 0 {
		if err := json.Unmarshal(row.Changes, &e.Changes); err != nil {
			return e, errors.New(err).
				Component("curation").
				Category(errors.CategoryFileParsing).
				Context("audit_id", row.ID).
				Build()
		}
	}
	return e, nil
}

// MultiSink delivers every batch to each of its sinks. A failing sink does
// not stop delivery to the others; all failures are joined.
type MultiSink struct {
	sinks   []AuditSink
	observe func(sink string, err error)
}

// NewMultiSink fans out to sinks in order; nil sinks are skipped.
func NewMultiSink(sinks ...AuditSink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Len returns the number of sinks.
func (m *MultiSink) Len() int { return len(m.sinks) }

func (m *MultiSink) Write(ctx context.Context, entries []AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	var errs []error
	for _, s := range m.sinks {
		err := s.Write(ctx, entries)
		if m.observe != nil {
			m.observe(sinkName(s), err)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("audit sink %s: %w", sinkName(s), err))
		}
	}
	return errors.Join(errs...)
}
