package curation

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/datastore"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/errors"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testDBCounter atomic.Int64

var testColumns = []string{
	"bin_uri", "processid", "identification", "country_ocean", "url",
	"ranking", "sumscore", "species", "status", "class", "order",
	"family", "genus", "subspecies", "species_reference", "country_representative",
}

func quietLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
}

func newTestStore(t *testing.T) datastore.Store {
	t.Helper()
	name := fmt.Sprintf("curation_test_%d_%d", time.Now().UnixNano(), testDBCounter.Add(1))
	store, err := datastore.OpenSQLite(datastore.SQLiteConfig{Path: name, InMemory: true}, datastore.Options{
		Logger: quietLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// memorySink keeps delivered audit entries in memory.
type memorySink struct {
	mu      sync.Mutex
	entries []AuditEntry
	err     error
}

func (s *memorySink) Name() string { return "memory" }

func (s *memorySink) Write(_ context.Context, entries []AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entries...)
	return nil
}

func (s *memorySink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}

func (s *memorySink) all() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditEntry(nil), s.entries...)
}

type testEngine struct {
	*Engine
	store datastore.Store
	sink  *memorySink
}

func newTestEngine(t *testing.T, store datastore.Store, cfg Config, opts ...Option) *testEngine {
	t.Helper()
	if store == nil {
		store = newTestStore(t)
	}
	if cfg.SearchColumns == nil {
		cfg.SearchColumns = testColumns
	}
	sink := &memorySink{}
	opts = append([]Option{WithLogger(quietLogger()), WithAuditSink(sink)}, opts...)
	e, err := NewEngine(t.Context(), store, cfg, opts...)
	require.NoError(t, err)
	return &testEngine{Engine: e, store: store, sink: sink}
}

func (te *testEngine) seed(t *testing.T, records ...datastore.Record) {
	t.Helper()
	require.NoError(t, te.store.SaveRecords(t.Context(), records))
}

func (te *testEngine) get(t *testing.T, id string) *datastore.Record {
	t.Helper()
	r, err := te.store.Get(t.Context(), id)
	require.NoError(t, err)
	return r
}

func rec(id, identification, species, cluster string, status Status) datastore.Record {
	return datastore.Record{
		ProcessID:      id,
		Identification: identification,
		Species:        species,
		BinURI:         cluster,
		Status:         string(status),
	}
}

// failingStore fails the n-th UpdateFields call, counting across transactions.
type failingStore struct {
	datastore.Store
	failOn  int32
	updates *atomic.Int32
}

func newFailingStore(inner datastore.Store, failOn int32) *failingStore {
	return &failingStore{Store: inner, failOn: failOn, updates: &atomic.Int32{}}
}

func (f *failingStore) UpdateFields(ctx context.Context, processID string, fields map[string]any) error {
	if f.updates.Add(1) == f.failOn {
		return errors.Newf("simulated write failure").
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return f.Store.UpdateFields(ctx, processID, fields)
}

func (f *failingStore) Transaction(ctx context.Context, fn func(tx datastore.Store) error) error {
	return f.Store.Transaction(ctx, func(tx datastore.Store) error {
		return fn(&failingStore{Store: tx, failOn: f.failOn, updates: f.updates})
	})
}

func TestNewEngineRequiresStore(t *testing.T) {
	t.Parallel()
	_, err := NewEngine(t.Context(), nil, Config{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestNewEngineRestrictsPolicyToStoreColumns(t *testing.T) {
	t.Parallel()
	te := newTestEngine(t, nil, Config{SearchColumns: []string{"species", "no_such_column", "bin_uri", "species; DROP TABLE records"}})

	assert.Equal(t, []string{"species", "bin_uri"}, te.Policy().Columns())
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultPageSize, cfg.PageSize)
	assert.Equal(t, DefaultMaxPageSize, cfg.MaxPageSize)

	cfg = Config{PageSize: 50, MaxPageSize: 20}.withDefaults()
	assert.Equal(t, 50, cfg.PageSize)
	assert.Equal(t, DefaultMaxPageSize, cfg.MaxPageSize)
}

func TestEngineCloseRunsClosers(t *testing.T) {
	t.Parallel()
	var closed atomic.Bool
	te := newTestEngine(t, nil, Config{}, WithCloser(func() error {
		closed.Store(true)
		return nil
	}))

	require.NoError(t, te.Close())
	assert.True(t, closed.Load())

	err := te.store.Transaction(t.Context(), func(datastore.Store) error { return nil })
	assert.ErrorIs(t, err, datastore.ErrStoreClosed)
}
