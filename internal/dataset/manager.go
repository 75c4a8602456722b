// Package dataset finds datasets in the data folder and keeps the curation
// engine of the active one.
package dataset

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/conf"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/curation"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/datastore"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/errors"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/ingest"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/logger"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/observability"
)

const (
	extDatabase = ".db"
	extSource   = ".xml"
)

// Dataset is an opened dataset.
type Dataset struct {
	Name     string
	Engine   *curation.Engine
	Imported *ingest.Result // set when the database was built from XML on open
	OpenedAt time.Time

	// guarded by Manager.mu
	refs    int
	retired bool
}

// Manager lists datasets and switches the active one.
type Manager struct {
	settings *conf.Settings
	metrics  *observability.Metrics
	log      logger.Logger

	switchMu sync.Mutex // serializes Switch and Close
	mu       sync.RWMutex
	current  *Dataset
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics wires store and curation metrics into every opened dataset.
func WithMetrics(m *observability.Metrics) Option {
	return func(mg *Manager) { mg.metrics = m }
}

// WithLogger sets the manager's logger.
func WithLogger(l logger.Logger) Option {
	return func(mg *Manager) {
		if l != nil {
			mg.log = l
		}
	}
}

// NewManager creates a manager over settings.Data.Dir.
func NewManager(settings *conf.Settings, opts ...Option) *Manager {
	m := &Manager{
		settings: settings,
		log:      logger.Global().Module("dataset"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// List returns the dataset names found in the data folder as <name>.db or
// <name>.xml, sorted and without duplicates.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.settings.Data.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, errors.New(err).
			Component("dataset").
			Category(errors.CategoryFileIO).
			Context("operation", "list_datasets").
			Context("dir", m.settings.Data.Dir).
			Build()
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != extDatabase && ext != extSource {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ext))
	}
	slices.Sort(names)
	return slices.Compact(names), nil
}

// Current returns the active dataset or nil.
func (m *Manager) Current() *Dataset {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Engine returns the engine of the active dataset, or a State error when
// no dataset is open. The engine is closed by the next Switch; callers that
// may overlap a switch use Acquire.
func (m *Manager) Engine() (*curation.Engine, error) {
	if ds := m.Current(); ds != nil {
		return ds.Engine, nil
	}
	return nil, errNoDataset()
}

// Acquire returns the engine of the active dataset and a release func.
// A dataset switched out while acquired is closed on its last release.
func (m *Manager) Acquire() (*curation.Engine, func(), error) {
	m.mu.Lock()
	ds := m.current
	if ds == nil {
		m.mu.Unlock()
		return nil, nil, errNoDataset()
	}
	ds.refs++
	m.mu.Unlock()

	var once sync.Once
	return ds.Engine, func() { once.Do(func() { m.release(ds) }) }, nil
}

func (m *Manager) release(ds *Dataset) {
	m.mu.Lock()
	ds.refs--
	idle := ds.retired && ds.refs == 0
	m.mu.Unlock()
	if idle {
		m.closeDataset(ds)
	}
}

// retire closes ds now, or on its last release when it is still acquired.
func (m *Manager) retire(ds *Dataset) error {
	m.mu.Lock()
	ds.retired = true
	busy := ds.refs > 0
	m.mu.Unlock()
	if busy {
		m.log.Info("dataset in use, closing after in-flight requests",
			logger.String("dataset", ds.Name))
		return nil
	}
	return ds.Engine.Close()
}

func (m *Manager) closeDataset(ds *Dataset) {
	if err := ds.Engine.Close(); err != nil {
		m.log.Warn("closing previous dataset failed", logger.String("dataset", ds.Name), logger.Error(err))
	}
}

func errNoDataset() error {
	return errors.Newf("no dataset selected").
		Component("dataset").
		Category(errors.CategoryState).
		Build()
}

// Switch opens dataset name and makes it the active one. A database that
// does not exist yet is built from <name>.xml. The previous dataset is
// closed after the swap, once no request holds it.
func (m *Manager) Switch(ctx context.Context, name string) (*Dataset, error) {
	m.switchMu.Lock()
	defer m.switchMu.Unlock()

	ds, err := m.open(ctx, name)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	prev := m.current
	m.current = ds
	m.mu.Unlock()

	if prev != nil {
		if err := m.retire(prev); err != nil {
			m.log.Warn("closing previous dataset failed", logger.String("dataset", prev.Name), logger.Error(err))
		}
	}
	m.log.Info("dataset switched", logger.String("dataset", name))
	return ds, nil
}

// Open opens a dataset without making it the active one. The caller
// closes the returned engine.
func (m *Manager) Open(ctx context.Context, name string) (*Dataset, error) {
	return m.open(ctx, name)
}

// Close closes the active dataset, deferred like Switch while it is acquired.
func (m *Manager) Close() error {
	m.switchMu.Lock()
	defer m.switchMu.Unlock()

	m.mu.Lock()
	prev := m.current
	m.current = nil
	m.mu.Unlock()

	if prev == nil {
		return nil
	}
	return m.retire(prev)
}

// Import builds the database of dataset name from <name>.xml. An existing
// SQLite database is kept unless replace is set, since re-importing would
// reset curation state. The active dataset cannot be replaced.
func (m *Manager) Import(ctx context.Context, name string, replace bool) (*ingest.Result, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	m.switchMu.Lock()
	defer m.switchMu.Unlock()

	xmlPath := m.settings.DatasetSourcePath(name)
	if !fileExists(xmlPath) {
		return nil, errors.Newf("dataset source %q not found", name).
			Component("dataset").
			Category(errors.CategoryNotFound).
			Context("path", xmlPath).
			Build()
	}

	dbPath := m.settings.DatasetPath(name)
	if !m.settings.Output.MySQL.Enabled && fileExists(dbPath) {
		if !replace {
			return nil, errors.Newf("dataset %q already has a database", name).
				Component("dataset").
				Category(errors.CategoryConflict).
				Context("path", dbPath).
				Build()
		}
		if ds := m.Current(); ds != nil && ds.Name == name {
			return nil, errors.Newf("dataset %q is open", name).
				Component("dataset").
				Category(errors.CategoryState).
				Build()
		}
		removeDatabase(dbPath)
	}

	store, err := m.openStore(dbPath)
	if err != nil {
		return nil, err
	}
	res, err := ingest.NewImporter(store, ingest.WithLogger(logger.Global().Module("ingest"))).ImportFile(ctx, xmlPath)
	if cerr := store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		if !m.settings.Output.MySQL.Enabled {
			removeDatabase(dbPath)
		}
		return nil, err
	}
	m.log.Info("dataset imported",
		logger.String("dataset", name),
		logger.Int("records", res.Imported),
		logger.Int("skipped", res.Skipped))
	return res, nil
}

func (m *Manager) open(ctx context.Context, name string) (*Dataset, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	log := m.log.With(logger.String("dataset", name))

	dbPath := m.settings.DatasetPath(name)
	xmlPath := m.settings.DatasetSourcePath(name)
	mysql := m.settings.Output.MySQL.Enabled

	dbExists := fileExists(dbPath)
	xmlExists := fileExists(xmlPath)
	if !mysql && !dbExists && !xmlExists {
		return nil, errors.Newf("dataset %q not found", name).
			Component("dataset").
			Category(errors.CategoryNotFound).
			Context("dataset", name).
			Build()
	}

	store, err := m.openStore(dbPath)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{Name: name, OpenedAt: time.Now()}
	if !mysql && !dbExists {
		log.Info("database missing, importing dataset XML", logger.String("path", xmlPath))
		res, err := ingest.NewImporter(store).ImportFile(ctx, xmlPath)
		if err != nil {
			_ = store.Close()
			removeDatabase(dbPath)
			return nil, err
		}
		ds.Imported = res
	}

	engine, err := m.newEngine(ctx, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	ds.Engine = engine
	return ds, nil
}

func (m *Manager) openStore(dbPath string) (datastore.Store, error) {
	opts := datastore.Options{Logger: logger.Global().Module("datastore")}
	if m.metrics != nil {
		opts.Metrics = m.metrics.Datastore
	}
	if m.settings.Output.MySQL.Enabled {
		my := m.settings.Output.MySQL
		return datastore.OpenMySQL(datastore.MySQLConfig{
			Username: my.Username,
			Password: my.Password,
			Host:     my.Host,
			Port:     my.Port,
			Database: my.Database,
		}, opts)
	}
	return datastore.OpenSQLite(datastore.SQLiteConfig{
		Path:        dbPath,
		BusyTimeout: time.Duration(m.settings.Output.SQLite.BusyTimeout) * time.Millisecond,
	}, opts)
}

// newEngine builds the curation engine with the configured audit sinks.
// File sinks are closed together with the engine.
func (m *Manager) newEngine(ctx context.Context, store datastore.Store) (*curation.Engine, error) {
	cs := m.settings.Curation
	opts := []curation.Option{curation.WithLogger(logger.Global().Module("curation"))}
	if m.metrics != nil {
		opts = append(opts, curation.WithMetrics(m.metrics.Curation), curation.WithRecorder(m.metrics.Datastore))
	}

	var sinks []*curation.FileSink
	closeSinks := func() {
		for _, s := range sinks {
			_ = s.Close()
		}
	}
	for _, p := range []struct{ name, path string }{
		{"log", m.settings.Audit.Path},
		{"mirror", m.settings.Audit.MirrorPath},
	} {
		if p.path == "" {
			continue
		}
		sink, err := curation.NewFileSink(p.name, p.path)
		if err != nil {
			closeSinks()
			return nil, err
		}
		sinks = append(sinks, sink)
		opts = append(opts, curation.WithAuditSink(sink), curation.WithCloser(sink.Close))
	}
	if m.settings.Audit.Database {
		opts = append(opts, curation.WithStoreAudit())
	}

	engine, err := curation.NewEngine(ctx, store, curation.Config{
		SearchColumns: cs.SearchColumns,
		PageSize:      cs.PageSize,
		MaxPageSize:   cs.MaxPageSize,
		StatsCacheTTL: cs.StatsCacheTTL,
	}, opts...)
	if err != nil {
		closeSinks()
		return nil, err
	}
	return engine, nil
}

// ValidateName rejects names that would resolve outside the data folder.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return errors.Newf("invalid dataset name %q", name).
			Component("dataset").
			Category(errors.CategoryValidation).
			Context("dataset", name).
			Build()
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// removeDatabase deletes a database left behind by a failed import.
func removeDatabase(path string) {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		_ = os.Remove(p)
	}
}
