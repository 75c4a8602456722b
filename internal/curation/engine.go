// Package curation is the decision engine of the curation tool.
//
// An Engine is bound to one record store. Browse answers filtered, sorted
// and paginated reads enriched with cluster grouping diagnostics and species
// grades. SubmitEdit applies a curator's edit to one record, cascading
// exclude/reinclude statuses over the identification group and typo or
// synonym renames over every record holding the old species, and emits one
// audit entry per changed record.
//
// Edits lock their cascade scope and write in one store transaction; reads
// run inside a store snapshot, so a browse never sees half a cascade.
package curation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/datastore"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/errors"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/logger"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/observability/metrics"
)

// Defaults applied to a zero Config.
const (
	DefaultPageSize      = 10
	DefaultMaxPageSize   = 1000
	DefaultStatsCacheTTL = 5 * time.Minute
)

// maxScopeAttempts bounds how often an edit re-resolves its lock scope
// when the record moves to another species while waiting.
const maxScopeAttempts = 3

// Config is the browse configuration of an engine.
type Config struct {
	SearchColumns []string      // allow-list for search and sort
	PageSize      int           // default page length
	MaxPageSize   int           // upper bound on page length
	StatsCacheTTL time.Duration // 0 disables the stats cache
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.MaxPageSize < c.PageSize {
		c.MaxPageSize = max(DefaultMaxPageSize, c.PageSize)
	}
	return c
}

// Engine runs browse and edit operations against one store.
type Engine struct {
	store  datastore.Store
	cfg    Config
	policy *ColumnPolicy
	log    logger.Logger
	now    func() time.Time

	metrics  *metrics.CurationMetrics
	recorder metrics.Recorder
	audit    *MultiSink
	closers  []func() error

	locks *scopeLocks
	// viewMu orders edit commits against browse reads so cached stats
	// always match the snapshot they are served with. Edits hold it only
	// while their transaction commits; scope locks order the edits.
	viewMu     sync.RWMutex
	generation atomic.Uint64
	stats      *cache.Cache
	statsGroup singleflight.Group
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetrics records edit, audit and browse metrics.
func WithMetrics(m *metrics.CurationMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithRecorder records lock wait times.
func WithRecorder(r metrics.Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithAuditSink adds a sink receiving audit entries. Sinks receive entries
// in the order they were added.
func WithAuditSink(s AuditSink) Option {
	return func(e *Engine) { e.audit.sinks = append(e.audit.sinks, s) }
}

// WithStoreAudit also persists audit entries in the engine's store.
func WithStoreAudit() Option {
	return func(e *Engine) { e.audit.sinks = append(e.audit.sinks, NewStoreSink(e.store)) }
}

// WithClock overrides the clock used for audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithCloser registers a function run by Close, after the store is closed.
func WithCloser(fn func() error) Option {
	return func(e *Engine) { e.closers = append(e.closers, fn) }
}

// NewEngine creates an engine over store. The search allow-list is
// narrowed to columns the store actually has.
func NewEngine(ctx context.Context, store datastore.Store, cfg Config, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.Newf("curation engine requires a record store").
			Component("curation").
			Category(errors.CategoryConfiguration).
			Build()
	}

	cfg = cfg.withDefaults()
	e := &Engine{
		store:    store,
		cfg:      cfg,
		log:      logger.Global().Module("curation"),
		now:      time.Now,
		recorder: metrics.NopRecorder{},
		audit:    NewMultiSink(),
		locks:    newScopeLocks(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.audit.observe = e.observeAudit

	columns, err := store.Columns(ctx)
	if err != nil {
		return nil, err
	}
	e.policy = NewColumnPolicy(cfg.SearchColumns).Restrict(columns)

	if cfg.StatsCacheTTL > 0 {
		// no janitor: expired entries are skipped by Get and dropped on Flush
		e.stats = cache.New(cfg.StatsCacheTTL, 0)
	}

	if e.audit.Len() == 0 {
		e.log.Warn("no audit sink configured, edits will not be logged")
	}
	e.log.Debug("curation engine ready",
		logger.Int("search_columns", len(e.policy.Columns())),
		logger.Int("page_size", cfg.PageSize),
		logger.Duration("stats_cache_ttl", cfg.StatsCacheTTL))

	return e, nil
}

// Store returns the store the engine operates on.
func (e *Engine) Store() datastore.Store { return e.store }

// Policy returns the effective search and sort allow-list.
func (e *Engine) Policy() *ColumnPolicy { return e.policy }

// Close closes the store and then runs registered closers.
func (e *Engine) Close() error {
	var errs []error
	if err := e.store.Close(); err != nil {
		errs = append(errs, err)
	}
	for _, fn := range e.closers {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.stats != nil {
		e.stats.Flush()
	}
	return errors.Join(errs...)
}

func (e *Engine) observeAudit(sink string, err error) {
	if e.metrics != nil {
		e.metrics.RecordAuditWrite(sink, err)
	}
	if err != nil {
		e.log.Error("audit write failed", logger.String("sink", sink), logger.Error(err))
	}
}

func (e *Engine) recordEdit(branch Branch, outcome string, affected int) {
	if e.metrics != nil {
		e.metrics.RecordEdit(string(branch), outcome, affected)
	}
}

// invalidate drops cached stats after a committed edit. Callers hold viewMu.
func (e *Engine) invalidate() {
	e.generation.Add(1)
	if e.stats != nil {
		e.stats.Flush()
	}
}
