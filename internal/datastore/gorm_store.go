package datastore

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/errors"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/logger"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/observability/metrics"
)

const (
	dialectSQLite = "sqlite"
	dialectMySQL  = "mysql"

	tableRecords = "records"
	tableAudit   = "audit_entries"

	// saveBatchSize keeps bulk upserts below SQLite's bound parameter limit.
	saveBatchSize = 200
)

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// Options carries the collaborators shared by every store.
type Options struct {
	Logger  logger.Logger    // datastore module logger; nil uses the global one
	Metrics metrics.Recorder // nil disables store metrics

	// SlowQueryThreshold logs statements slower than this at WARN; 0 disables.
	SlowQueryThreshold time.Duration
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = logger.Global().Module("datastore")
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NopRecorder{}
	}
	return o
}

// gormStore implements Store on top of gorm. Values bound to a transaction
// share the parent's write mutex and closed flag.
type gormStore struct {
	db      *gorm.DB
	dialect string
	log     logger.Logger
	metrics metrics.Recorder

	// writeMu serializes writers within the process. SQLite allows one
	// writer at a time and a deferred transaction that upgrades from read
	// to write fails instead of waiting when another writer committed first.
	writeMu *sync.Mutex
	closed  *atomic.Bool

	inTx     bool
	readOnly bool
}

func newGormStore(db *gorm.DB, opts Options) *gormStore {
	s := &gormStore{
		db:      db,
		dialect: db.Dialector.Name(),
		log:     opts.Logger,
		metrics: opts.Metrics,
		closed:  &atomic.Bool{},
	}
	if s.dialect == dialectSQLite {
		s.writeMu = &sync.Mutex{}
	}
	return s
}

// migrate creates or updates the records and audit tables.
func (s *gormStore) migrate() error {
	if err := s.db.AutoMigrate(&Record{}, &AuditLog{}); err != nil {
		return dbError(err, "auto_migrate", "dialect", s.dialect)
	}
	return nil
}

func (s *gormStore) bound(tx *gorm.DB, readOnly bool) *gormStore {
	child := *s
	child.db = tx
	child.inTx = true
	child.readOnly = readOnly
	return &child
}

func (s *gormStore) quote(column string) (string, error) {
	if !ValidColumnName(column) {
		return "", validationError(ErrInvalidColumn, "column", column)
	}
	return s.db.Statement.Quote(column), nil
}

// observe records duration and outcome of one operation.
func (s *gormStore) observe(op string, start time.Time, err error) {
	s.metrics.RecordDuration(op, time.Since(start).Seconds())
	if err != nil {
		s.metrics.RecordError(op, classifyError(err))
		return
	}
	s.metrics.RecordOperation(op, metrics.LabelSuccess)
}

// fail logs a database error and wraps it for the caller.
func (s *gormStore) fail(ctx context.Context, operation string, err error, kv ...any) error {
	wrapped := dbError(err, operation, kv...)
	s.log.WithContext(ctx).Error("database operation failed",
		logger.String("operation", operation),
		logger.String("error_type", classifyError(err)),
		logger.Error(err))
	return wrapped
}

func errReadOnly() error {
	return errors.Newf("write attempted inside a read snapshot").
		Component("datastore").
		Category(errors.CategoryState).
		Build()
}

// write runs fn under the process-wide writer lock unless the store is
// already bound to a write transaction.
func (s *gormStore) write(ctx context.Context, fn func(db *gorm.DB) error) error {
	if s.readOnly {
		return errReadOnly()
	}
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if !s.inTx && s.writeMu != nil {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}
	return fn(s.db.WithContext(ctx))
}

func (s *gormStore) applyPredicate(tx *gorm.DB, p Predicate) (*gorm.DB, error) {
	for _, c := range p.Conditions {
		col, err := s.quote(c.Column)
		if err != nil {
			return nil, err
		}
		switch c.Op {
		case OpContains:
			if len(c.Values) == 0 {
				return nil, validationError(errors.NewStd("contains needs a value"), c.Column, c.Values)
			}
			tx = tx.Where(col+" LIKE ? ESCAPE '!'", "%"+likeEscaper.Replace(c.Values[0])+"%")
		case OpEquals:
			if len(c.Values) == 0 {
				return nil, validationError(errors.NewStd("equals needs a value"), c.Column, c.Values)
			}
			tx = tx.Where(col+" = ?", c.Values[0])
		case OpNotInOrNull:
			if len(c.Values) == 0 {
				continue
			}
			tx = tx.Where("("+col+" IS NULL OR "+col+" NOT IN ?)", c.Values)
		default:
			return nil, validationError(errors.NewStd("unknown condition"), c.Column, c.Op)
		}
	}
	return tx, nil
}

// orderClause renders one order term for the current dialect.
func (s *gormStore) orderClause(term OrderTerm) (string, error) {
	col, err := s.quote(term.Column)
	if err != nil {
		return "", err
	}
	dir := "ASC"
	if term.Desc {
		dir = "DESC"
	}

	switch term.Kind {
	case OrderTextNoCase:
		if s.dialect == dialectMySQL {
			return "LOWER(" + col + ") " + dir, nil
		}
		return col + " COLLATE NOCASE " + dir, nil
	case OrderFlagYesFirst:
		return "CASE WHEN " + col + " = 'Yes' THEN 0 ELSE 1 END " + dir, nil
	case OrderNumeric:
		// Exponent forms ("1e3") count as numbers, as CAST does.
		trimmed := "TRIM(" + col + ")"
		if s.dialect == dialectMySQL {
			return "CASE WHEN TRIM(COALESCE(" + col + ", '')) = '' OR " + trimmed +
				" NOT REGEXP '^[-+]?([0-9]+[.]?[0-9]*|[.][0-9]+)([eE][-+]?[0-9]+)?$' THEN 1 ELSE 0 END ASC, " +
				"(" + trimmed + " + 0) " + dir, nil
		}
		return "CASE WHEN TRIM(COALESCE(" + col + ", '')) = '' OR " + trimmed + " GLOB '*[^0-9.eE+-]*' OR " +
			trimmed + " NOT GLOB '[0-9.+-]*' OR " + trimmed + " NOT GLOB '*[0-9]*' THEN 1 ELSE 0 END ASC, " +
			"CAST(" + trimmed + " AS REAL) " + dir, nil
	default:
		return col + " " + dir, nil
	}
}

// Find returns one page of records. The primary key is appended as the
// last order term so pages are stable.
func (s *gormStore) Find(ctx context.Context, q Query) ([]Record, error) {
	const op = metrics.OpDbQuery + ":" + tableRecords
	start := time.Now()

	tx, err := s.applyPredicate(s.db.WithContext(ctx).Model(&Record{}), q.Where)
	if err != nil {
		return nil, err
	}
	for _, term := range q.Order {
		order, err := s.orderClause(term)
		if err != nil {
			return nil, err
		}
		tx = tx.Order(order)
	}
	pk, _ := s.quote(ColumnProcessID)
	tx = tx.Order(pk + " ASC")
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	if q.Offset > 0 {
		tx = tx.Offset(q.Offset)
	}

	var records []Record
	err = tx.Find(&records).Error
	s.observe(op, start, err)
	if err != nil {
		return nil, s.fail(ctx, "find", err, "offset", q.Offset, "limit", q.Limit)
	}
	return records, nil
}

// FindAll returns every record matching p.
func (s *gormStore) FindAll(ctx context.Context, p Predicate) ([]Record, error) {
	const op = metrics.OpDbQuery + ":" + tableRecords
	start := time.Now()

	tx, err := s.applyPredicate(s.db.WithContext(ctx).Model(&Record{}), p)
	if err != nil {
		return nil, err
	}

	var records []Record
	err = tx.Find(&records).Error
	s.observe(op, start, err)
	if err != nil {
		return nil, s.fail(ctx, "find_all", err, "predicate", p.Signature())
	}
	return records, nil
}

// Get returns the record with the given processid.
func (s *gormStore) Get(ctx context.Context, processID string) (*Record, error) {
	const op = metrics.OpDbQuery + ":" + tableRecords
	start := time.Now()

	var record Record
	err := s.db.WithContext(ctx).Where(ColumnProcessID+" = ?", processID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.observe(op, start, nil)
		return nil, notFoundError(processID)
	}
	s.observe(op, start, err)
	if err != nil {
		return nil, s.fail(ctx, "get", err, "processid", processID)
	}
	return &record, nil
}

// UpdateFields writes column values to one record.
func (s *gormStore) UpdateFields(ctx context.Context, processID string, fields map[string]any) error {
	const op = metrics.OpDbUpdate + ":" + tableRecords
	if len(fields) == 0 {
		return nil
	}
	for column := range fields {
		if !ValidColumnName(column) || column == ColumnProcessID {
			return validationError(ErrInvalidColumn, "column", column)
		}
	}

	start := time.Now()
	var affected int64
	err := s.write(ctx, func(db *gorm.DB) error {
		res := db.Model(&Record{}).Where(ColumnProcessID+" = ?", processID).Updates(fields)
		affected = res.RowsAffected
		return res.Error
	})
	s.observe(op, start, err)
	if err != nil {
		if errors.Is(err, ErrStoreClosed) || errors.IsCategory(err, errors.CategoryState) {
			return err
		}
		return s.fail(ctx, "update_fields", err, "processid", processID)
	}
	if affected == 0 {
		return notFoundError(processID)
	}
	return nil
}

// CountMatching counts records matching p.
func (s *gormStore) CountMatching(ctx context.Context, p Predicate) (int64, error) {
	const op = metrics.OpDbQuery + ":" + tableRecords
	start := time.Now()

	tx, err := s.applyPredicate(s.db.WithContext(ctx).Model(&Record{}), p)
	if err != nil {
		return 0, err
	}

	var count int64
	err = tx.Count(&count).Error
	s.observe(op, start, err)
	if err != nil {
		return 0, s.fail(ctx, "count", err, "predicate", p.Signature())
	}
	return count, nil
}

// DistinctCount counts distinct non-null values of column among records matching p.
func (s *gormStore) DistinctCount(ctx context.Context, column string, p Predicate) (int64, error) {
	const op = metrics.OpDbQuery + ":" + tableRecords
	col, err := s.quote(column)
	if err != nil {
		return 0, err
	}
	start := time.Now()

	tx, err := s.applyPredicate(s.db.WithContext(ctx).Model(&Record{}), p)
	if err != nil {
		return 0, err
	}

	var count int64
	err = tx.Select("COUNT(DISTINCT " + col + ")").Row().Scan(&count)
	s.observe(op, start, err)
	if err != nil {
		return 0, s.fail(ctx, "distinct_count", err, "column", column)
	}
	return count, nil
}

// Columns lists the columns of the records table, leaving out the
// internal extra column.
func (s *gormStore) Columns(ctx context.Context) ([]string, error) {
	types, err := s.db.WithContext(ctx).Migrator().ColumnTypes(&Record{})
	if err != nil {
		return nil, s.fail(ctx, "columns", err)
	}
	columns := make([]string, 0, len(types))
	for _, t := range types {
		if t.Name() == ColumnExtra {
			continue
		}
		columns = append(columns, t.Name())
	}
	return columns, nil
}

// SaveRecords upserts records on processid.
func (s *gormStore) SaveRecords(ctx context.Context, records []Record) error {
	const op = metrics.OpDbInsert + ":" + tableRecords
	if len(records) == 0 {
		return nil
	}
	for i := range records {
		if records[i].ProcessID == "" {
			return validationError(errors.NewStd("record without processid"), ColumnProcessID, i)
		}
	}

	start := time.Now()
	err := s.write(ctx, func(db *gorm.DB) error {
		return db.Clauses(clause.OnConflict{UpdateAll: true}).CreateInBatches(&records, saveBatchSize).Error
	})
	s.observe(op, start, err)
	if err != nil {
		return s.fail(ctx, "save_records", err, "count", len(records))
	}
	return nil
}

// SaveAuditEntries appends audit rows.
func (s *gormStore) SaveAuditEntries(ctx context.Context, entries []AuditLog) error {
	const op = metrics.OpDbInsert + ":" + tableAudit
	if len(entries) == 0 {
		return nil
	}

	start := time.Now()
	err := s.write(ctx, func(db *gorm.DB) error {
		return db.Create(&entries).Error
	})
	s.observe(op, start, err)
	if err != nil {
		return s.fail(ctx, "save_audit_entries", err, "count", len(entries))
	}
	return nil
}

// AuditTrail returns the audit rows of one record, newest first.
func (s *gormStore) AuditTrail(ctx context.Context, processID string) ([]AuditLog, error) {
	const op = metrics.OpDbQuery + ":" + tableAudit
	start := time.Now()

	var entries []AuditLog
	err := s.db.WithContext(ctx).
		Where(ColumnProcessID+" = ?", processID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&entries).Error
	s.observe(op, start, err)
	if err != nil {
		return nil, s.fail(ctx, "audit_trail", err, "processid", processID)
	}
	return entries, nil
}

// Transaction runs fn in one database transaction. Nested calls reuse the
// outer transaction.
func (s *gormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		if s.readOnly {
			return errReadOnly()
		}
		return fn(s)
	}
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if s.writeMu != nil {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}

	start := time.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(s.bound(tx, false))
	})
	s.observe(metrics.OpTransaction, start, err)
	return s.wrapTxError(ctx, "transaction", err)
}

// Snapshot runs fn inside a read transaction. On SQLite in WAL mode a
// deferred transaction reads from one snapshot; MySQL gets a read-only
// repeatable-read transaction.
func (s *gormStore) Snapshot(ctx context.Context, fn func(view Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if s.closed.Load() {
		return ErrStoreClosed
	}

	var opts []*sql.TxOptions
	if s.dialect == dialectMySQL {
		opts = append(opts, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	}

	start := time.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(s.bound(tx, true))
	}, opts...)
	s.observe(metrics.OpSnapshot, start, err)
	return s.wrapTxError(ctx, "snapshot", err)
}

// wrapTxError leaves errors produced inside fn untouched and wraps failures
// of begin or commit.
func (s *gormStore) wrapTxError(ctx context.Context, operation string, err error) error {
	if err == nil {
		return nil
	}
	var enhanced *errors.EnhancedError
	if errors.As(err, &enhanced) {
		return err
	}
	return s.fail(ctx, operation, err)
}

// Close closes the underlying connection pool. Closing a transaction-bound
// store is a no-op.
func (s *gormStore) Close() error {
	if s.inTx {
		return nil
	}
	if s.closed.Swap(true) {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return dbError(err, "close")
	}
	if err := sqlDB.Close(); err != nil {
		return dbError(err, "close")
	}
	s.log.Debug("database connection closed", logger.String("dialect", s.dialect))
	return nil
}
