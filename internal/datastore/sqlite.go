package datastore

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/errors"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/logger"
)

// DefaultBusyTimeout is used when SQLiteConfig.BusyTimeout is zero.
const DefaultBusyTimeout = 5 * time.Second

// SQLiteConfig locates one dataset database.
type SQLiteConfig struct {
	Path        string        // database file, created when missing
	BusyTimeout time.Duration // how long a statement waits on a locked database

	// InMemory opens a shared in-memory database named Path. The pool is
	// limited to one connection so every statement sees the same data.
	InMemory bool
}

func (c SQLiteConfig) dsn() string {
	timeout := c.BusyTimeout
	if timeout <= 0 {
		timeout = DefaultBusyTimeout
	}
	if c.InMemory {
		return fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=%d",
			url.PathEscape(c.Path), timeout.Milliseconds())
	}
	return fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		c.Path, timeout.Milliseconds())
}

// OpenSQLite opens or creates a SQLite dataset database and migrates its schema.
func OpenSQLite(cfg SQLiteConfig, opts Options) (Store, error) {
	opts = opts.withDefaults()

	if cfg.Path == "" {
		return nil, validationError(errors.NewStd("sqlite path is empty"), "path", cfg.Path)
	}
	if !cfg.InMemory {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
			return nil, errors.New(err).
				Component("datastore").
				Category(errors.CategoryFileIO).
				Context("operation", "create_database_dir").
				Context("path", cfg.Path).
				Build()
		}
	}

	db, err := gorm.Open(sqlite.Open(cfg.dsn()), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(opts.Logger, opts.SlowQueryThreshold),
	})
	if err != nil {
		opts.Logger.Error("failed to open SQLite database",
			logger.String("path", cfg.Path),
			logger.Error(err))
		return nil, dbError(err, "open", "dialect", dialectSQLite, "path", cfg.Path)
	}

	if cfg.InMemory {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, dbError(err, "open", "dialect", dialectSQLite)
		}
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
	}

	store := newGormStore(db, opts)
	if err := store.migrate(); err != nil {
		_ = store.Close()
		return nil, err
	}

	opts.Logger.Info("SQLite database opened",
		logger.String("path", cfg.Path),
		logger.Bool("in_memory", cfg.InMemory))
	return store, nil
}
