package datastore

import (
	"net"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/errors"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/logger"
)

const mysqlDialTimeout = 10 * time.Second

// MySQLConfig configures a shared MySQL database.
type MySQLConfig struct {
	Username string
	Password string
	Host     string
	Port     string
	Database string
}

// dsn builds the connection string through mysql.Config so credentials are escaped.
// ClientFoundRows makes UPDATE report matched rows, which UpdateFields relies on.
func (c MySQLConfig) dsn() string {
	cfg := gomysql.NewConfig()
	cfg.User = c.Username
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(c.Host, c.Port)
	cfg.DBName = c.Database
	cfg.ParseTime = true
	cfg.Loc = time.Local
	cfg.ClientFoundRows = true
	cfg.Timeout = mysqlDialTimeout
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// OpenMySQL connects to MySQL and migrates the schema.
func OpenMySQL(cfg MySQLConfig, opts Options) (Store, error) {
	opts = opts.withDefaults()

	if cfg.Host == "" || cfg.Database == "" {
		return nil, validationError(errors.NewStd("mysql host and database are required"), "host", cfg.Host)
	}

	db, err := gorm.Open(mysql.Open(cfg.dsn()), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(opts.Logger, opts.SlowQueryThreshold),
	})
	if err != nil {
		opts.Logger.Error("failed to open MySQL database",
			logger.String("host", cfg.Host),
			logger.String("port", cfg.Port),
			logger.String("database", cfg.Database),
			logger.Error(err))
		return nil, dbError(err, "open", "dialect", dialectMySQL, "host", cfg.Host)
	}

	store := newGormStore(db, opts)
	if err := store.migrate(); err != nil {
		_ = store.Close()
		return nil, err
	}

	opts.Logger.Info("MySQL database opened",
		logger.String("host", cfg.Host),
		logger.String("database", cfg.Database))
	return store, nil
}
