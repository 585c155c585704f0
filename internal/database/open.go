package database

import (
	"errors"
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/portfolio-blog/backend/internal/counters"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

var errUnsupportedDriver = errors.New("unsupported database driver")

// Options selects the counter database.
type Options struct {
	Driver string
	// Path is the SQLite file.
	Path string
	// DSN is the MySQL data source name.
	DSN string
}

// Open establishes the configured connection and performs schema migrations.
func Open(options Options, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		db  *gorm.DB
		err error
	)
	switch options.Driver {
	case DriverSQLite, "":
		db, err = OpenSQLite(options.Path)
	case DriverMySQL:
		db, err = OpenMySQL(options.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", errUnsupportedDriver, options.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := Migrate(db, logger); err != nil {
		if sqlDB, closeErr := db.DB(); closeErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}

	logger.Info("database initialized", zap.String("driver", db.Dialector.Name()))
	return db, nil
}

// OpenSQLite opens a single-connection SQLite database so upserts are serialized by the pool.
func OpenSQLite(path string) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// OpenMySQL opens a MySQL database. parseTime is forced on so the timestamp columns scan
// into time.Time.
func OpenMySQL(dsn string) (*gorm.DB, error) {
	normalized, err := normalizeMySQLDSN(dsn)
	if err != nil {
		return nil, err
	}
	return gorm.Open(mysql.Open(normalized), &gorm.Config{})
}

func normalizeMySQLDSN(dsn string) (string, error) {
	if dsn == "" {
		return "", fmt.Errorf("database dsn is required")
	}
	cfg, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse database dsn: %w", err)
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

// Migrate creates the counter tables and applies pending one-shot migrations.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(&counters.PostView{}, &counters.PostReaction{}, &migrationRecord{}); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}
