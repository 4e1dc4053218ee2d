// Package migration applies versioned SQL migrations with golang-migrate. The schema of
// the job repository is embedded here per dialect; applications pass their own fs.FS for
// business tables.
package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	dbconfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/sqldb"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

const module = "migration"

// DefaultMigrationsTable records the applied version of the job repository schema.
const DefaultMigrationsTable = "batch_schema_migrations"

//go:embed sql
var frameworkMigrations embed.FS

// FrameworkMigrations returns the embedded job repository schema and the directory
// holding the scripts for dbType.
func FrameworkMigrations(dbType string) (fs.FS, string, error) {
	dir, err := DialectDir(dbType)
	if err != nil {
		return nil, "", err
	}
	return frameworkMigrations, "sql/" + dir, nil
}

// DialectDir returns the migration directory name used for dbType.
func DialectDir(dbType string) (string, error) {
	switch dbType {
	case "sqlite", "sqlite3":
		return "sqlite", nil
	case "mysql":
		return "mysql", nil
	case "postgres":
		return "postgres", nil
	default:
		return "", exception.NewConfigurationError(module, fmt.Sprintf("unsupported database type for migration: %s", dbType), nil)
	}
}

// Migrator runs migrations against one configured database. Every run opens a dedicated
// connection because closing a golang-migrate driver closes its *sql.DB.
type Migrator struct {
	cfg dbconfig.DatabaseConfig
}

func NewMigrator(cfg dbconfig.DatabaseConfig) *Migrator {
	return &Migrator{cfg: cfg}
}

// Up applies every pending migration found under path in fsys.
func (m *Migrator) Up(ctx context.Context, fsys fs.FS, path string, table string) error {
	return m.run(ctx, fsys, path, table, func(mi *migrate.Migrate) error { return mi.Up() })
}

// Down reverts every applied migration found under path in fsys.
func (m *Migrator) Down(ctx context.Context, fsys fs.FS, path string, table string) error {
	return m.run(ctx, fsys, path, table, func(mi *migrate.Migrate) error { return mi.Down() })
}

// Version reports the applied version and whether the last migration left the schema dirty.
// A schema without any applied migration reports version 0.
func (m *Migrator) Version(ctx context.Context, fsys fs.FS, path string, table string) (uint, bool, error) {
	var (
		version uint
		dirty   bool
	)
	err := m.run(ctx, fsys, path, table, func(mi *migrate.Migrate) error {
		var err error
		version, dirty, err = mi.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			return nil
		}
		return err
	})
	return version, dirty, err
}

// UpFramework applies the job repository schema.
func (m *Migrator) UpFramework(ctx context.Context) error {
	fsys, path, err := FrameworkMigrations(m.cfg.Type)
	if err != nil {
		return err
	}
	return m.Up(ctx, fsys, path, DefaultMigrationsTable)
}

func (m *Migrator) run(ctx context.Context, fsys fs.FS, path string, table string, command func(*migrate.Migrate) error) error {
	logger.Infof("Running migrations from '%s' (DB: %s, Table: %s).", path, m.cfg.Type, table)

	cfg, err := m.connectionConfig()
	if err != nil {
		return err
	}
	db, err := sqldb.Open(ctx, cfg)
	if err != nil {
		return err
	}

	source, err := iofs.New(fsys, path)
	if err != nil {
		_ = db.Close()
		return exception.NewConfigurationError(module, fmt.Sprintf("failed to read migrations at %s", path), err)
	}
	driver, err := databaseDriver(m.cfg.Type, db, table)
	if err != nil {
		_ = db.Close()
		return exception.NewBatchError(module, "failed to create migration database driver", err, false, false)
	}
	mi, err := migrate.NewWithInstance("iofs", source, m.cfg.Type, driver)
	if err != nil {
		_ = driver.Close()
		return exception.NewBatchError(module, "failed to create migrate instance", err, false, false)
	}
	defer func() {
		srcErr, dbErr := mi.Close()
		if srcErr != nil || dbErr != nil {
			logger.Warnf("Closing migrate instance failed: source=%v, database=%v", srcErr, dbErr)
		}
	}()

	if err := command(mi); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return exception.NewBatchError(module, fmt.Sprintf("migration failed (DB: %s, Path: %s)", m.cfg.Type, path), err, false, false)
	}
	logger.Infof("Migrations from '%s' are up to date.", path)
	return nil
}

// connectionConfig enables multi-statement scripts for MySQL, which the driver rejects by default.
func (m *Migrator) connectionConfig() (dbconfig.DatabaseConfig, error) {
	cfg := m.cfg
	if cfg.Type != "mysql" {
		return cfg, nil
	}
	dsn, err := cfg.ConnectionString()
	if err != nil {
		return cfg, exception.NewConfigurationError(module, "invalid database configuration", err)
	}
	mc, err := gomysql.ParseDSN(dsn)
	if err != nil {
		return cfg, exception.NewConfigurationError(module, "invalid mysql dsn", err)
	}
	mc.MultiStatements = true
	cfg.DSN = mc.FormatDSN()
	return cfg, nil
}

func databaseDriver(dbType string, db *sql.DB, table string) (database.Driver, error) {
	switch dbType {
	case "postgres":
		return postgres.WithInstance(db, &postgres.Config{MigrationsTable: table})
	case "mysql":
		return mysql.WithInstance(db, &mysql.Config{MigrationsTable: table})
	case "sqlite", "sqlite3":
		return sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: table})
	default:
		return nil, fmt.Errorf("unsupported database type for migration: %s", dbType)
	}
}
