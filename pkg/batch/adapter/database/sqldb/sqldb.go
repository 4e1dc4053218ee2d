// Package sqldb opens plain database/sql connections for components that stream rows
// with a cursor instead of going through gorm.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/snowflakedb/gosnowflake"

	dbconfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// driverNames maps configured database types to registered database/sql driver names.
var driverNames = map[string]string{
	"sqlite":    "sqlite3",
	"sqlite3":   "sqlite3",
	"mysql":     "mysql",
	"postgres":  "postgres",
	"snowflake": "snowflake",
}

// DriverName returns the database/sql driver registered for dbType.
func DriverName(dbType string) (string, error) {
	name, ok := driverNames[dbType]
	if !ok {
		return "", fmt.Errorf("no database/sql driver for type '%s'", dbType)
	}
	return name, nil
}

// Open connects to cfg and verifies the connection with a ping.
func Open(ctx context.Context, cfg dbconfig.DatabaseConfig) (*sql.DB, error) {
	driver, err := DriverName(cfg.Type)
	if err != nil {
		return nil, exception.NewConfigurationError("sqldb", "unsupported database type", err)
	}
	dsn, err := cfg.ConnectionString()
	if err != nil {
		return nil, exception.NewConfigurationError("sqldb", "invalid database configuration", err)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, exception.NewBatchError("sqldb", fmt.Sprintf("failed to open %s connection", cfg.Type), err, false, false)
	}
	if cfg.Pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Pool.MaxOpenConns)
	}
	if cfg.Pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Pool.MaxIdleConns)
	}
	if lt := cfg.ConnMaxLifetime(); lt > 0 {
		db.SetConnMaxLifetime(lt)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, exception.NewBatchError("sqldb", fmt.Sprintf("failed to ping %s", cfg.Type), err, false, true)
	}
	logger.Debugf("Opened %s connection via driver '%s'.", cfg.Type, driver)
	return db, nil
}
