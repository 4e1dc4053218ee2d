// Package postgres registers the PostgreSQL gorm dialector.
package postgres

import (
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm"
)

func init() {
	gormadapter.RegisterDialector("postgres", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		dsn, err := cfg.ConnectionString()
		if err != nil {
			return nil, err
		}
		return postgres.Open(dsn), nil
	})
}
