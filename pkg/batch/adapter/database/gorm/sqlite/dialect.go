// Package sqlite registers the SQLite gorm dialector.
package sqlite

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm"
)

func init() {
	factory := func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		dsn, err := cfg.ConnectionString()
		if err != nil {
			return nil, err
		}
		return sqlite.Open(dsn), nil
	}
	gormadapter.RegisterDialector("sqlite", factory)
	gormadapter.RegisterDialector("sqlite3", factory)
}
