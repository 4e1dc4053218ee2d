// Package mysql registers the MySQL gorm dialector.
package mysql

import (
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm"
)

func init() {
	gormadapter.RegisterDialector("mysql", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		dsn, err := cfg.ConnectionString()
		if err != nil {
			return nil, err
		}
		return mysql.Open(dsn), nil
	})
}
