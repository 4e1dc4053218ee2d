package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbconfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/config"
)

func TestConnectionString(t *testing.T) {
	tests := []struct {
		name string
		cfg  dbconfig.DatabaseConfig
		want string
	}{
		{"sqlite", dbconfig.DatabaseConfig{Type: "sqlite", Database: "batch.db"}, "batch.db"},
		{"mysql", dbconfig.DatabaseConfig{Type: "mysql", Host: "db", User: "u", Password: "p", Database: "batch"},
			"u:p@tcp(db:3306)/batch?parseTime=true"},
		{"postgres default port", dbconfig.DatabaseConfig{Type: "postgres", Host: "pg", User: "u", Password: "p", Database: "batch"},
			"host=pg port=5432 user=u password=p dbname=batch sslmode=disable"},
		{"explicit dsn", dbconfig.DatabaseConfig{Type: "postgres", DSN: "postgres://x"}, "postgres://x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cfg.ConnectionString()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConnectionStringErrors(t *testing.T) {
	_, err := dbconfig.DatabaseConfig{Type: "sqlite"}.ConnectionString()
	assert.Error(t, err)
	_, err = dbconfig.DatabaseConfig{Type: "oracle"}.ConnectionString()
	assert.Error(t, err)
}
