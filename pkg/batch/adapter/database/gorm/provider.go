// Package gorm opens gorm connections for the configured database types and provides
// the gorm-backed TransactionManager. Dialects register themselves from the mysql,
// postgres and sqlite sub-packages.
package gorm

import (
	"fmt"
	"sync"

	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// DialectorFactory turns a connection config into a gorm.Dialector.
type DialectorFactory func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error)

var (
	dialectorsMu sync.RWMutex
	dialectors   = map[string]DialectorFactory{}
)

// RegisterDialector makes dbType openable through Open.
func RegisterDialector(dbType string, factory DialectorFactory) {
	dialectorsMu.Lock()
	defer dialectorsMu.Unlock()
	if _, ok := dialectors[dbType]; ok {
		logger.Warnf("Dialector for type '%s' already registered. Overwriting.", dbType)
	}
	dialectors[dbType] = factory
}

func dialectorFor(dbType string) (DialectorFactory, error) {
	dialectorsMu.RLock()
	defer dialectorsMu.RUnlock()
	f, ok := dialectors[dbType]
	if !ok {
		return nil, fmt.Errorf("no dialector registered for database type '%s'", dbType)
	}
	return f, nil
}

// Open connects to cfg with the registered dialector and applies pool settings.
func Open(cfg dbconfig.DatabaseConfig, logLevel string) (*gorm.DB, error) {
	factory, err := dialectorFor(cfg.Type)
	if err != nil {
		return nil, exception.NewConfigurationError("gorm", "unsupported database type", err)
	}
	dialector, err := factory(cfg)
	if err != nil {
		return nil, exception.NewConfigurationError("gorm", "invalid database configuration", err)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: NewGormLogger(logLevel)})
	if err != nil {
		return nil, exception.NewBatchError("gorm", fmt.Sprintf("failed to open %s connection", cfg.Type), err, false, true)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, exception.NewBatchError("gorm", "failed to get underlying sql.DB", err, false, false)
	}
	if cfg.Pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.Pool.MaxOpenConns)
	}
	if cfg.Pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.Pool.MaxIdleConns)
	}
	if lt := cfg.ConnMaxLifetime(); lt > 0 {
		sqlDB.SetConnMaxLifetime(lt)
	}
	return db, nil
}

// ConnectionProvider opens named connections lazily and closes them together.
type ConnectionProvider struct {
	configs  map[string]dbconfig.DatabaseConfig
	logLevel string

	mu    sync.Mutex
	conns map[string]*gorm.DB
}

func NewConnectionProvider(configs map[string]dbconfig.DatabaseConfig, logLevel string) *ConnectionProvider {
	return &ConnectionProvider{
		configs:  configs,
		logLevel: logLevel,
		conns:    make(map[string]*gorm.DB),
	}
}

// Config returns the settings of a named connection.
func (p *ConnectionProvider) Config(name string) (dbconfig.DatabaseConfig, error) {
	cfg, ok := p.configs[name]
	if !ok {
		return dbconfig.DatabaseConfig{}, exception.NewConfigurationError("gorm",
			fmt.Sprintf("database configuration '%s' not found", name), nil)
	}
	return cfg, nil
}

// GetConnection returns the named connection, opening it on first use.
func (p *ConnectionProvider) GetConnection(name string) (*gorm.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if db, ok := p.conns[name]; ok {
		return db, nil
	}
	cfg, err := p.Config(name)
	if err != nil {
		return nil, err
	}
	db, err := Open(cfg, p.logLevel)
	if err != nil {
		return nil, err
	}
	p.conns[name] = db
	logger.Infof("Established DB connection '%s' (%s).", name, cfg.Type)
	return db, nil
}

// CloseAll closes every opened connection.
func (p *ConnectionProvider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for name, db := range p.conns {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.Close()
		}
		if err != nil {
			logger.Errorf("Failed to close DB connection '%s': %v", name, err)
			if firstErr == nil {
				firstErr = err
			}
		}
		delete(p.conns, name)
	}
	return firstErr
}
