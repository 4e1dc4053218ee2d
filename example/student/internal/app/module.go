// Package app wires the student batch application: database connections, the job
// repository chosen by configuration, the chunk transaction manager and the migrations
// of the student tables.
package app

import (
	"context"
	"fmt"
	"io/fs"

	"go.uber.org/fx"
	"gorm.io/gorm"

	appconfig "github.com/tigerroll/chunkbatch/example/student/internal/config"
	"github.com/tigerroll/chunkbatch/example/student/internal/service"
	gormadapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm/mysql"
	_ "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm/postgres"
	_ "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm/sqlite"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	"github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/repository/migration"
	sqlrepo "github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// ApplicationMigrationsTable records the applied version of the student schema.
const ApplicationMigrationsTable = "student_schema_migrations"

// NewConnectionProvider opens the named databases of the configuration on demand and
// closes them when the application stops.
func NewConnectionProvider(lc fx.Lifecycle, cfg *config.Config) *gormadapter.ConnectionProvider {
	p := gormadapter.NewConnectionProvider(cfg.Chunkbatch.Database, cfg.Chunkbatch.System.Logging.Level)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Debugf("Closing database connections.")
			return p.CloseAll()
		},
	})
	return p
}

// NewMetadataDB opens the database of the sql job repository, applying the repository
// schema first when auto-migrate is set.
func NewMetadataDB(cfg *config.Config, conns *gormadapter.ConnectionProvider) (*gorm.DB, error) {
	repo := cfg.Chunkbatch.Infrastructure.JobRepository
	if repo.AutoMigrate {
		dbCfg, err := conns.Config(repo.Database)
		if err != nil {
			return nil, err
		}
		if err := migration.NewMigrator(dbCfg).UpFramework(context.Background()); err != nil {
			return nil, err
		}
	}
	return conns.GetConnection(repo.Database)
}

// RepositoryModule selects the job repository named by
// infrastructure.job-repository.type.
func RepositoryModule(cfg *config.Config) fx.Option {
	if cfg.Chunkbatch.Infrastructure.JobRepository.Type == config.RepositoryTypeSQL {
		logger.Infof("Using the SQL job repository on database '%s'.", cfg.Chunkbatch.Infrastructure.JobRepository.Database)
		return fx.Options(
			fx.Provide(fx.Annotate(NewMetadataDB, fx.ResultTags(`name:"metadata"`))),
			sqlrepo.Module,
		)
	}
	logger.Infof("Using the in-memory job repository.")
	return inmemory.Module
}

// NewTransactionManager returns a gorm transaction manager on the database of the sql
// writer. Other writers are not transactional and get none.
func NewTransactionManager(c *appconfig.StudentJobConfig, conns *gormadapter.ConnectionProvider) (tx.TransactionManager, error) {
	name := c.BusinessDatabase()
	if name == "" {
		return nil, nil
	}
	db, err := conns.GetConnection(name)
	if err != nil {
		return nil, err
	}
	return gormadapter.NewGormTransactionManager(db), nil
}

// MigrationParams are the dependencies of the application Migrator.
type MigrationParams struct {
	fx.In
	Cfg        *config.Config
	App        *appconfig.StudentJobConfig
	Migrations fs.FS `name:"applicationMigrations" optional:"true"`
}

// Migrator applies the student schema embedded in the binary. Scripts live under
// migrations/<dialect>.
type Migrator struct {
	cfg        *config.Config
	app        *appconfig.StudentJobConfig
	migrations fs.FS
}

func NewMigrator(p MigrationParams) *Migrator {
	return &Migrator{cfg: p.Cfg, app: p.App, migrations: p.Migrations}
}

func (m *Migrator) target() (*migration.Migrator, string, error) {
	if m.migrations == nil {
		return nil, "", fmt.Errorf("no application migrations are embedded")
	}
	name := m.app.Migrations.Database
	dbCfg, ok := m.cfg.DatabaseConfig(name)
	if !ok {
		return nil, "", fmt.Errorf("migrations database '%s' is not configured", name)
	}
	dir, err := migration.DialectDir(dbCfg.Type)
	if err != nil {
		return nil, "", err
	}
	return migration.NewMigrator(dbCfg), "migrations/" + dir, nil
}

// Up applies the pending student migrations.
func (m *Migrator) Up(ctx context.Context) error {
	mi, path, err := m.target()
	if err != nil {
		return err
	}
	return mi.Up(ctx, m.migrations, path, ApplicationMigrationsTable)
}

// Down reverts the student migrations.
func (m *Migrator) Down(ctx context.Context) error {
	mi, path, err := m.target()
	if err != nil {
		return err
	}
	return mi.Down(ctx, m.migrations, path, ApplicationMigrationsTable)
}

// Version reports the applied student schema version.
func (m *Migrator) Version(ctx context.Context) (uint, bool, error) {
	mi, path, err := m.target()
	if err != nil {
		return 0, false, err
	}
	return mi.Version(ctx, m.migrations, path, ApplicationMigrationsTable)
}

// autoMigrate applies the student schema on start when app.migrations.auto-migrate is set.
func autoMigrate(lc fx.Lifecycle, c *appconfig.StudentJobConfig, m *Migrator) {
	if !c.Migrations.AutoMigrate {
		return
	}
	lc.Append(fx.Hook{OnStart: m.Up})
}

// Module provides the application components shared by every command.
var Module = fx.Options(
	fx.Provide(
		appconfig.Load,
		func(c *appconfig.StudentJobConfig) *service.StudentService {
			return service.NewStudentService(c.Service)
		},
		NewConnectionProvider,
		NewTransactionManager,
		NewMigrator,
	),
	fx.Invoke(autoMigrate),
)
