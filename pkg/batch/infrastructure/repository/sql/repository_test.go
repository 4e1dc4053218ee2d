package sql

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	"github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/repository/migration"
	"github.com/tigerroll/chunkbatch/pkg/batch/test"
)

// openSQLite migrates a fresh sqlite file and opens it with gorm.
func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	cfg := dbconfig.DatabaseConfig{Type: "sqlite", Database: filepath.Join(t.TempDir(), "batch.db")}
	require.NoError(t, migration.NewMigrator(cfg).UpFramework(context.Background()))

	db, err := gormadapter.Open(cfg, "SILENT")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestSQLJobRepository_Contract(t *testing.T) {
	test.RunJobRepositoryContract(t, func(t *testing.T) repository.JobRepository {
		return NewSQLJobRepository(openSQLite(t))
	})
}

func TestSQLJobRepository_UpdateJoinsContextTransaction(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	repo := NewSQLJobRepository(db)

	instance := test.NewTestJobInstance(t, "firstJob", model.NewJobParameters())
	require.NoError(t, repo.SaveJobInstance(ctx, instance))
	je := test.NewTestJobExecution(instance)
	require.NoError(t, repo.SaveJobExecution(ctx, je))
	se := test.NewTestStepExecution("firstChunkStep", je)
	require.NoError(t, repo.SaveStepExecution(ctx, se))

	tm := gormadapter.NewGormTransactionManager(db)
	t1, err := tm.Begin(ctx)
	require.NoError(t, err)
	se.WriteCount = 3
	se.CommitPosition = 3
	require.NoError(t, repo.UpdateStepExecution(tx.WithTx(ctx, t1), se))
	require.NoError(t, tm.Rollback(t1))

	found, err := repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, found.WriteCount, "rolled back progress must not be visible")
	assert.Equal(t, 0, found.Version)

	se.Version = 0
	t2, err := tm.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.UpdateStepExecution(tx.WithTx(ctx, t2), se))
	require.NoError(t, tm.Commit(t2))

	found, err = repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, found.WriteCount)
	assert.Equal(t, 3, found.CommitPosition)
}

func TestSQLJobRepository_UpdateOfMissingRowIsALockFailure(t *testing.T) {
	repo := NewSQLJobRepository(openSQLite(t))
	se := model.NewStepExecution("ghost", nil)
	err := repo.UpdateStepExecution(context.Background(), se)
	require.Error(t, err)
	assert.False(t, errors.Is(err, repository.ErrStepExecutionNotFound))
}
