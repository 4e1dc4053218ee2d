package sql

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/chunkbatch/pkg/batch/component/step/writer"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/item"
	"github.com/tigerroll/chunkbatch/pkg/batch/test"
)

type score struct {
	ID    int `gorm:"primaryKey"`
	Value int
}

// scoreReader emits score rows 1..n and restarts from its offset.
type scoreReader struct {
	n, offset int
}

func (r *scoreReader) Open(ctx context.Context, ec model.ExecutionContext) error {
	r.offset, _ = ec.GetInt("scoreReader.offset")
	return nil
}

func (r *scoreReader) Read(ctx context.Context) (score, error) {
	if r.offset >= r.n {
		return score{}, io.EOF
	}
	r.offset++
	return score{ID: r.offset, Value: r.offset * 10}, nil
}

func (r *scoreReader) Close(ctx context.Context) error { return nil }

func (r *scoreReader) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	ec := model.NewExecutionContext()
	ec.Put("scoreReader.offset", r.offset)
	return ec, nil
}

// openBusinessDB opens a second sqlite database holding only the scores table.
func openBusinessDB(t *testing.T) *gorm.DB {
	t.Helper()
	cfg := dbconfig.DatabaseConfig{Type: "sqlite", Database: filepath.Join(t.TempDir(), "business.db")}
	db, err := gormadapter.Open(cfg, "SILENT")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	require.NoError(t, db.AutoMigrate(&score{}))
	return db
}

// runScoreStep runs a chunk step writing scores through txDB while repo keeps the metadata.
func runScoreStep(t *testing.T, repo *SQLJobRepository, txDB *gorm.DB) *model.StepExecution {
	t.Helper()
	ctx := context.Background()
	instance := test.NewTestJobInstance(t, "scoreJob", model.NewJobParameters())
	require.NoError(t, repo.SaveJobInstance(ctx, instance))
	je := test.NewTestJobExecution(instance)
	je.MarkAsStarted()
	require.NoError(t, repo.SaveJobExecution(ctx, je))
	se := test.NewTestStepExecution("scoreStep", je)
	require.NoError(t, repo.SaveStepExecution(ctx, se))

	w, err := writer.NewSqlBulkWriter[score]("scoreWriter", writer.SqlBulkWriterConfig{
		Table: "scores", ConflictColumns: []string{"id"}, UpdateColumns: []string{"value"},
	})
	require.NoError(t, err)
	step, err := item.NewChunkStep[score, score]("scoreStep", &scoreReader{n: 5}, port.PassThroughProcessor[score]{}, w, 2, repo,
		item.WithTransactionManager(gormadapter.NewGormTransactionManager(txDB)))
	require.NoError(t, err)

	require.NoError(t, step.Execute(ctx, je, se))
	return se
}

func TestChunkStep_BusinessDatabaseSeparateFromMetadata(t *testing.T) {
	repo := NewSQLJobRepository(openSQLite(t))
	business := openBusinessDB(t)

	se := runScoreStep(t, repo, business)

	found, err := repo.FindStepExecutionByID(context.Background(), se.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, found.Status)
	assert.Equal(t, 5, found.WriteCount)
	assert.Equal(t, 3, found.CommitCount)
	assert.Equal(t, 5, found.CommitPosition)
	offset, _ := found.ExecutionContext.GetInt("scoreReader.offset")
	assert.Equal(t, 5, offset)

	var rows int64
	require.NoError(t, business.Model(&score{}).Count(&rows).Error)
	assert.Equal(t, int64(5), rows)
}

func TestChunkStep_SharedDatabasePersistsProgressInChunkTransaction(t *testing.T) {
	db := openSQLite(t)
	require.NoError(t, db.AutoMigrate(&score{}))
	repo := NewSQLJobRepository(db)

	se := runScoreStep(t, repo, db)

	found, err := repo.FindStepExecutionByID(context.Background(), se.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, found.Status)
	assert.Equal(t, 5, found.WriteCount)
	assert.Equal(t, 5, found.CommitPosition)
}

func TestSQLJobRepository_JoinsOnlyTransactionsOnItsConnection(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	repo := NewSQLJobRepository(db)

	own, err := gormadapter.NewGormTransactionManager(db.Session(&gorm.Session{})).Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = own.(*gormadapter.GormTx).DB().Rollback() }()
	assert.True(t, repo.Joins(own))

	other, err := gormadapter.NewGormTransactionManager(openBusinessDB(t)).Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = other.(*gormadapter.GormTx).DB().Rollback() }()
	assert.False(t, repo.Joins(other))

	assert.False(t, repo.Joins(nil))
}
