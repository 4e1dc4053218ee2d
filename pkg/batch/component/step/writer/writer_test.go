package writer

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	pqreader "github.com/xitongsys/parquet-go/reader"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage"
	storagelocal "github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

type student struct {
	ID        int64  `gorm:"column:id;primaryKey" parquet:"name=id, type=INT64"`
	FirstName string `gorm:"column:first_name" parquet:"name=first_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Email     string `gorm:"column:email" parquet:"name=email, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func (s student) String() string {
	return s.FirstName
}

func TestConsoleItemWriter(t *testing.T) {
	var out bytes.Buffer
	w := NewConsoleItemWriter[student](&out)
	require.NoError(t, w.Open(context.Background(), model.NewExecutionContext()))
	require.NoError(t, w.Write(context.Background(), nil, []student{{ID: 1, FirstName: "Ada"}, {ID: 2, FirstName: "Alan"}}))
	require.NoError(t, w.Close(context.Background()))
	assert.Equal(t, "Inside item writer\nAda\nAlan\n", out.String())
}

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	cfg := dbconfig.DatabaseConfig{Type: "sqlite", Database: filepath.Join(t.TempDir(), "out.db")}
	db, err := gormadapter.Open(cfg, "SILENT")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	require.NoError(t, db.Exec("CREATE TABLE student_out (id INTEGER PRIMARY KEY, first_name TEXT, email TEXT)").Error)
	return db
}

func TestSqlBulkWriter_UpsertsWithinTransaction(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	tm := gormadapter.NewGormTransactionManager(db)
	w, err := NewSqlBulkWriter[student]("studentWriter", SqlBulkWriterConfig{
		Table:           "student_out",
		BulkSize:        2,
		ConflictColumns: []string{"id"},
		UpdateColumns:   []string{"first_name", "email"},
	})
	require.NoError(t, err)

	t1, err := tm.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Write(ctx, t1, []student{
		{ID: 1, FirstName: "Ada", Email: "ada@example.com"},
		{ID: 2, FirstName: "Alan", Email: "alan@example.com"},
		{ID: 3, FirstName: "Grace", Email: "grace@example.com"},
	}))
	require.NoError(t, tm.Commit(t1))

	t2, err := tm.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Write(ctx, t2, []student{{ID: 1, FirstName: "Augusta", Email: "ada@example.com"}}))
	require.NoError(t, tm.Commit(t2))

	t3, err := tm.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Write(ctx, t3, []student{{ID: 4, FirstName: "Edsger"}}))
	require.NoError(t, tm.Rollback(t3))

	var rows []student
	require.NoError(t, db.Table("student_out").Order("id").Find(&rows).Error)
	require.Len(t, rows, 3)
	assert.Equal(t, "Augusta", rows[0].FirstName)
	assert.Equal(t, "Grace", rows[2].FirstName)
}

func TestSqlBulkWriter_ReportsSinkWriteError(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	tm := gormadapter.NewGormTransactionManager(db)
	w, err := NewSqlBulkWriter[student]("studentWriter", SqlBulkWriterConfig{Table: "missing_table", ConflictColumns: []string{"id"}})
	require.NoError(t, err)

	t1, err := tm.Begin(ctx)
	require.NoError(t, err)
	defer tm.Rollback(t1)
	err = w.Write(ctx, t1, []student{{ID: 1}})
	assert.True(t, exception.IsSinkWriteError(err))

	assert.Error(t, w.Write(ctx, nil, []student{{ID: 1}}))
	assert.NoError(t, w.Write(ctx, nil, nil))
}

func TestNewSqlBulkWriter_RequiresTableAndKeys(t *testing.T) {
	_, err := NewSqlBulkWriter[student]("w", SqlBulkWriterConfig{ConflictColumns: []string{"id"}})
	assert.Error(t, err)
	_, err = NewSqlBulkWriter[student]("w", SqlBulkWriterConfig{Table: "student_out"})
	assert.Error(t, err)
}

func newResolver(t *testing.T) *storage.ConnectionResolver {
	t.Helper()
	r := storage.NewConnectionResolver(nil, storage.NamedFactory{Type: storage.TypeLocal, Factory: storagelocal.NewLocalAdapter})
	t.Cleanup(func() { r.CloseAll() })
	return r
}

func readParquet(t *testing.T, path string) []student {
	t.Helper()
	pf, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer pf.Close()
	pr, err := pqreader.NewParquetReader(pf, new(student), 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	rows := make([]student, pr.GetNumRows())
	require.NoError(t, pr.Read(&rows))
	return rows
}

func parts(t *testing.T, dir string) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, "part-*.parquet"))
	require.NoError(t, err)
	return files
}

func TestParquetWriter_WritesOnePartPerChunk(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "students")
	w, err := NewParquetWriter[student]("parquetWriter", ParquetWriterConfig{Resource: dir}, newResolver(t), nil)
	require.NoError(t, err)
	require.NoError(t, w.Open(ctx, model.NewExecutionContext()))

	require.NoError(t, w.Write(ctx, nil, []student{{ID: 1, FirstName: "Ada"}, {ID: 2, FirstName: "Alan"}}))
	require.Len(t, parts(t, dir), 1, "a chunk is on storage once Write returns")
	require.NoError(t, w.Write(ctx, nil, []student{{ID: 3, FirstName: "Grace"}}))
	require.NoError(t, w.Close(ctx))

	files := parts(t, dir)
	require.Len(t, files, 2)
	assert.Equal(t, "part-0000000000.parquet", filepath.Base(files[0]))
	assert.Equal(t, "part-0000000002.parquet", filepath.Base(files[1]))
	assert.Len(t, readParquet(t, files[0]), 2)
	rows := readParquet(t, files[1])
	require.Len(t, rows, 1)
	assert.Equal(t, "Grace", rows[0].FirstName)

	ec, err := w.GetExecutionContext(ctx)
	require.NoError(t, err)
	written, _ := ec.GetInt("parquetWriter.written.count")
	assert.Equal(t, 3, written)
}

func TestParquetWriter_RestartKeepsCommittedParts(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	resolver := newResolver(t)

	first, err := NewParquetWriter[student]("parquetWriter", ParquetWriterConfig{Resource: dir}, resolver, nil)
	require.NoError(t, err)
	require.NoError(t, first.Open(ctx, model.NewExecutionContext()))
	require.NoError(t, first.Write(ctx, nil, []student{{ID: 1}, {ID: 2}, {ID: 3}}))
	committed, err := first.GetExecutionContext(ctx)
	require.NoError(t, err)
	// The second chunk reaches storage but its transaction never commits.
	require.NoError(t, first.Write(ctx, nil, []student{{ID: 4}, {ID: 99}}))
	require.NoError(t, first.Close(ctx))

	second, err := NewParquetWriter[student]("parquetWriter", ParquetWriterConfig{Resource: dir}, resolver, nil)
	require.NoError(t, err)
	require.NoError(t, second.Open(ctx, committed))
	require.NoError(t, second.Write(ctx, nil, []student{{ID: 4}, {ID: 5}, {ID: 6}}))
	require.NoError(t, second.Close(ctx))

	files := parts(t, dir)
	require.Len(t, files, 2)
	var ids []int64
	for _, f := range files {
		for _, r := range readParquet(t, f) {
			ids = append(ids, r.ID)
		}
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6}, ids, "committed rows survive and the uncommitted part is replaced")
}

func TestParquetWriter_NamesPartsByCommitPosition(t *testing.T) {
	dir := t.TempDir()
	se := model.NewStepExecution("parquetStep", nil)
	se.CommitPosition = 7
	ctx := port.WithStepExecution(context.Background(), se)

	w, err := NewParquetWriter[student]("parquetWriter", ParquetWriterConfig{Resource: dir}, newResolver(t), nil)
	require.NoError(t, err)
	require.NoError(t, w.Open(ctx, model.NewExecutionContext()))
	require.NoError(t, w.Write(ctx, nil, []student{{ID: 8}}))
	// A retry of the same chunk replaces its part.
	require.NoError(t, w.Write(ctx, nil, []student{{ID: 8}}))

	files := parts(t, dir)
	require.Len(t, files, 1)
	assert.Equal(t, "part-0000000007.parquet", filepath.Base(files[0]))
}

func TestParquetWriter_PartitionsByKey(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	byDomain := func(s student) (string, error) {
		if s.Email == "" {
			return "", errors.New("no email")
		}
		return "domain=" + filepath.Ext(s.Email)[1:], nil
	}
	w, err := NewParquetWriter[student]("parquetWriter", ParquetWriterConfig{Resource: dir, Compression: "gzip"}, newResolver(t), byDomain)
	require.NoError(t, err)
	require.NoError(t, w.Open(ctx, model.NewExecutionContext()))
	require.NoError(t, w.Write(ctx, nil, []student{
		{ID: 1, Email: "ada@example.com"},
		{ID: 2, Email: "alan@example.org"},
		{ID: 3, Email: "grace@example.com"},
	}))
	assert.True(t, exception.IsSinkWriteError(w.Write(ctx, nil, []student{{ID: 4}})))
	require.NoError(t, w.Close(ctx))

	com := parts(t, filepath.Join(dir, "domain=com"))
	require.Len(t, com, 1)
	assert.Len(t, readParquet(t, com[0]), 2)
	assert.Len(t, parts(t, filepath.Join(dir, "domain=org")), 1)
}

func TestParquetWriter_NothingWritten(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "empty")
	w, err := NewParquetWriter[student]("parquetWriter", ParquetWriterConfig{Resource: dir}, newResolver(t), nil)
	require.NoError(t, err)
	require.NoError(t, w.Open(context.Background(), model.NewExecutionContext()))
	require.NoError(t, w.Write(context.Background(), nil, nil))
	require.NoError(t, w.Close(context.Background()))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	_, err = NewParquetWriter[student]("parquetWriter", ParquetWriterConfig{Resource: dir, Compression: "lz0"}, newResolver(t), nil)
	assert.Error(t, err)
}
