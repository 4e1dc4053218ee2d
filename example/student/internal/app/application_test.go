package app_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tigerroll/chunkbatch/example/student/internal/app"
	"github.com/tigerroll/chunkbatch/example/student/internal/job"
	dbconfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// migrations are the scripts main embeds.
var migrations = os.DirFS("../../cmd/studentbatch/resources")

func options(t *testing.T, yaml string) (app.Options, *bytes.Buffer) {
	t.Helper()
	out := new(bytes.Buffer)
	return app.Options{
		EnvFilePath:    filepath.Join(t.TempDir(), "absent.env"),
		EmbeddedConfig: config.EmbeddedConfig(yaml),
		Migrations:     migrations,
		ConsoleOut:     out,
	}, out
}

func runJob(t *testing.T, o app.Options, params model.JobParameters) *model.JobExecution {
	t.Helper()
	cfg, err := app.LoadConfig(o)
	require.NoError(t, err)

	var je *model.JobExecution
	err = app.Run(context.Background(), cfg, o, func(ctx context.Context, s app.Services) error {
		var runErr error
		je, runErr = app.RunJob(ctx, s, job.JobName, params)
		return runErr
	})
	require.NoError(t, err)
	require.NotNil(t, je)
	return je
}

func openDB(t *testing.T, path string) *gorm.DB {
	t.Helper()
	db, err := gormadapter.Open(dbconfig.DatabaseConfig{Type: "sqlite", Database: path}, "SILENT")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestRunJob_AdapterToConsoleInMemory(t *testing.T) {
	o, out := options(t, `
chunkbatch:
  batch:
    chunk-size: 3
  system:
    logging:
      level: SILENT
  app:
    process: true
`)
	je := runJob(t, o, model.NewJobParameters())

	assert.Equal(t, model.BatchStatusCompleted, je.Status)
	require.Len(t, je.StepExecutions, 1)
	se := je.StepExecutions[0]
	assert.Equal(t, job.StepName, se.StepName)
	assert.Equal(t, 10, se.ReadCount)
	assert.Equal(t, 10, se.WriteCount)

	printed := out.String()
	assert.Equal(t, 4, strings.Count(printed, "Inside item writer"), "chunks of 3, 3, 3 and 1")
	assert.Contains(t, printed, "Student [id=1, firstName=John, lastName=Smith, email=john.smith@example.com]")
	assert.Contains(t, printed, "Student [id=10, firstName=Emma, lastName=Wong, email=emma.wong@example.com]")
}

func TestRunJob_FlatFileToSQLWithSQLRepository(t *testing.T) {
	dir := t.TempDir()
	university := filepath.Join(dir, "university.db")
	o, _ := options(t, fmt.Sprintf(`
chunkbatch:
  batch:
    chunk-size: 4
    item-skip:
      skip-limit: 5
  system:
    logging:
      level: SILENT
  infrastructure:
    job-repository:
      type: sql
      database: metadata
      auto-migrate: true
  database:
    metadata:
      type: sqlite
      database: %s
    university:
      type: sqlite
      database: %s
  app:
    reader: flatfile
    writer: sql
    process: true
    migrations:
      auto-migrate: true
`, filepath.Join(dir, "metadata.db"), university))

	csv := filepath.Join(dir, "roster.csv")
	require.NoError(t, os.WriteFile(csv, []byte(`ID|First Name|Last Name|Email
1| Ada |Lovelace|ADA@Example.edu
2|Alan|Turing|not-an-email
0|Nobody|Nowhere|nobody@example.edu
3|Grace|Hopper|grace@example.edu
`), 0644))

	params := model.NewJobParameters()
	params.Put("inputFile", csv)
	je := runJob(t, o, params)

	require.Equal(t, model.BatchStatusCompleted, je.Status, je.Failures)
	se := je.StepExecutions[0]
	assert.Equal(t, 4, se.ReadCount)
	assert.Equal(t, 1, se.FilterCount, "id 0 is filtered")
	assert.Equal(t, 1, se.ProcessSkipCount, "invalid email is skipped")
	assert.Equal(t, 2, se.WriteCount)

	type row struct {
		ID        int64
		FirstName string
		Email     string
	}
	var rows []row
	require.NoError(t, openDB(t, university).Table("student_out").Order("id").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, row{ID: 1, FirstName: "Ada", Email: "ada@example.edu"}, rows[0])
	assert.Equal(t, int64(3), rows[1].ID)
}

func TestRunJob_JDBCReaderOverMigratedTable(t *testing.T) {
	dir := t.TempDir()
	o, out := options(t, fmt.Sprintf(`
chunkbatch:
  batch:
    chunk-size: 5
  system:
    logging:
      level: SILENT
  database:
    university:
      type: sqlite
      database: %s
  app:
    reader: jdbc
    readers:
      jdbc:
        current-item-count: 2
    migrations:
      auto-migrate: true
`, filepath.Join(dir, "university.db")))

	je := runJob(t, o, model.NewJobParameters())

	require.Equal(t, model.BatchStatusCompleted, je.Status, je.Failures)
	assert.Equal(t, 8, je.StepExecutions[0].ReadCount, "the first 2 seeded rows are skipped")
	assert.NotContains(t, out.String(), "id=2,")
	assert.Contains(t, out.String(), "Student [id=3, firstName=Grace, lastName=Hopper, email=grace.hopper@example.edu]")
}

func TestMigrator_UpVersionDown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "university.db")
	o, _ := options(t, fmt.Sprintf(`
chunkbatch:
  system:
    logging:
      level: SILENT
  database:
    university:
      type: sqlite
      database: %s
`, path))
	cfg, err := app.LoadConfig(o)
	require.NoError(t, err)

	err = app.Run(context.Background(), cfg, o, func(ctx context.Context, s app.Services) error {
		require.NoError(t, s.Migrator.Up(ctx))
		version, dirty, err := s.Migrator.Version(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint(1), version)
		assert.False(t, dirty)

		var n int64
		require.NoError(t, openDB(t, path).Table("student").Count(&n).Error)
		assert.Equal(t, int64(10), n)

		return s.Migrator.Down(ctx)
	})
	require.NoError(t, err)
	assert.False(t, openDB(t, path).Migrator().HasTable("student"))
}

func TestRunJob_UnknownJob(t *testing.T) {
	o, _ := options(t, "chunkbatch:\n  system:\n    logging:\n      level: SILENT\n")
	cfg, err := app.LoadConfig(o)
	require.NoError(t, err)

	err = app.Run(context.Background(), cfg, o, func(ctx context.Context, s app.Services) error {
		assert.Equal(t, []string{job.JobName}, s.Factory.GetJobNames())
		_, err := app.RunJob(ctx, s, "secondJob", model.NewJobParameters())
		return err
	})
	assert.Error(t, err)
}
