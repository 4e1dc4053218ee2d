package cli_test

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkbatch/example/student/internal/app"
	"github.com/tigerroll/chunkbatch/example/student/internal/cli"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
)

func execute(t *testing.T, yaml string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := cli.BuildCLI(app.Options{
		EnvFilePath:    filepath.Join(t.TempDir(), "absent.env"),
		EmbeddedConfig: config.EmbeddedConfig(yaml),
		ConsoleOut:     new(bytes.Buffer),
	})
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

const silent = `
chunkbatch:
  batch:
    chunk-size: 3
  system:
    logging:
      level: SILENT
`

func TestRunCommand(t *testing.T) {
	out, err := execute(t, silent, "run", "--param", "region=eu")
	require.NoError(t, err)
	assert.Contains(t, out, "Job:        firstJob")
	assert.Contains(t, out, "COMPLETED")
	assert.Contains(t, out, "firstChunkStep")
	assert.Contains(t, out, "region")
}

func TestRunCommand_FailedJobIsReported(t *testing.T) {
	out, err := execute(t, silent+`  app:
    reader: flatfile
`, "run", "-p", "inputFile="+filepath.Join(t.TempDir(), "missing.csv"))

	var failed *cli.JobFailedError
	require.ErrorAs(t, err, &failed)
	assert.Contains(t, out, "FAILED")
	assert.Equal(t, "firstJob", failed.Execution.JobName)
}

func TestRunCommand_RejectsMalformedParameter(t *testing.T) {
	_, err := execute(t, silent, "run", "--param", "novalue")
	assert.Error(t, err)
}

func TestStatusCommand(t *testing.T) {
	out, err := execute(t, silent, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "No job has run yet.")

	_, err = execute(t, silent, "status", "7d1c0b44-0000-0000-0000-000000000000")
	assert.Error(t, err)
}

func TestMigrateCommand(t *testing.T) {
	_, err := execute(t, silent, "migrate", "sideways")
	assert.Error(t, err, "only up, down and version are accepted")

	yaml := fmt.Sprintf(silent+`  database:
    university:
      type: sqlite
      database: %s
`, filepath.Join(t.TempDir(), "university.db"))
	_, err = execute(t, yaml, "migrate", "up")
	assert.Error(t, err, "no migrations are embedded")
}
