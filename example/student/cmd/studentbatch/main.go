package main

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/tigerroll/chunkbatch/example/student/internal/app"
	"github.com/tigerroll/chunkbatch/example/student/internal/cli"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// embeddedConfig is the default configuration; -c merges an external file over it.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

// migrationsFS holds the student schema per dialect.
//
//go:embed all:resources/migrations
var migrationsFS embed.FS

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	migrations, err := fs.Sub(migrationsFS, "resources")
	if err != nil {
		logger.Fatalf("Failed to read embedded migrations: %v", err)
	}

	envFilePath := os.Getenv("ENV_FILE_PATH")
	if envFilePath == "" {
		envFilePath = ".env"
	}

	root := cli.BuildCLI(app.Options{
		EnvFilePath:    envFilePath,
		EmbeddedConfig: config.EmbeddedConfig(embeddedConfig),
		Migrations:     migrations,
	})
	if err := root.ExecuteContext(ctx); err != nil {
		var failed *cli.JobFailedError
		if errors.As(err, &failed) {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
		logger.Errorf("studentbatch: %v", err)
		os.Exit(2)
	}
}
