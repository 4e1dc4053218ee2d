package app

import (
	"context"
	"io"
	"io/fs"

	"go.uber.org/fx"

	"github.com/tigerroll/chunkbatch/example/student/internal/job"
	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage"
	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage/gcs"
	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage/local"
	usecase "github.com/tigerroll/chunkbatch/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/config/support"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/job/runner"
	coremetrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/support/incrementer"
	inframetrics "github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/metrics"
	batchlistener "github.com/tigerroll/chunkbatch/pkg/batch/listener"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// Options carries what main.go embeds and reads from the command line.
type Options struct {
	EnvFilePath    string
	ConfigFilePath string
	EmbeddedConfig config.EmbeddedConfig
	// Migrations holds the student schema under migrations/<dialect>.
	Migrations fs.FS
	// ConsoleOut receives the console writer output; nil prints to stdout.
	ConsoleOut io.Writer
}

// LoadConfig loads, applies and validates the configuration. It runs before the
// container is built because the configuration selects which modules are included.
func LoadConfig(o Options) (*config.Config, error) {
	return config.NewConfigProvider(config.ConfigParams{
		EmbeddedConfig: o.EmbeddedConfig,
		EnvFilePath:    o.EnvFilePath,
		ConfigFilePath: o.ConfigFilePath,
	})
}

// Services are the entry points the commands use.
type Services struct {
	fx.In
	Launcher *usecase.SimpleJobLauncher
	Operator usecase.JobOperator
	Explorer usecase.JobExplorer
	Factory  *support.JobFactory
	Migrator *Migrator
}

// New builds the application container for cfg. extra options are appended, which is
// how commands and tests reach the Services.
func New(cfg *config.Config, o Options, extra ...fx.Option) *fx.App {
	supplied := []fx.Option{
		fx.Supply(cfg),
		fx.Provide(fx.Annotate(
			func() fs.FS { return o.Migrations },
			fx.ResultTags(`name:"applicationMigrations"`),
		)),
	}
	if o.ConsoleOut != nil {
		supplied = append(supplied, fx.Provide(fx.Annotate(
			func() io.Writer { return o.ConsoleOut },
			fx.ResultTags(`name:"consoleOut"`),
		)))
	}

	return fx.New(
		fx.Options(supplied...),
		logger.Module,
		coremetrics.Module,
		inframetrics.Module,
		storage.Module,
		local.Module,
		gcs.Module,
		RepositoryModule(cfg),
		Module,
		support.Module,
		usecase.Module,
		runner.Module,
		batchlistener.Module,
		incrementer.Module,
		job.Module,
		fx.Options(extra...),
	)
}

// Run starts a container for cfg, hands its Services to fn and stops the container
// when fn returns.
func Run(ctx context.Context, cfg *config.Config, o Options, fn func(ctx context.Context, s Services) error) (err error) {
	var services Services
	application := New(cfg, o, fx.Invoke(func(s Services) { services = s }))
	if err := application.Err(); err != nil {
		return err
	}
	if err := application.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if stopErr := application.Stop(context.WithoutCancel(ctx)); stopErr != nil {
			logger.Errorf("Failed to stop application: %v", stopErr)
			if err == nil {
				err = stopErr
			}
		}
	}()
	return fn(ctx, services)
}

// RunJob launches jobName and waits for it. When ctx ends first, for example on SIGINT,
// the execution is stopped through the JobOperator and RunJob waits for the step to
// reach its chunk boundary. The final state is read back from the repository.
func RunJob(ctx context.Context, s Services, jobName string, params model.JobParameters) (*model.JobExecution, error) {
	execution, done, err := s.Launcher.LaunchAsync(context.WithoutCancel(ctx), jobName, params)
	if err != nil {
		return nil, err
	}
	logger.Infof("Job '%s' launched. Execution ID: %s", jobName, execution.ID)
	return wait(ctx, s, execution.ID, done)
}

// RestartJob restarts the execution executionID and waits for the new execution.
func RestartJob(ctx context.Context, s Services, executionID string) (*model.JobExecution, error) {
	next, err := s.Operator.Restart(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return s.Explorer.GetJobExecution(context.WithoutCancel(ctx), next.ID)
}

func wait(ctx context.Context, s Services, executionID string, done <-chan struct{}) (*model.JobExecution, error) {
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warnf("Stopping JobExecution (ID: %s): %v", executionID, ctx.Err())
		if err := s.Operator.Stop(context.WithoutCancel(ctx), executionID); err != nil {
			logger.Warnf("Stop of JobExecution (ID: %s) failed: %v", executionID, err)
		}
		<-done
	}
	return s.Explorer.GetJobExecution(context.WithoutCancel(ctx), executionID)
}
