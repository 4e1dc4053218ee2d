// Package job builds the student job and registers it with the JobFactory.
package job

import (
	"io"

	"go.uber.org/fx"

	appconfig "github.com/tigerroll/chunkbatch/example/student/internal/config"
	"github.com/tigerroll/chunkbatch/example/student/internal/domain/model"
	"github.com/tigerroll/chunkbatch/example/student/internal/service"
	"github.com/tigerroll/chunkbatch/example/student/internal/step/processor"
	"github.com/tigerroll/chunkbatch/example/student/internal/step/reader"
	"github.com/tigerroll/chunkbatch/example/student/internal/step/writer"
	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/config/support"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/job/runner"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/support/incrementer"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/item"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

const (
	JobName  = "firstJob"
	StepName = "firstChunkStep"
)

// BuilderParams are the dependencies of the firstJob builder.
type BuilderParams struct {
	fx.In
	Config   *appconfig.StudentJobConfig
	Resolver *storage.ConnectionResolver
	Service  *service.StudentService
	// ConsoleOut receives the console writer output; stdout when absent.
	ConsoleOut io.Writer `name:"consoleOut" optional:"true"`
}

// NewFirstJobBuilder returns the builder of firstJob: one chunk step from the configured
// reader, through the optional StudentProcessor, to the configured writer, with a
// run.id incrementer so every launch starts a new instance.
func NewFirstJobBuilder(p BuilderParams) support.JobBuilder {
	return func(f *support.JobFactory) (port.Job, error) {
		cfg := p.Config
		r, err := reader.New(cfg, f.GetConfig(), p.Resolver, p.Service)
		if err != nil {
			return nil, err
		}
		w, err := writer.New(cfg, p.Resolver, p.ConsoleOut)
		if err != nil {
			return nil, err
		}
		var proc port.ItemProcessor[model.Student, model.Student] = port.PassThroughProcessor[model.Student]{}
		if cfg.Process {
			proc = processor.NewStudentProcessor()
		}

		step, err := item.NewChunkStep(StepName, r, proc, w, cfg.ChunkSize, f.JobRepository(), f.ChunkStepOptions()...)
		if err != nil {
			return nil, err
		}
		inc, err := f.CreateIncrementer(incrementer.RunIDIncrementerRef, map[string]interface{}{"name": incrementer.DefaultRunIDKey})
		if err != nil {
			return nil, err
		}
		logger.Debugf("Built job '%s' (reader: %s, writer: %s, chunk size: %d, processor: %t).",
			JobName, cfg.Reader, cfg.Writer, cfg.ChunkSize, cfg.Process)
		return runner.NewSimpleJob(JobName, []port.Step{step}, f.JobRepository(), f.JobOptions(runner.WithIncrementer(inc))...)
	}
}

// RegisterFirstJobBuilder registers builder under JobName.
func RegisterFirstJobBuilder(jf *support.JobFactory, builder support.JobBuilder) {
	jf.RegisterJobBuilder(JobName, builder)
}

var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewFirstJobBuilder,
		fx.ResultTags(`name:"firstJobBuilder"`),
	)),
	fx.Invoke(fx.Annotate(
		RegisterFirstJobBuilder,
		fx.ParamTags(``, `name:"firstJobBuilder"`),
	)),
)
