// Package support provides supporting structures and factories for the batch framework,
// including the central JobFactory for constructing batch components and jobs.
package support

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/fx"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	runner "github.com/tigerroll/chunkbatch/pkg/batch/core/job/runner"
	metrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	item "github.com/tigerroll/chunkbatch/pkg/batch/engine/step/item"
	retry "github.com/tigerroll/chunkbatch/pkg/batch/engine/step/retry"
	skip "github.com/tigerroll/chunkbatch/pkg/batch/engine/step/skip"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

const moduleName = "job_factory"

// JobBuilder constructs one job. It receives the factory so it can reach the shared
// repository, configuration and step options.
type JobBuilder func(f *JobFactory) (port.Job, error)

// JobParametersIncrementerBuilder constructs an incrementer from its properties.
type JobParametersIncrementerBuilder func(cfg *config.Config, properties map[string]interface{}) (port.JobParametersIncrementer, error)

// JobFactory is the registry of job builders. Applications register a builder per job
// name; launchers and the CLI create jobs by name through CreateJob.
type JobFactory struct {
	mu sync.RWMutex

	config         *config.Config
	jobRepository  repository.JobRepository
	txManager      tx.TransactionManager
	metricRecorder metrics.MetricRecorder
	tracer         metrics.Tracer

	jobListeners   []port.JobExecutionListener
	stepListeners  []port.StepExecutionListener
	chunkListeners []port.ChunkListener
	skipListeners  []port.SkipListener
	retryListeners []port.RetryListener

	jobBuilders                      map[string]JobBuilder
	jobParametersIncrementerBuilders map[string]JobParametersIncrementerBuilder
}

// JobFactoryParams defines the parameters that the NewJobFactory function
// receives via dependency injection (Fx).
type JobFactoryParams struct {
	fx.In
	Repo           repository.JobRepository
	Cfg            *config.Config
	MetricRecorder metrics.MetricRecorder
	Tracer         metrics.Tracer
	// TxManager opens chunk transactions on the business database. Without it chunks
	// commit through tx.NoOpTransactionManager.
	TxManager      tx.TransactionManager        `optional:"true"`
	JobListeners   []port.JobExecutionListener  `group:"jobListeners"`
	StepListeners  []port.StepExecutionListener `group:"stepListeners"`
	ChunkListeners []port.ChunkListener         `group:"chunkListeners"`
	SkipListeners  []port.SkipListener          `group:"skipListeners"`
	RetryListeners []port.RetryListener         `group:"retryListeners"`
}

// NewJobFactory creates a new instance of JobFactory.
func NewJobFactory(p JobFactoryParams) *JobFactory {
	recorder := p.MetricRecorder
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	tracer := p.Tracer
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	return &JobFactory{
		config:                           p.Cfg,
		jobRepository:                    p.Repo,
		txManager:                        p.TxManager,
		metricRecorder:                   recorder,
		tracer:                           tracer,
		jobListeners:                     nonNil(p.JobListeners),
		stepListeners:                    nonNil(p.StepListeners),
		chunkListeners:                   nonNil(p.ChunkListeners),
		skipListeners:                    nonNil(p.SkipListeners),
		retryListeners:                   nonNil(p.RetryListeners),
		jobBuilders:                      make(map[string]JobBuilder),
		jobParametersIncrementerBuilders: make(map[string]JobParametersIncrementerBuilder),
	}
}

// nonNil drops nil entries that optional fx providers may contribute to a group.
func nonNil[T comparable](in []T) []T {
	var zero T
	out := make([]T, 0, len(in))
	for _, v := range in {
		if v != zero {
			out = append(out, v)
		}
	}
	return out
}

// GetConfig returns the Config held by the JobFactory.
func (f *JobFactory) GetConfig() *config.Config {
	return f.config
}

// JobRepository returns the repository steps and jobs persist through.
func (f *JobFactory) JobRepository() repository.JobRepository {
	return f.jobRepository
}

// TransactionManager returns the chunk transaction manager, or nil when none is configured.
func (f *JobFactory) TransactionManager() tx.TransactionManager {
	return f.txManager
}

// RegisterJobBuilder registers a job builder function with the given name.
func (f *JobFactory) RegisterJobBuilder(name string, builder JobBuilder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobBuilders[name] = builder
	logger.Debugf("JobFactory: builder for job '%s' registered.", name)
}

// RegisterJobParametersIncrementerBuilder registers an incrementer builder under ref.
func (f *JobFactory) RegisterJobParametersIncrementerBuilder(ref string, builder JobParametersIncrementerBuilder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobParametersIncrementerBuilders[ref] = builder
}

// GetJobNames returns the registered job names in sorted order.
func (f *JobFactory) GetJobNames() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.jobBuilders))
	for name := range f.jobBuilders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateJob builds the job registered under jobName.
//
// Parameters:
//
//	jobName: The name of the job to create.
//
// Returns:
//
//	The constructed port.Job and an error if no builder is registered or building fails.
func (f *JobFactory) CreateJob(jobName string) (port.Job, error) {
	f.mu.RLock()
	builder, found := f.jobBuilders[jobName]
	f.mu.RUnlock()
	if !found {
		return nil, exception.NewConfigurationError(moduleName, fmt.Sprintf("builder for job '%s' not registered", jobName), nil)
	}

	job, err := builder(f)
	if err != nil {
		return nil, exception.NewConfigurationError(moduleName, fmt.Sprintf("failed to instantiate job '%s'", jobName), err)
	}
	if job.JobName() != jobName {
		return nil, exception.NewConfigurationError(moduleName, fmt.Sprintf("builder registered as '%s' produced job '%s'", jobName, job.JobName()), nil)
	}
	return job, nil
}

// CreateIncrementer builds the incrementer registered under ref.
func (f *JobFactory) CreateIncrementer(ref string, properties map[string]interface{}) (port.JobParametersIncrementer, error) {
	f.mu.RLock()
	builder, found := f.jobParametersIncrementerBuilders[ref]
	f.mu.RUnlock()
	if !found {
		return nil, exception.NewConfigurationError(moduleName, fmt.Sprintf("incrementer '%s' not registered", ref), nil)
	}
	inc, err := builder(f.config, properties)
	if err != nil {
		return nil, exception.NewConfigurationError(moduleName, fmt.Sprintf("failed to build incrementer '%s'", ref), err)
	}
	return inc, nil
}

// ChunkStepOptions returns the options every chunk step shares: the retry and skip
// policies of batch.item-retry and batch.item-skip, the transaction manager, the
// registered listeners and the metric recorder and tracer. extra options are applied
// last and override the shared ones.
func (f *JobFactory) ChunkStepOptions(extra ...item.Option) []item.Option {
	b := f.config.Chunkbatch.Batch
	opts := []item.Option{
		item.WithRetryPolicy(retry.NewRetryPolicy(b.ItemRetry)),
		item.WithSkipPolicy(skip.NewSkipPolicy(b.ItemSkip)),
		item.WithIsolationLevel(b.IsolationLevel),
		item.WithMetricRecorder(f.metricRecorder),
		item.WithTracer(f.tracer),
		item.WithStepListener(f.stepListeners...),
		item.WithChunkListener(f.chunkListeners...),
		item.WithSkipListener(f.skipListeners...),
		item.WithRetryListener(f.retryListeners...),
	}
	if f.txManager != nil {
		opts = append(opts, item.WithTransactionManager(f.txManager))
	}
	return append(opts, extra...)
}

// JobOptions returns the options every job shares: the registered job listeners and
// the metric recorder and tracer, followed by extra.
func (f *JobFactory) JobOptions(extra ...runner.JobOption) []runner.JobOption {
	opts := []runner.JobOption{
		runner.WithJobMetricRecorder(f.metricRecorder),
		runner.WithJobTracer(f.tracer),
		runner.WithJobListener(f.jobListeners...),
	}
	return append(opts, extra...)
}
