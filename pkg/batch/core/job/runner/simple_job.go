package runner

import (
	"context"
	"fmt"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// ParametersValidator checks job parameters before a new JobInstance is created.
type ParametersValidator func(params model.JobParameters) error

// JobOption configures a SimpleJob.
type JobOption func(*SimpleJob)

func WithJobListener(l ...port.JobExecutionListener) JobOption {
	return func(j *SimpleJob) { j.jobListeners = append(j.jobListeners, l...) }
}

// WithIncrementer makes every launch of the job start a new JobInstance.
func WithIncrementer(inc port.JobParametersIncrementer) JobOption {
	return func(j *SimpleJob) { j.incrementer = inc }
}

func WithParametersValidator(v ParametersValidator) JobOption {
	return func(j *SimpleJob) { j.validator = v }
}

func WithJobMetricRecorder(r metrics.MetricRecorder) JobOption {
	return func(j *SimpleJob) { j.metricRecorder = r }
}

func WithJobTracer(t metrics.Tracer) JobOption {
	return func(j *SimpleJob) { j.tracer = t }
}

// SimpleJob is an implementation of port.Job that runs its steps in order.
type SimpleJob struct {
	name           string
	steps          []port.Step
	jobRepository  repository.JobRepository
	jobListeners   []port.JobExecutionListener
	incrementer    port.JobParametersIncrementer
	validator      ParametersValidator
	metricRecorder metrics.MetricRecorder
	tracer         metrics.Tracer
}

// Verify that SimpleJob implements the port.Job interface.
var _ port.Job = (*SimpleJob)(nil)

// NewSimpleJob creates a SimpleJob. Step names must be unique within the job, because a
// restart matches step executions to steps by name.
func NewSimpleJob(name string, steps []port.Step, jobRepository repository.JobRepository, opts ...JobOption) (*SimpleJob, error) {
	if name == "" {
		return nil, exception.NewConfigurationError("SimpleJob", "job name cannot be empty", nil)
	}
	if len(steps) == 0 {
		return nil, exception.NewConfigurationError("SimpleJob", fmt.Sprintf("job '%s' has no steps", name), nil)
	}
	if jobRepository == nil {
		return nil, exception.NewConfigurationError("SimpleJob", fmt.Sprintf("job '%s' needs a job repository", name), nil)
	}
	seen := make(map[string]struct{}, len(steps))
	for _, s := range steps {
		if _, dup := seen[s.StepName()]; dup {
			return nil, exception.NewConfigurationError("SimpleJob", fmt.Sprintf("job '%s': duplicate step name '%s'", name, s.StepName()), nil)
		}
		seen[s.StepName()] = struct{}{}
	}

	j := &SimpleJob{
		name:           name,
		steps:          steps,
		jobRepository:  jobRepository,
		metricRecorder: metrics.NewNoOpMetricRecorder(),
		tracer:         metrics.NewNoOpTracer(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// JobName returns the job name.
func (j *SimpleJob) JobName() string {
	return j.name
}

// Steps returns the steps in execution order.
func (j *SimpleJob) Steps() []port.Step {
	return j.steps
}

func (j *SimpleJob) Incrementer() port.JobParametersIncrementer {
	return j.incrementer
}

// ValidateParameters runs the configured validator, if any.
func (j *SimpleJob) ValidateParameters(params model.JobParameters) error {
	logger.Debugf("Job '%s': validating JobParameters %s", j.name, params.String())
	if j.validator == nil {
		return nil
	}
	if err := j.validator(params); err != nil {
		return exception.NewConfigurationError(j.name, "invalid job parameters", err)
	}
	return nil
}

// Run executes the steps in order. A step already COMPLETED by an earlier attempt of the
// same instance is not run again. The first FAILED step fails the job and the remaining
// steps are not run; a STOPPED step stops the job. Once every step has run, the job
// status is folded from its step executions, so a step that returns without a terminal
// status fails the job. The outcome is recorded on jobExecution; persisting it is left
// to the JobRunner.
func (j *SimpleJob) Run(ctx context.Context, jobExecution *model.JobExecution) error {
	logger.Infof("Starting Job '%s' (Execution ID: %s).", j.name, jobExecution.ID)

	ctx, finishSpan := j.tracer.StartJobSpan(ctx, jobExecution)
	defer finishSpan()
	ctx = port.WithJobExecution(ctx, jobExecution)

	j.metricRecorder.RecordJobStart(ctx, jobExecution)
	for _, l := range j.jobListeners {
		l.BeforeJob(ctx, jobExecution)
	}
	defer func() {
		afterCtx := context.WithoutCancel(ctx)
		for _, l := range j.jobListeners {
			l.AfterJob(afterCtx, jobExecution)
		}
		j.metricRecorder.RecordJobEnd(afterCtx, jobExecution)
		logger.Infof("Job '%s' (Execution ID: %s) finished. Status: %s, Exit Status: %s",
			j.name, jobExecution.ID, jobExecution.Status, jobExecution.ExitStatus)
	}()

	for _, step := range j.steps {
		stepName := step.StepName()

		if stopRequested(ctx, j.jobRepository, jobExecution) {
			logger.Warnf("Job '%s': stop requested before step '%s'.", j.name, stepName)
			jobExecution.MarkAsStopped()
			return nil
		}

		stepExecution := jobExecution.StepExecution(stepName)
		if stepExecution != nil && stepExecution.Status == model.BatchStatusCompleted {
			logger.Infof("Job '%s': step '%s' already completed (StepExecution ID: %s). Skipping.", j.name, stepName, stepExecution.ID)
			continue
		}
		if stepExecution == nil {
			stepExecution = model.NewStepExecution(stepName, jobExecution)
			jobExecution.AddStepExecution(stepExecution)
			if err := j.jobRepository.SaveStepExecution(ctx, stepExecution); err != nil {
				err = exception.NewBatchError(j.name, fmt.Sprintf("failed to save StepExecution for step '%s'", stepName), err, false, false)
				j.tracer.RecordError(ctx, "job_runner", err)
				jobExecution.MarkAsFailed(err)
				return err
			}
			logger.Debugf("Job '%s': created StepExecution (ID: %s) for step '%s'.", j.name, stepExecution.ID, stepName)
		} else {
			logger.Infof("Job '%s': resuming step '%s' (StepExecution ID: %s, commit position %d).",
				j.name, stepName, stepExecution.ID, stepExecution.CommitPosition)
		}
		jobExecution.CurrentStepName = stepName

		err := step.Execute(ctx, jobExecution, stepExecution)

		switch {
		case stepExecution.Status == model.BatchStatusFailed || err != nil:
			if err == nil {
				err = exception.NewBatchErrorf(j.name, "step '%s' failed", stepName)
			}
			logger.Errorf("Job '%s': step '%s' failed: %v", j.name, stepName, err)
			j.tracer.RecordError(ctx, "job_runner", err)
			jobExecution.MarkAsFailed(err)
			return err
		case stepExecution.Status == model.BatchStatusStopped:
			logger.Warnf("Job '%s': step '%s' stopped.", j.name, stepName)
			jobExecution.MarkAsStopped()
			return nil
		default:
			logger.Infof("Job '%s': step '%s' completed. ExitStatus: %s", j.name, stepName, stepExecution.ExitStatus)
		}
	}

	switch status := jobExecution.FoldStatus(); status {
	case model.BatchStatusCompleted:
		jobExecution.MarkAsCompleted()
	case model.BatchStatusStopped:
		jobExecution.MarkAsStopped()
	default:
		err := exception.NewBatchErrorf(j.name, "steps of job '%s' ended in status %s", j.name, status)
		j.tracer.RecordError(ctx, "job_runner", err)
		jobExecution.MarkAsFailed(err)
		return err
	}
	return nil
}

// stopRequested reports whether ctx is done or the job execution was marked STOPPING,
// either in memory or in the repository by an operator. A persisted stop is adopted
// together with its version.
func stopRequested(ctx context.Context, repo repository.JobRepository, jobExecution *model.JobExecution) bool {
	if ctx.Err() != nil {
		return true
	}
	if jobExecution.Status == model.BatchStatusStopping {
		return true
	}
	persisted, err := repo.FindJobExecutionByID(ctx, jobExecution.ID)
	if err != nil || persisted.Status != model.BatchStatusStopping {
		return false
	}
	jobExecution.MarkAsStopping()
	jobExecution.Version = persisted.Version
	return true
}
