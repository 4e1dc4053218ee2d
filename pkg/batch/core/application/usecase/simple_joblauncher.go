package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	support "github.com/tigerroll/chunkbatch/pkg/batch/core/config/support"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

const launcherModule = "job_launcher"

// SimpleJobLauncher implements JobLauncher for local execution.
type SimpleJobLauncher struct {
	jobRepository repository.JobRepository
	jobFactory    *support.JobFactory
	jobRunner     port.JobRunner

	// launchMu serializes the identity lookup so two launches of the same parameters
	// cannot both create an execution.
	launchMu sync.Mutex

	mu sync.Mutex
	// activeJobCancellations holds the cancel functions for running jobs.
	activeJobCancellations map[string]context.CancelFunc
}

var _ JobLauncher = (*SimpleJobLauncher)(nil)

// NewSimpleJobLauncher creates a new SimpleJobLauncher.
func NewSimpleJobLauncher(repo repository.JobRepository, factory *support.JobFactory, runner port.JobRunner) *SimpleJobLauncher {
	return &SimpleJobLauncher{
		jobRepository:          repo,
		jobFactory:             factory,
		jobRunner:              runner,
		activeJobCancellations: make(map[string]context.CancelFunc),
	}
}

// RegisterCancelFunc registers the cancel function for a running job execution.
func (l *SimpleJobLauncher) RegisterCancelFunc(executionID string, cancelFunc context.CancelFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.activeJobCancellations[executionID] = cancelFunc
	logger.Debugf("Registered CancelFunc for JobExecution (ID: %s).", executionID)
}

// UnregisterCancelFunc unregisters the cancel function for a running job execution.
func (l *SimpleJobLauncher) UnregisterCancelFunc(executionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.activeJobCancellations[executionID]; ok {
		delete(l.activeJobCancellations, executionID)
		logger.Debugf("Unregistered CancelFunc for JobExecution (ID: %s).", executionID)
	}
}

// GetCancelFunc retrieves the cancel function for the specified JobExecution ID.
func (l *SimpleJobLauncher) GetCancelFunc(executionID string) (context.CancelFunc, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cancelFunc, ok := l.activeJobCancellations[executionID]
	return cancelFunc, ok
}

// Launch runs jobName synchronously.
func (l *SimpleJobLauncher) Launch(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error) {
	return l.launch(ctx, jobName, params, true)
}

// LaunchAsync runs jobName in the background.
func (l *SimpleJobLauncher) LaunchAsync(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, <-chan struct{}, error) {
	job, jobExecution, err := l.prepare(ctx, jobName, params, true)
	if err != nil {
		return nil, nil, err
	}
	jobCtx := l.register(ctx, jobExecution.ID)
	snapshot := jobExecution.Clone()

	done := make(chan struct{})
	go func() {
		defer close(done)
		l.execute(jobCtx, job, jobExecution)
	}()
	return snapshot, done, nil
}

func (l *SimpleJobLauncher) launch(ctx context.Context, jobName string, params model.JobParameters, increment bool) (*model.JobExecution, error) {
	job, jobExecution, err := l.prepare(ctx, jobName, params, increment)
	if err != nil {
		return nil, err
	}
	l.execute(l.register(ctx, jobExecution.ID), job, jobExecution)
	return jobExecution, nil
}

func (l *SimpleJobLauncher) register(ctx context.Context, executionID string) context.Context {
	jobCtx, cancel := context.WithCancel(ctx)
	l.RegisterCancelFunc(executionID, cancel)
	return jobCtx
}

func (l *SimpleJobLauncher) execute(ctx context.Context, job port.Job, jobExecution *model.JobExecution) {
	defer func() {
		if cancel, ok := l.GetCancelFunc(jobExecution.ID); ok {
			cancel()
		}
		l.UnregisterCancelFunc(jobExecution.ID)
	}()
	l.jobRunner.Run(ctx, job, jobExecution)
	logger.Infof("Job '%s' (Execution ID: %s) finished with status %s.", jobExecution.JobName, jobExecution.ID, jobExecution.Status)
}

// prepare resolves the job, applies the incrementer, looks the instance up by identity
// and persists the execution to run.
func (l *SimpleJobLauncher) prepare(ctx context.Context, jobName string, params model.JobParameters, increment bool) (port.Job, *model.JobExecution, error) {
	job, err := l.jobFactory.CreateJob(jobName)
	if err != nil {
		return nil, nil, exception.NewBatchError(launcherModule, fmt.Sprintf("failed to create job '%s'", jobName), err, false, false)
	}

	l.launchMu.Lock()
	defer l.launchMu.Unlock()

	if inc := job.Incrementer(); increment && inc != nil {
		params, err = l.nextParameters(ctx, jobName, inc, params)
		if err != nil {
			return nil, nil, err
		}
	}
	logger.Infof("Launching Job '%s'. Parameters: %s", jobName, params.String())

	jobExecution, err := l.resolveExecution(ctx, job, params)
	if err != nil {
		return nil, nil, err
	}

	if err := l.jobRepository.SaveJobExecution(ctx, jobExecution); err != nil {
		return nil, nil, exception.NewBatchError(launcherModule, "failed to save JobExecution", err, false, false)
	}
	for _, se := range jobExecution.StepExecutions {
		if err := l.jobRepository.SaveStepExecution(ctx, se); err != nil {
			return nil, nil, exception.NewBatchError(launcherModule, fmt.Sprintf("failed to save StepExecution '%s' of restart", se.StepName), err, false, false)
		}
	}
	logger.Debugf("Saved JobExecution (ID: %s, Status: %s).", jobExecution.ID, jobExecution.Status)
	return job, jobExecution, nil
}

// nextParameters derives the parameters of a new instance from the latest instance of
// the job. Explicit launch parameters take precedence over the derived ones.
func (l *SimpleJobLauncher) nextParameters(ctx context.Context, jobName string, inc port.JobParametersIncrementer, params model.JobParameters) (model.JobParameters, error) {
	base := model.NewJobParameters()
	latest, err := l.jobRepository.FindJobInstancesByJobName(ctx, jobName, 0, 1)
	if err != nil {
		return params, exception.NewBatchError(launcherModule, "failed to look up the latest JobInstance", err, false, false)
	}
	if len(latest) > 0 {
		base = latest[0].Parameters.Copy()
	}
	next := inc.GetNext(base)
	for k, v := range params.Params {
		next.Put(k, v)
	}
	return next, nil
}

// resolveExecution implements the identity rules: a new instance gets a fresh
// execution, a FAILED or STOPPED one is restarted, anything else is refused.
func (l *SimpleJobLauncher) resolveExecution(ctx context.Context, job port.Job, params model.JobParameters) (*model.JobExecution, error) {
	jobName := job.JobName()

	instance, err := l.jobRepository.FindJobInstanceByJobNameAndParameters(ctx, jobName, params)
	if errors.Is(err, repository.ErrJobInstanceNotFound) {
		if err := job.ValidateParameters(params); err != nil {
			return nil, err
		}
		instance, err = model.NewJobInstance(jobName, params)
		if err != nil {
			return nil, exception.NewBatchError(launcherModule, "failed to create JobInstance", err, false, false)
		}
		if err := l.jobRepository.SaveJobInstance(ctx, instance); err != nil {
			return nil, exception.NewBatchError(launcherModule, fmt.Sprintf("failed to save JobInstance for '%s'", jobName), err, false, false)
		}
		logger.Infof("Created JobInstance (ID: %s, JobName: %s).", instance.ID, jobName)
		return model.NewJobExecution(instance, params), nil
	}
	if err != nil {
		return nil, exception.NewBatchError(launcherModule, "failed to search for an existing JobInstance", err, false, false)
	}

	latest, err := l.jobRepository.FindLatestJobExecution(ctx, instance.ID)
	if errors.Is(err, repository.ErrJobExecutionNotFound) {
		return model.NewJobExecution(instance, params), nil
	}
	if err != nil {
		return nil, exception.NewBatchError(launcherModule, "failed to load the latest JobExecution", err, false, false)
	}

	switch {
	case latest.Status.IsRunning():
		return nil, exception.NewBatchError(launcherModule,
			fmt.Sprintf("JobExecution (ID: %s, Status: %s) of JobInstance (ID: %s) is still running", latest.ID, latest.Status, instance.ID),
			exception.ErrJobExecutionAlreadyRunning, false, false)
	case latest.Status == model.BatchStatusCompleted:
		return nil, exception.NewBatchError(launcherModule,
			fmt.Sprintf("JobInstance (ID: %s) of '%s' is already complete", instance.ID, jobName),
			exception.ErrJobInstanceAlreadyComplete, false, false)
	case !latest.Status.IsRestartable():
		return nil, exception.NewBatchError(launcherModule,
			fmt.Sprintf("JobExecution (ID: %s) ended %s and cannot be restarted", latest.ID, latest.Status),
			exception.ErrJobRestart, false, false)
	}

	restart := model.NewRestartExecution(latest)
	logger.Infof("Restarting JobInstance (ID: %s) from JobExecution (ID: %s). Restart count: %d", instance.ID, latest.ID, restart.RestartCount)
	return restart, nil
}
