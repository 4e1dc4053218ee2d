// Package usecase implements the entry points applications use to run and inspect
// jobs: JobLauncher, JobOperator and JobExplorer.
package usecase

import (
	"context"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// JobLauncher is an interface for launching a Job with JobParameters.
type JobLauncher interface {
	// Launch runs the job synchronously and returns its finished JobExecution.
	// The error reports a failure of the launch itself, such as an unknown job, invalid
	// parameters or an instance that is already complete. The outcome of the job is
	// recorded on the returned execution.
	Launch(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error)

	// LaunchAsync persists the execution and runs the job in the background. It returns a
	// snapshot of the execution and a channel closed when the run has ended.
	LaunchAsync(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, <-chan struct{}, error)
}

// JobOperator is an interface for performing operations on job executions.
type JobOperator interface {
	// Restart runs the job again from the FAILED or STOPPED execution executionID, with
	// the same parameters. Completed steps are not repeated.
	Restart(ctx context.Context, executionID string) (*model.JobExecution, error)

	// Stop marks a running execution STOPPING. The running step observes the request at
	// its next chunk boundary; the chunk in progress is committed first.
	Stop(ctx context.Context, executionID string) error

	// Abandon marks a FAILED or STOPPED execution ABANDONED, so its instance cannot be restarted.
	Abandon(ctx context.Context, executionID string) error
}

// JobExplorer is an interface for querying batch metadata. Every result is a copy of
// the last committed state.
type JobExplorer interface {
	// GetJobExecution retrieves a JobExecution with its step executions.
	GetJobExecution(ctx context.Context, executionID string) (*model.JobExecution, error)

	// GetJobExecutions retrieves the executions of a JobInstance, newest first.
	GetJobExecutions(ctx context.Context, instanceID string) ([]*model.JobExecution, error)

	// GetLastJobExecution retrieves the latest JobExecution of a JobInstance.
	GetLastJobExecution(ctx context.Context, instanceID string) (*model.JobExecution, error)

	// GetJobInstance retrieves a JobInstance by its ID.
	GetJobInstance(ctx context.Context, instanceID string) (*model.JobInstance, error)

	// GetJobInstances pages through the instances of a job, newest first.
	GetJobInstances(ctx context.Context, jobName string, start, count int) ([]*model.JobInstance, error)

	// GetJobNames retrieves the names of all jobs that have run.
	GetJobNames(ctx context.Context) ([]string, error)

	// GetStepExecution retrieves a StepExecution by its ID.
	GetStepExecution(ctx context.Context, stepExecutionID string) (*model.StepExecution, error)
}
