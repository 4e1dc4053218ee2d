// Package repository defines the persistence contract for batch execution metadata.
//
// A JobRepository is the only writer of persisted job state. Implementations hand out
// copies, never their internal objects, and serialize writes per JobInstance with
// optimistic versioning: every Update* call must present the Version it last read,
// and succeeds by incrementing it on both the stored row and the caller's object.
package repository

import (
	"context"
	"errors"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

var (
	ErrJobInstanceNotFound   = errors.New("job instance not found")
	ErrJobExecutionNotFound  = errors.New("job execution not found")
	ErrStepExecutionNotFound = errors.New("step execution not found")
)

func init() {
	exception.RegisterErrorType("ErrJobInstanceNotFound", ErrJobInstanceNotFound)
	exception.RegisterErrorType("ErrJobExecutionNotFound", ErrJobExecutionNotFound)
	exception.RegisterErrorType("ErrStepExecutionNotFound", ErrStepExecutionNotFound)
}

// JobRepository persists job instances, job executions and step executions.
type JobRepository interface {
	JobInstance
	JobExecution
	StepExecution

	// Close releases connections held by the repository.
	Close() error
}

type JobInstance interface {
	SaveJobInstance(ctx context.Context, instance *model.JobInstance) error
	FindJobInstanceByID(ctx context.Context, id string) (*model.JobInstance, error)
	// FindJobInstanceByJobNameAndParameters looks an instance up by its identity (name + parameter hash).
	FindJobInstanceByJobNameAndParameters(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error)
	// FindJobInstancesByJobName pages through instances of a job, newest first.
	FindJobInstancesByJobName(ctx context.Context, jobName string, start, count int) ([]*model.JobInstance, error)
	GetJobNames(ctx context.Context) ([]string, error)
}

type JobExecution interface {
	SaveJobExecution(ctx context.Context, execution *model.JobExecution) error
	UpdateJobExecution(ctx context.Context, execution *model.JobExecution) error
	// FindJobExecutionByID loads the execution together with its step executions.
	FindJobExecutionByID(ctx context.Context, id string) (*model.JobExecution, error)
	// FindLatestJobExecution loads the most recent execution of an instance with its step executions.
	FindLatestJobExecution(ctx context.Context, jobInstanceID string) (*model.JobExecution, error)
	// FindJobExecutionsByJobInstance returns all executions of an instance, newest first, without step executions.
	FindJobExecutionsByJobInstance(ctx context.Context, jobInstanceID string) ([]*model.JobExecution, error)
	// FindRunningJobExecutions returns executions of jobName that have not finished.
	FindRunningJobExecutions(ctx context.Context, jobName string) ([]*model.JobExecution, error)
}

type StepExecution interface {
	SaveStepExecution(ctx context.Context, execution *model.StepExecution) error
	UpdateStepExecution(ctx context.Context, execution *model.StepExecution) error
	FindStepExecutionByID(ctx context.Context, id string) (*model.StepExecution, error)
	// FindStepExecutionsByJobExecution returns the step executions of a job execution in start order.
	FindStepExecutionsByJobExecution(ctx context.Context, jobExecutionID string) ([]*model.StepExecution, error)
}
