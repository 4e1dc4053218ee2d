package usecase

import (
	"context"
	"fmt"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

const explorerModule = "job_explorer"

// SimpleJobExplorer answers read-only queries straight from the JobRepository.
type SimpleJobExplorer struct {
	repo repository.JobRepository
}

var _ JobExplorer = (*SimpleJobExplorer)(nil)

func NewSimpleJobExplorer(jobRepository repository.JobRepository) *SimpleJobExplorer {
	return &SimpleJobExplorer{repo: jobRepository}
}

// explore wraps a repository error into a BatchError describing what was looked up.
func explore[T any](v T, err error, format string, args ...interface{}) (T, error) {
	if err != nil {
		var zero T
		return zero, exception.NewBatchError(explorerModule, "failed to retrieve "+fmt.Sprintf(format, args...), err, false, false)
	}
	return v, nil
}

func (e *SimpleJobExplorer) GetJobExecution(ctx context.Context, executionID string) (*model.JobExecution, error) {
	je, err := e.repo.FindJobExecutionByID(ctx, executionID)
	return explore(je, err, "JobExecution (ID: %s)", executionID)
}

// GetJobExecutions lists the executions of an instance, oldest first. An unknown
// instance is an error rather than an empty list.
func (e *SimpleJobExplorer) GetJobExecutions(ctx context.Context, instanceID string) ([]*model.JobExecution, error) {
	if _, err := e.GetJobInstance(ctx, instanceID); err != nil {
		return nil, err
	}
	executions, err := e.repo.FindJobExecutionsByJobInstance(ctx, instanceID)
	if err == nil {
		logger.Debugf("JobInstance (ID: %s) has %d executions.", instanceID, len(executions))
	}
	return explore(executions, err, "the JobExecutions of JobInstance (ID: %s)", instanceID)
}

func (e *SimpleJobExplorer) GetLastJobExecution(ctx context.Context, instanceID string) (*model.JobExecution, error) {
	je, err := e.repo.FindLatestJobExecution(ctx, instanceID)
	return explore(je, err, "the latest JobExecution of JobInstance (ID: %s)", instanceID)
}

func (e *SimpleJobExplorer) GetJobInstance(ctx context.Context, instanceID string) (*model.JobInstance, error) {
	ji, err := e.repo.FindJobInstanceByID(ctx, instanceID)
	return explore(ji, err, "JobInstance (ID: %s)", instanceID)
}

// GetJobInstances pages through the instances of jobName, newest first.
func (e *SimpleJobExplorer) GetJobInstances(ctx context.Context, jobName string, start, count int) ([]*model.JobInstance, error) {
	instances, err := e.repo.FindJobInstancesByJobName(ctx, jobName, start, count)
	return explore(instances, err, "the JobInstances of '%s'", jobName)
}

// GetJobNames returns every job name that has at least one instance.
func (e *SimpleJobExplorer) GetJobNames(ctx context.Context) ([]string, error) {
	names, err := e.repo.GetJobNames(ctx)
	return explore(names, err, "job names")
}

func (e *SimpleJobExplorer) GetStepExecution(ctx context.Context, stepExecutionID string) (*model.StepExecution, error) {
	se, err := e.repo.FindStepExecutionByID(ctx, stepExecutionID)
	return explore(se, err, "StepExecution (ID: %s)", stepExecutionID)
}
