package inmemory

import (
	"context"
	"fmt"
	"sort"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

func (r *InMemoryJobRepository) SaveJobExecution(ctx context.Context, execution *model.JobExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobInstances[execution.JobInstanceID]; !ok {
		return exception.NewRepositoryError(module, "job instance "+execution.JobInstanceID+" not found", repository.ErrJobInstanceNotFound)
	}
	if _, ok := r.jobExecutions[execution.ID]; ok {
		return exception.NewRepositoryError(module, "job execution "+execution.ID+" already exists", nil)
	}
	r.jobExecutions[execution.ID] = stripSteps(execution)
	return nil
}

func (r *InMemoryJobRepository) UpdateJobExecution(ctx context.Context, execution *model.JobExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.jobExecutions[execution.ID]
	if !ok {
		return exception.NewRepositoryError(module, "job execution "+execution.ID+" not found", repository.ErrJobExecutionNotFound)
	}
	if stored.Version != execution.Version {
		return exception.NewOptimisticLockingFailure(module,
			fmt.Sprintf("job execution %s was updated concurrently (version %d, expected %d)", execution.ID, stored.Version, execution.Version), nil)
	}
	execution.Version++
	r.jobExecutions[execution.ID] = stripSteps(execution)
	return nil
}

func (r *InMemoryJobRepository) FindJobExecutionByID(ctx context.Context, id string) (*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.jobExecutions[id]
	if !ok {
		return nil, repository.ErrJobExecutionNotFound
	}
	return r.withSteps(stored), nil
}

func (r *InMemoryJobRepository) FindLatestJobExecution(ctx context.Context, jobInstanceID string) (*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executions := r.executionsOf(jobInstanceID)
	if len(executions) == 0 {
		return nil, repository.ErrJobExecutionNotFound
	}
	return r.withSteps(executions[0]), nil
}

func (r *InMemoryJobRepository) FindJobExecutionsByJobInstance(ctx context.Context, jobInstanceID string) ([]*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executions := r.executionsOf(jobInstanceID)
	out := make([]*model.JobExecution, 0, len(executions))
	for _, je := range executions {
		out = append(out, je.Clone())
	}
	return out, nil
}

func (r *InMemoryJobRepository) FindRunningJobExecutions(ctx context.Context, jobName string) ([]*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.JobExecution, 0)
	for _, je := range r.jobExecutions {
		if je.JobName == jobName && je.Status.IsRunning() {
			out = append(out, je.Clone())
		}
	}
	return out, nil
}

// executionsOf returns the stored executions of an instance, newest first. Callers hold r.mu.
func (r *InMemoryJobRepository) executionsOf(jobInstanceID string) []*model.JobExecution {
	var executions []*model.JobExecution
	for _, je := range r.jobExecutions {
		if je.JobInstanceID == jobInstanceID {
			executions = append(executions, je)
		}
	}
	sort.Slice(executions, func(i, j int) bool {
		return executions[i].CreateTime.After(executions[j].CreateTime)
	})
	return executions
}

func (r *InMemoryJobRepository) withSteps(stored *model.JobExecution) *model.JobExecution {
	je := stored.Clone()
	je.StepExecutions = r.stepsOf(je.ID)
	return je
}

func stripSteps(execution *model.JobExecution) *model.JobExecution {
	c := execution.Clone()
	c.StepExecutions = nil
	return c
}
