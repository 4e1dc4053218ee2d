package inmemory

import (
	"context"
	"fmt"
	"sort"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

func (r *InMemoryJobRepository) SaveStepExecution(ctx context.Context, execution *model.StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobExecutions[execution.JobExecutionID]; !ok {
		return exception.NewRepositoryError(module, "job execution "+execution.JobExecutionID+" not found", repository.ErrJobExecutionNotFound)
	}
	if _, ok := r.stepExecutions[execution.ID]; ok {
		return exception.NewRepositoryError(module, "step execution "+execution.ID+" already exists", nil)
	}
	r.seq++
	r.stepExecutions[execution.ID] = &storedStep{seq: r.seq, step: execution.Clone()}
	return nil
}

func (r *InMemoryJobRepository) UpdateStepExecution(ctx context.Context, execution *model.StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.stepExecutions[execution.ID]
	if !ok {
		return exception.NewRepositoryError(module, "step execution "+execution.ID+" not found", repository.ErrStepExecutionNotFound)
	}
	if stored.step.Version != execution.Version {
		return exception.NewOptimisticLockingFailure(module,
			fmt.Sprintf("step execution %s was updated concurrently (version %d, expected %d)", execution.ID, stored.step.Version, execution.Version), nil)
	}
	execution.Version++
	stored.step = execution.Clone()
	return nil
}

func (r *InMemoryJobRepository) FindStepExecutionByID(ctx context.Context, id string) (*model.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.stepExecutions[id]
	if !ok {
		return nil, repository.ErrStepExecutionNotFound
	}
	return stored.step.Clone(), nil
}

func (r *InMemoryJobRepository) FindStepExecutionsByJobExecution(ctx context.Context, jobExecutionID string) ([]*model.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.stepsOf(jobExecutionID), nil
}

// stepsOf returns clones of a job execution's steps by start time, then save order. Callers hold r.mu.
func (r *InMemoryJobRepository) stepsOf(jobExecutionID string) []*model.StepExecution {
	var stored []*storedStep
	for _, s := range r.stepExecutions {
		if s.step.JobExecutionID == jobExecutionID {
			stored = append(stored, s)
		}
	}
	sort.Slice(stored, func(i, j int) bool {
		a, b := stored[i].step.StartTime, stored[j].step.StartTime
		if !a.Equal(b) {
			return a.Before(b)
		}
		return stored[i].seq < stored[j].seq
	})

	out := make([]*model.StepExecution, 0, len(stored))
	for _, s := range stored {
		out = append(out, s.step.Clone())
	}
	return out
}
