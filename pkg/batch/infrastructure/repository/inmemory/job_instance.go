package inmemory

import (
	"context"
	"sort"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

const module = "inmemory_repository"

func (r *InMemoryJobRepository) SaveJobInstance(ctx context.Context, instance *model.JobInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobInstances[instance.ID]; ok {
		return exception.NewRepositoryError(module, "job instance "+instance.ID+" already exists", nil)
	}
	for _, existing := range r.jobInstances {
		if existing.JobName == instance.JobName && existing.ParametersHash == instance.ParametersHash {
			return exception.NewRepositoryError(module, "job instance for '"+instance.JobName+"' with these parameters already exists", nil)
		}
	}
	r.jobInstances[instance.ID] = instance.Clone()
	return nil
}

func (r *InMemoryJobRepository) FindJobInstanceByID(ctx context.Context, id string) (*model.JobInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instance, ok := r.jobInstances[id]
	if !ok {
		return nil, repository.ErrJobInstanceNotFound
	}
	return instance.Clone(), nil
}

func (r *InMemoryJobRepository) FindJobInstanceByJobNameAndParameters(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error) {
	hash, err := params.Hash()
	if err != nil {
		return nil, exception.NewRepositoryError(module, "failed to hash job parameters", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, instance := range r.jobInstances {
		if instance.JobName == jobName && instance.ParametersHash == hash {
			return instance.Clone(), nil
		}
	}
	return nil, repository.ErrJobInstanceNotFound
}

func (r *InMemoryJobRepository) FindJobInstancesByJobName(ctx context.Context, jobName string, start, count int) ([]*model.JobInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []*model.JobInstance
	for _, instance := range r.jobInstances {
		if instance.JobName == jobName {
			matches = append(matches, instance.Clone())
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreateTime.After(matches[j].CreateTime)
	})
	if start >= len(matches) {
		return []*model.JobInstance{}, nil
	}
	end := len(matches)
	if count > 0 && start+count < end {
		end = start + count
	}
	return matches[start:end], nil
}

func (r *InMemoryJobRepository) GetJobNames(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	names := make([]string, 0)
	for _, instance := range r.jobInstances {
		if _, ok := seen[instance.JobName]; !ok {
			seen[instance.JobName] = struct{}{}
			names = append(names, instance.JobName)
		}
	}
	sort.Strings(names)
	return names, nil
}
