// Package inmemory is a process-local JobRepository backed by maps. It is used by tests
// and by jobs that do not need restart across process boundaries.
package inmemory

import (
	"sync"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
)

type storedStep struct {
	seq  int
	step *model.StepExecution
}

// InMemoryJobRepository keeps every entity as a private copy guarded by one RWMutex.
// Updates are compare-and-swap on Version, so two attempts racing on the same
// instance cannot overwrite each other's counts.
type InMemoryJobRepository struct {
	mu             sync.RWMutex
	jobInstances   map[string]*model.JobInstance
	jobExecutions  map[string]*model.JobExecution
	stepExecutions map[string]*storedStep
	seq            int
}

var _ repository.JobRepository = (*InMemoryJobRepository)(nil)

func NewInMemoryJobRepository() *InMemoryJobRepository {
	return &InMemoryJobRepository{
		jobInstances:   make(map[string]*model.JobInstance),
		jobExecutions:  make(map[string]*model.JobExecution),
		stepExecutions: make(map[string]*storedStep),
	}
}

func (r *InMemoryJobRepository) Close() error {
	return nil
}
