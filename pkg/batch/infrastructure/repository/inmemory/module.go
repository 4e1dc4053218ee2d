package inmemory

import (
	"go.uber.org/fx"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
)

// Module provides the in-memory repository as the JobRepository.
var Module = fx.Module("inmemory_repository",
	fx.Provide(fx.Annotate(NewInMemoryJobRepository, fx.As(new(repository.JobRepository)))),
)
