package sql

import (
	"context"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// Params are the dependencies of the SQL repository. DB is the connection that holds
// the batch_* tables, named "metadata" in the fx graph.
type Params struct {
	fx.In
	Lifecycle fx.Lifecycle
	DB        *gorm.DB `name:"metadata"`
}

func provide(p Params) repository.JobRepository {
	repo := NewSQLJobRepository(p.DB)
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Debugf("Closing SQL job repository.")
			return repo.Close()
		},
	})
	return repo
}

// Module provides the gorm-backed JobRepository.
var Module = fx.Module("sql_repository",
	fx.Provide(provide),
)
