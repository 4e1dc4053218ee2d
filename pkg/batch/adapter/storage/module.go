package storage

import (
	"context"

	"go.uber.org/fx"

	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
)

// ResolverParams collects the factories contributed by the backend modules.
type ResolverParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Cfg       *config.Config
	Factories []NamedFactory `group:"storageFactories"`
}

// NewConnectionResolverProvider builds the resolver and closes its connections on stop.
func NewConnectionResolverProvider(p ResolverParams) *ConnectionResolver {
	r := NewConnectionResolver(p.Cfg.Chunkbatch.Storage, p.Factories...)
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error { return r.CloseAll() },
	})
	return r
}

// Module provides the ConnectionResolver. Include the local and gcs modules for the
// backends it should serve.
var Module = fx.Options(
	fx.Provide(NewConnectionResolverProvider),
)
