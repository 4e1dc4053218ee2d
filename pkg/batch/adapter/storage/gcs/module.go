package gcs

import (
	"go.uber.org/fx"

	storageAdapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage"
)

// Module contributes the gcs backend to the storage ConnectionResolver.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		func() storageAdapter.NamedFactory {
			return storageAdapter.NamedFactory{Type: storageAdapter.TypeGCS, Factory: NewGCSAdapter}
		},
		fx.ResultTags(`group:"storageFactories"`),
	)),
)
