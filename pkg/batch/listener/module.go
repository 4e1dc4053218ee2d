// Package listener aggregates the listener modules contributed to every job.
package listener

import (
	"go.uber.org/fx"

	"github.com/tigerroll/chunkbatch/pkg/batch/listener/logging"
	"github.com/tigerroll/chunkbatch/pkg/batch/listener/notification"
)

// Module aggregates all listener modules of the batch framework.
var Module = fx.Options(
	logging.Module,
	notification.Module,
)
