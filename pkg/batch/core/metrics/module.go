package metrics

import (
	"go.uber.org/fx"
)

// Module provides no-op metrics. Applications that export metrics or traces replace
// them with fx.Decorate from the infrastructure metrics module.
var Module = fx.Module("core_metrics",
	fx.Provide(NewNoOpMetricRecorder, NewNoOpTracer),
)
