package logger

import "go.uber.org/fx"

// Module installs the leveled logger as the fx event logger.
var Module = fx.Options(
	fx.WithLogger(NewFxLogger),
)
