package usecase

import (
	"go.uber.org/fx"
)

// Module is the Fx module for JobLauncher, JobOperator, and JobExplorer.
var Module = fx.Options(
	fx.Provide(
		NewSimpleJobLauncher,
		fx.Annotate(
			func(l *SimpleJobLauncher) *SimpleJobLauncher { return l },
			fx.As(new(JobLauncher)),
		),
		fx.Annotate(NewDefaultJobOperator, fx.As(new(JobOperator))),
		fx.Annotate(NewSimpleJobExplorer, fx.As(new(JobExplorer))),
	),
)
