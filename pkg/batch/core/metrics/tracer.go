package metrics

import (
	"context"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// Tracer opens spans around jobs, steps and chunks. The returned context carries the
// span, so nested spans become its children.
type Tracer interface {
	StartJobSpan(ctx context.Context, execution *model.JobExecution) (context.Context, func())
	StartStepSpan(ctx context.Context, execution *model.StepExecution) (context.Context, func())
	// StartChunkSpan covers the read-process-write cycle number chunk of stepName.
	StartChunkSpan(ctx context.Context, stepName string, chunk int) (context.Context, func())

	// RecordError marks the span in ctx as failed. module is the failing component,
	// such as "reader" or "writer".
	RecordError(ctx context.Context, module string, err error)
	// RecordEvent adds a named event with attributes to the span in ctx.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
