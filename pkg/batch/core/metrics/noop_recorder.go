package metrics

import (
	"context"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// NoOpMetricRecorder discards everything. Steps and jobs built without a recorder use it.
type NoOpMetricRecorder struct{}

var _ MetricRecorder = NoOpMetricRecorder{}

func NewNoOpMetricRecorder() MetricRecorder { return NoOpMetricRecorder{} }

func (NoOpMetricRecorder) RecordJobStart(context.Context, *model.JobExecution)           {}
func (NoOpMetricRecorder) RecordJobEnd(context.Context, *model.JobExecution)             {}
func (NoOpMetricRecorder) RecordStepStart(context.Context, string, *model.StepExecution) {}
func (NoOpMetricRecorder) RecordStepEnd(context.Context, string, *model.StepExecution)   {}
func (NoOpMetricRecorder) RecordChunkCommit(context.Context, string, string, int, int, int) {
}
func (NoOpMetricRecorder) RecordChunkRollback(context.Context, string, string)    {}
func (NoOpMetricRecorder) RecordChunkRetry(context.Context, string, string)       {}
func (NoOpMetricRecorder) RecordItemSkip(context.Context, string, string, string) {}

// NoOpTracer opens no spans and returns ctx unchanged.
type NoOpTracer struct{}

var _ Tracer = NoOpTracer{}

func NewNoOpTracer() Tracer { return NoOpTracer{} }

func (NoOpTracer) StartJobSpan(ctx context.Context, _ *model.JobExecution) (context.Context, func()) {
	return ctx, func() {}
}

func (NoOpTracer) StartStepSpan(ctx context.Context, _ *model.StepExecution) (context.Context, func()) {
	return ctx, func() {}
}

func (NoOpTracer) StartChunkSpan(ctx context.Context, _ string, _ int) (context.Context, func()) {
	return ctx, func() {}
}

func (NoOpTracer) RecordError(context.Context, string, error)                  {}
func (NoOpTracer) RecordEvent(context.Context, string, map[string]interface{}) {}
