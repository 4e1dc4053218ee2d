package metrics

import (
	"context"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// MetricRecorder is an abstract interface for recording metrics related to batch execution.
//
// Counters are recorded at chunk granularity: a chunk's items only count once its
// transaction has committed, so the exported numbers agree with the job repository.
type MetricRecorder interface {
	// RecordJobStart records the start of a JobExecution.
	RecordJobStart(ctx context.Context, execution *model.JobExecution)

	// RecordJobEnd records the end of a JobExecution.
	RecordJobEnd(ctx context.Context, execution *model.JobExecution)

	// RecordStepStart records the start of a StepExecution of jobName.
	RecordStepStart(ctx context.Context, jobName string, execution *model.StepExecution)

	// RecordStepEnd records the end of a StepExecution of jobName.
	RecordStepEnd(ctx context.Context, jobName string, execution *model.StepExecution)

	// RecordChunkCommit records a committed chunk.
	//
	// read, written and filtered are the item counts contributed by this chunk.
	RecordChunkCommit(ctx context.Context, jobName, stepName string, read, written, filtered int)

	// RecordChunkRollback records a chunk whose transaction was rolled back.
	RecordChunkRollback(ctx context.Context, jobName, stepName string)

	// RecordChunkRetry records a retried chunk write.
	RecordChunkRetry(ctx context.Context, jobName, stepName string)

	// RecordItemSkip records a skipped item.
	//
	// phase is "read" or "process".
	RecordItemSkip(ctx context.Context, jobName, stepName, phase string)
}
