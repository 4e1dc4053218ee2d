// Package port defines the core interfaces (ports) for the batch application.
// These interfaces abstract the application's capabilities and dependencies,
// allowing for flexible implementation and testing.
package port

import (
	"context"
	"errors"
	"io"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
)

// ErrNoMoreItems signals the end of an item sequence. io.EOF is accepted as well.
var ErrNoMoreItems = errors.New("no more items to read")

// IsEndOfItems reports whether err marks the end of an item sequence.
func IsEndOfItems(err error) bool {
	return errors.Is(err, ErrNoMoreItems) || errors.Is(err, io.EOF)
}

// ItemStream is the lifecycle shared by readers and writers.
type ItemStream interface {
	// Open opens resources and restores state from ExecutionContext.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//   ec: The ExecutionContext persisted by the last committed chunk; empty on a first run.
	//
	// Returns:
	//   error: An error if opening fails.
	Open(ctx context.Context, ec model.ExecutionContext) error
	// Close closes resources.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//
	// Returns:
	//   error: An error if closing fails.
	Close(ctx context.Context) error
	// GetExecutionContext returns the state to persist with the next committed chunk.
	// It is called after a successful write, so a reader reports the position after
	// the last item of that chunk.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//
	// Returns:
	//   model.ExecutionContext: The current ExecutionContext.
	//   error: An error if retrieval fails.
	GetExecutionContext(ctx context.Context) (model.ExecutionContext, error)
}

// ItemReader produces a lazy, finite sequence of items.
// T is the type of item to be read.
type ItemReader[T any] interface {
	ItemStream
	// Read reads the next item.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//
	// Returns:
	//   T: The next item.
	//   error: io.EOF or ErrNoMoreItems at the end of the sequence, or a SourceReadError.
	Read(ctx context.Context) (T, error)
}

// ItemProcessor maps one input item to zero or one output item.
// I is the type of input item, O is the type of output item.
type ItemProcessor[I, O any] interface {
	// Process transforms an item. It must be free of side effects, because a chunk may
	// be processed again when it is restarted.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//   item: The input item to be processed.
	//
	// Returns:
	//   O: The processed item.
	//   bool: false when the item is filtered out.
	//   error: A TransformError if the item is invalid.
	Process(ctx context.Context, item I) (O, bool, error)
}

// ItemProcessorFunc adapts a function to ItemProcessor.
type ItemProcessorFunc[I, O any] func(ctx context.Context, item I) (O, bool, error)

// Process calls f(ctx, item).
func (f ItemProcessorFunc[I, O]) Process(ctx context.Context, item I) (O, bool, error) {
	return f(ctx, item)
}

// PassThroughProcessor returns every item unchanged.
type PassThroughProcessor[T any] struct{}

func (PassThroughProcessor[T]) Process(ctx context.Context, item T) (T, bool, error) {
	return item, true, nil
}

// ItemWriter consumes one chunk of items.
// O is the type of item to be written.
type ItemWriter[O any] interface {
	ItemStream
	// Write persists a chunk. Either every item is applied or none is.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//   tx: The transaction of the current chunk.
	//   items: The items of the chunk.
	//
	// Returns:
	//   error: A SinkWriteError if writing fails.
	Write(ctx context.Context, tx tx.Tx, items []O) error
}

// Step is one named unit of work executed within a job.
type Step interface {
	// StepName returns the logical name of the step.
	StepName() string
	// Execute runs the step and records its outcome on stepExecution. The step is
	// responsible for persisting stepExecution through the job repository.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//   jobExecution: The current JobExecution instance.
	//   stepExecution: The StepExecution to drive.
	//
	// Returns:
	//   error: An error if the step fails.
	Execute(ctx context.Context, jobExecution *model.JobExecution, stepExecution *model.StepExecution) error
}

// Job is an ordered sequence of steps.
type Job interface {
	// JobName returns the logical name of the job.
	JobName() string
	// Run executes the steps of the job in order, skipping the ones already completed
	// by a previous attempt of the same job instance.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//   jobExecution: The current JobExecution instance.
	//
	// Returns:
	//   error: The error of the step that failed the job, if any.
	Run(ctx context.Context, jobExecution *model.JobExecution) error
	// ValidateParameters validates job parameters before a new instance is created.
	ValidateParameters(params model.JobParameters) error
	// Incrementer returns the run identifier policy of the job, or nil.
	Incrementer() JobParametersIncrementer
}

// JobRunner executes a job for one JobExecution and persists its start and end.
type JobRunner interface {
	// Run runs job synchronously. Its outcome is recorded on jobExecution.
	Run(ctx context.Context, job Job, jobExecution *model.JobExecution)
}

// JobParametersIncrementer is an interface for automatically incrementing JobParameters.
type JobParametersIncrementer interface {
	// GetNext generates the next JobParameters based on the current parameters.
	//
	// Parameters:
	//   params: The current JobParameters.
	//
	// Returns:
	//   model.JobParameters: The next JobParameters.
	GetNext(params model.JobParameters) model.JobParameters
}

// JobExecutionListener is an interface for handling job execution events.
type JobExecutionListener interface {
	// BeforeJob is called just before a job execution starts.
	BeforeJob(ctx context.Context, jobExecution *model.JobExecution)
	// AfterJob is called after a job execution completes (regardless of success or failure).
	AfterJob(ctx context.Context, jobExecution *model.JobExecution)
}

// StepExecutionListener is an interface for handling step execution events.
type StepExecutionListener interface {
	// BeforeStep is called just before a step execution starts.
	BeforeStep(ctx context.Context, stepExecution *model.StepExecution)
	// AfterStep is called after a step execution completes (regardless of success or failure).
	AfterStep(ctx context.Context, stepExecution *model.StepExecution)
}

// ChunkListener is an interface for handling chunk processing events.
type ChunkListener interface {
	// BeforeChunk is called just before a chunk cycle starts reading.
	BeforeChunk(ctx context.Context, stepExecution *model.StepExecution)
	// AfterChunk is called after a chunk committed.
	AfterChunk(ctx context.Context, stepExecution *model.StepExecution)
	// AfterChunkError is called after a chunk failed and was rolled back.
	AfterChunkError(ctx context.Context, stepExecution *model.StepExecution, err error)
}

// SkipListener is an interface for handling item skip events.
type SkipListener interface {
	// OnSkipRead is called after a read error was skipped.
	OnSkipRead(ctx context.Context, err error)
	// OnSkipProcess is called after an item was skipped during processing.
	OnSkipProcess(ctx context.Context, item interface{}, err error)
}

// RetryListener is an interface for handling chunk write retries.
type RetryListener interface {
	// OnRetryWrite is called before a failed chunk write is attempted again.
	//
	// Parameters:
	//   ctx: The context.
	//   items: The chunk that is about to be written again.
	//   attempt: The number of the failed attempt, starting at 1.
	//   err: The error of the failed attempt.
	OnRetryWrite(ctx context.Context, items []interface{}, attempt int, err error)
}

type contextKey string

const (
	stepExecutionKey contextKey = "stepExecution"
	jobExecutionKey  contextKey = "jobExecution"
)

// WithStepExecution stores a StepExecution in the Context.
func WithStepExecution(ctx context.Context, se *model.StepExecution) context.Context {
	return context.WithValue(ctx, stepExecutionKey, se)
}

// StepExecutionFromContext retrieves a StepExecution from the Context. Returns nil if not found.
func StepExecutionFromContext(ctx context.Context) *model.StepExecution {
	if se, ok := ctx.Value(stepExecutionKey).(*model.StepExecution); ok {
		return se
	}
	return nil
}

// WithJobExecution stores the running JobExecution in the Context.
func WithJobExecution(ctx context.Context, je *model.JobExecution) context.Context {
	return context.WithValue(ctx, jobExecutionKey, je)
}

// JobExecutionFromContext retrieves the running JobExecution. Returns nil if not found.
func JobExecutionFromContext(ctx context.Context) *model.JobExecution {
	if je, ok := ctx.Value(jobExecutionKey).(*model.JobExecution); ok {
		return je
	}
	return nil
}
