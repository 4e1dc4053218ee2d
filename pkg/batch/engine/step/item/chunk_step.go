// Package item implements the chunk-oriented step: items are read one at a time, passed
// through a processor and written in chunks, each chunk in its own transaction together
// with the step's recorded progress.
package item

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/retry"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/skip"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// ChunkState is the phase of one chunk cycle.
type ChunkState string

const (
	ChunkStateReading      ChunkState = "READING"
	ChunkStateTransforming ChunkState = "TRANSFORMING"
	ChunkStateBuffering    ChunkState = "BUFFERING"
	ChunkStateCommitting   ChunkState = "COMMITTING"
	ChunkStateCommitted    ChunkState = "COMMITTED"
	ChunkStateFailed       ChunkState = "FAILED"
)

// stepConfig holds the settings of a ChunkStep that do not depend on its item types.
type stepConfig struct {
	txManager      tx.TransactionManager
	txOptions      *sql.TxOptions
	retryPolicy    retry.RetryPolicy
	skipPolicy     skip.SkipPolicy
	stepListeners  []port.StepExecutionListener
	chunkListeners []port.ChunkListener
	skipListeners  []port.SkipListener
	retryListeners []port.RetryListener
	recorder       metrics.MetricRecorder
	tracer         metrics.Tracer
}

// Option configures a ChunkStep.
type Option func(*stepConfig)

// WithTransactionManager sets the manager that opens one transaction per chunk.
// Without it chunks commit through tx.NoOpTransactionManager.
func WithTransactionManager(m tx.TransactionManager) Option {
	return func(c *stepConfig) { c.txManager = m }
}

// WithIsolationLevel sets the isolation level of chunk transactions
// (READ_UNCOMMITTED, READ_COMMITTED, WRITE_COMMITTED, REPEATABLE_READ or SERIALIZABLE).
func WithIsolationLevel(level string) Option {
	return func(c *stepConfig) { c.txOptions = &sql.TxOptions{Isolation: parseIsolationLevel(level)} }
}

// WithRetryPolicy sets the policy that decides whether a failed chunk write is attempted again.
func WithRetryPolicy(p retry.RetryPolicy) Option {
	return func(c *stepConfig) { c.retryPolicy = p }
}

// WithSkipPolicy sets the policy that decides whether a failed read or process is skipped.
func WithSkipPolicy(p skip.SkipPolicy) Option {
	return func(c *stepConfig) { c.skipPolicy = p }
}

// WithStepListener registers listeners called before and after the step.
func WithStepListener(l ...port.StepExecutionListener) Option {
	return func(c *stepConfig) { c.stepListeners = append(c.stepListeners, l...) }
}

// WithChunkListener registers listeners called around each chunk.
func WithChunkListener(l ...port.ChunkListener) Option {
	return func(c *stepConfig) { c.chunkListeners = append(c.chunkListeners, l...) }
}

// WithSkipListener registers listeners notified of skipped items.
func WithSkipListener(l ...port.SkipListener) Option {
	return func(c *stepConfig) { c.skipListeners = append(c.skipListeners, l...) }
}

// WithRetryListener registers listeners notified before a chunk write is retried.
func WithRetryListener(l ...port.RetryListener) Option {
	return func(c *stepConfig) { c.retryListeners = append(c.retryListeners, l...) }
}

// WithMetricRecorder sets the recorder for chunk and item metrics.
func WithMetricRecorder(r metrics.MetricRecorder) Option {
	return func(c *stepConfig) { c.recorder = r }
}

// WithTracer sets the tracer that opens a span per chunk.
func WithTracer(t metrics.Tracer) Option {
	return func(c *stepConfig) { c.tracer = t }
}

// ChunkStep is an implementation of port.Step for chunk-oriented processing.
// I is the type produced by the reader and O the type consumed by the writer.
type ChunkStep[I, O any] struct {
	stepConfig
	name      string
	reader    port.ItemReader[I]
	processor port.ItemProcessor[I, O]
	writer    port.ItemWriter[O]
	chunkSize int
	repo      repository.JobRepository
}

// NewChunkStep creates a ChunkStep. Use port.PassThroughProcessor when items need no
// transformation.
func NewChunkStep[I, O any](
	name string,
	reader port.ItemReader[I],
	processor port.ItemProcessor[I, O],
	writer port.ItemWriter[O],
	chunkSize int,
	repo repository.JobRepository,
	opts ...Option,
) (*ChunkStep[I, O], error) {
	switch {
	case name == "":
		return nil, exception.NewConfigurationError("ChunkStep", "step name cannot be empty", nil)
	case reader == nil || processor == nil || writer == nil:
		return nil, exception.NewConfigurationError("ChunkStep", fmt.Sprintf("step '%s' needs a reader, a processor and a writer", name), nil)
	case chunkSize < 1:
		return nil, exception.NewConfigurationError("ChunkStep", fmt.Sprintf("step '%s': chunk size must be at least 1, got %d", name, chunkSize), nil)
	case repo == nil:
		return nil, exception.NewConfigurationError("ChunkStep", fmt.Sprintf("step '%s' needs a job repository", name), nil)
	}

	cfg := stepConfig{
		txManager:   tx.NewNoOpTransactionManager(),
		retryPolicy: retry.NeverRetry(),
		skipPolicy:  skip.NeverSkip(),
		recorder:    metrics.NewNoOpMetricRecorder(),
		tracer:      metrics.NewNoOpTracer(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &ChunkStep[I, O]{
		stepConfig: cfg,
		name:       name,
		reader:     reader,
		processor:  processor,
		writer:     writer,
		chunkSize:  chunkSize,
		repo:       repo,
	}, nil
}

var _ port.Step = (*ChunkStep[any, any])(nil)

// StepName returns the step name.
func (s *ChunkStep[I, O]) StepName() string {
	return s.name
}

// ChunkSize returns the number of items written per transaction.
func (s *ChunkStep[I, O]) ChunkSize() int {
	return s.chunkSize
}

// parseIsolationLevel converts a configured isolation name to sql.IsolationLevel.
func parseIsolationLevel(level string) sql.IsolationLevel {
	switch strings.ToUpper(level) {
	case "READ_UNCOMMITTED":
		return sql.LevelReadUncommitted
	case "READ_COMMITTED":
		return sql.LevelReadCommitted
	case "WRITE_COMMITTED":
		return sql.LevelWriteCommitted
	case "REPEATABLE_READ":
		return sql.LevelRepeatableRead
	case "SERIALIZABLE":
		return sql.LevelSerializable
	default:
		return sql.LevelDefault
	}
}

// Execute runs the chunk loop until the reader is exhausted, a chunk fails or a stop is
// requested. The outcome is recorded on stepExecution and persisted before returning.
func (s *ChunkStep[I, O]) Execute(ctx context.Context, jobExecution *model.JobExecution, stepExecution *model.StepExecution) error {
	jobName := jobNameOf(jobExecution)
	ctx = port.WithStepExecution(ctx, stepExecution)
	ctx, endSpan := s.tracer.StartStepSpan(ctx, stepExecution)
	defer endSpan()

	logger.Infof("ChunkStep '%s' executing (chunk size %d, commit position %d).", s.name, s.chunkSize, stepExecution.CommitPosition)

	stepExecution.MarkAsStarted()
	if err := s.repo.UpdateStepExecution(ctx, stepExecution); err != nil {
		return exception.NewBatchError(s.name, "failed to update StepExecution status to STARTED", err, false, false)
	}
	for _, l := range s.stepListeners {
		l.BeforeStep(ctx, stepExecution)
	}
	s.recorder.RecordStepStart(ctx, jobName, stepExecution)

	stopped, runErr := s.run(ctx, jobExecution, stepExecution)

	switch {
	case runErr != nil:
		s.tracer.RecordError(ctx, s.name, runErr)
		stepExecution.MarkAsFailed(runErr)
		logger.Errorf("ChunkStep '%s' failed: %v", s.name, runErr)
	case stopped:
		stepExecution.MarkAsStopped()
		logger.Warnf("ChunkStep '%s' stopped after %d committed chunks.", s.name, stepExecution.CommitCount)
	default:
		stepExecution.MarkAsCompleted()
		logger.Infof("ChunkStep '%s' completed. Read: %d, Written: %d, Filtered: %d, Skipped: %d, Commits: %d.",
			s.name, stepExecution.ReadCount, stepExecution.WriteCount, stepExecution.FilterCount,
			stepExecution.SkipCount(), stepExecution.CommitCount)
	}

	// The final status is persisted even when ctx was cancelled to request the stop.
	persistCtx := context.WithoutCancel(ctx)
	if err := s.repo.UpdateStepExecution(persistCtx, stepExecution); err != nil {
		logger.Errorf("ChunkStep '%s': failed to persist final status %s: %v", s.name, stepExecution.Status, err)
		if runErr == nil {
			runErr = exception.NewBatchError(s.name, "failed to persist final StepExecution", err, false, false)
		}
	}
	for _, l := range s.stepListeners {
		l.AfterStep(persistCtx, stepExecution)
	}
	s.recorder.RecordStepEnd(persistCtx, jobName, stepExecution)
	return runErr
}

// run opens the reader and writer, drives the chunk cycles and always closes both.
func (s *ChunkStep[I, O]) run(ctx context.Context, jobExecution *model.JobExecution, stepExecution *model.StepExecution) (stopped bool, err error) {
	if err := s.reader.Open(ctx, stepExecution.ExecutionContext.Copy()); err != nil {
		return false, exception.NewSourceReadError(s.name, "failed to open reader", err)
	}
	if err := s.writer.Open(ctx, stepExecution.ExecutionContext.Copy()); err != nil {
		if cerr := s.reader.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warnf("ChunkStep '%s': failed to close reader: %v", s.name, cerr)
		}
		return false, exception.NewSinkWriteError(s.name, "failed to open writer", err).WithRetryable(false)
	}
	defer func() {
		closeCtx := context.WithoutCancel(ctx)
		var closeErrs *multierror.Error
		if cerr := s.writer.Close(closeCtx); cerr != nil {
			closeErrs = multierror.Append(closeErrs, exception.NewBatchError(s.name, "failed to close writer", cerr, false, false))
		}
		if cerr := s.reader.Close(closeCtx); cerr != nil {
			closeErrs = multierror.Append(closeErrs, exception.NewBatchError(s.name, "failed to close reader", cerr, false, false))
		}
		if closeErrs == nil {
			return
		}
		if err != nil {
			err = multierror.Append(err, closeErrs.Errors...)
			return
		}
		err = closeErrs.ErrorOrNil()
	}()

	for number := 1; ; number++ {
		if s.stopRequested(ctx, jobExecution) {
			return true, nil
		}
		// A started chunk always runs to commit or failure; cancellation is only
		// observed at the boundary above.
		done, err := s.executeChunk(context.WithoutCancel(ctx), jobExecution, stepExecution, number)
		if err != nil || done {
			return false, err
		}
	}
}

// stopRequested reports whether ctx was cancelled or an operator marked the job execution
// STOPPING in the repository. In the latter case the in-memory execution adopts the
// persisted status and version so its final update does not conflict.
func (s *ChunkStep[I, O]) stopRequested(ctx context.Context, jobExecution *model.JobExecution) bool {
	if ctx.Err() != nil {
		logger.Warnf("ChunkStep '%s': context done (%v), stopping at chunk boundary.", s.name, ctx.Err())
		return true
	}
	if jobExecution == nil {
		return false
	}
	if jobExecution.Status == model.BatchStatusStopping {
		return true
	}
	persisted, err := s.repo.FindJobExecutionByID(ctx, jobExecution.ID)
	if err != nil {
		logger.Debugf("ChunkStep '%s': could not check stop flag: %v", s.name, err)
		return false
	}
	if persisted.Status != model.BatchStatusStopping {
		return false
	}
	logger.Warnf("ChunkStep '%s': stop requested for JobExecution %s, stopping at chunk boundary.", s.name, jobExecution.ID)
	jobExecution.MarkAsStopping()
	jobExecution.Version = persisted.Version
	return true
}

// chunk is the working state of one chunk cycle.
type chunk[O any] struct {
	number       int
	state        ChunkState
	items        []O
	read         int
	filtered     int
	readSkips    int
	processSkips int
	eof          bool
}

func (c *chunk[O]) skips() int {
	return c.readSkips + c.processSkips
}

func (s *ChunkStep[I, O]) enter(ctx context.Context, c *chunk[O], state ChunkState) {
	c.state = state
	logger.Debugf("ChunkStep '%s': chunk %d %s (buffered %d).", s.name, c.number, state, len(c.items))
	s.tracer.RecordEvent(ctx, "chunk."+strings.ToLower(string(state)), map[string]interface{}{
		"step":  s.name,
		"chunk": c.number,
		"items": len(c.items),
	})
}

// executeChunk reads, transforms and commits one chunk. done is true once the reader is
// exhausted and everything read has been committed.
func (s *ChunkStep[I, O]) executeChunk(ctx context.Context, jobExecution *model.JobExecution, stepExecution *model.StepExecution, number int) (done bool, err error) {
	ctx, endSpan := s.tracer.StartChunkSpan(ctx, s.name, number)
	defer endSpan()

	c := &chunk[O]{number: number, items: make([]O, 0, s.chunkSize)}
	for _, l := range s.chunkListeners {
		l.BeforeChunk(ctx, stepExecution)
	}
	s.enter(ctx, c, ChunkStateReading)

	if err := s.fill(ctx, jobExecution, stepExecution, c); err != nil {
		return false, s.failChunk(ctx, stepExecution, c, err)
	}
	if c.eof && c.read == 0 && c.skips() == 0 {
		logger.Debugf("ChunkStep '%s': reader exhausted, nothing left to commit.", s.name)
		return true, nil
	}

	s.enter(ctx, c, ChunkStateCommitting)
	if err := s.commitWithRetry(ctx, jobExecution, stepExecution, c); err != nil {
		return false, s.failChunk(ctx, stepExecution, c, err)
	}
	s.enter(ctx, c, ChunkStateCommitted)
	for _, l := range s.chunkListeners {
		l.AfterChunk(ctx, stepExecution)
	}
	return c.eof, nil
}

// fill reads and transforms items until the chunk holds chunkSize items or the reader ends.
// Filtered and skipped items do not take room in the chunk.
func (s *ChunkStep[I, O]) fill(ctx context.Context, jobExecution *model.JobExecution, stepExecution *model.StepExecution, c *chunk[O]) error {
	jobName := jobNameOf(jobExecution)
	for len(c.items) < s.chunkSize {
		c.state = ChunkStateReading
		item, err := s.reader.Read(ctx)
		if err != nil {
			if port.IsEndOfItems(err) {
				c.eof = true
				return nil
			}
			if !exception.IsSourceReadError(err) {
				err = exception.NewSourceReadError(s.name, "item read failed", err)
			}
			if s.skipPolicy.ShouldSkip(err, stepExecution.SkipCount()+c.skips()) {
				c.readSkips++
				logger.Warnf("ChunkStep '%s': read error skipped (%d/%d): %v",
					s.name, stepExecution.SkipCount()+c.skips(), s.skipPolicy.SkipLimit(), err)
				s.recorder.RecordItemSkip(ctx, jobName, s.name, "read")
				for _, l := range s.skipListeners {
					l.OnSkipRead(ctx, err)
				}
				continue
			}
			return err
		}
		c.read++

		c.state = ChunkStateTransforming
		out, keep, err := s.processor.Process(ctx, item)
		if err != nil {
			if _, isBatch := exception.AsBatchError(err); !isBatch {
				err = exception.NewTransformError(s.name, "item processing failed", err)
			}
			if s.skipPolicy.ShouldSkip(err, stepExecution.SkipCount()+c.skips()) {
				c.processSkips++
				logger.Warnf("ChunkStep '%s': item skipped (%d/%d): %v",
					s.name, stepExecution.SkipCount()+c.skips(), s.skipPolicy.SkipLimit(), err)
				s.recorder.RecordItemSkip(ctx, jobName, s.name, "process")
				for _, l := range s.skipListeners {
					l.OnSkipProcess(ctx, item, err)
				}
				continue
			}
			return err
		}
		if !keep {
			c.filtered++
			continue
		}

		c.state = ChunkStateBuffering
		c.items = append(c.items, out)
	}
	return nil
}

// commitWithRetry writes the chunk, retrying the same items while the retry policy allows.
func (s *ChunkStep[I, O]) commitWithRetry(ctx context.Context, jobExecution *model.JobExecution, stepExecution *model.StepExecution, c *chunk[O]) error {
	jobName := jobNameOf(jobExecution)
	maxAttempts := s.retryPolicy.MaxAttempts()
	for attempt := 1; ; attempt++ {
		err := s.commit(ctx, stepExecution, c)
		if err == nil {
			s.recorder.RecordChunkCommit(ctx, jobName, s.name, c.read, len(c.items), c.filtered)
			return nil
		}
		var committed *committedChunkError
		if errors.As(err, &committed) {
			// Already committed; the items must not be written again.
			return committed.err
		}

		stepExecution.RollbackCount++
		s.recorder.RecordChunkRollback(ctx, jobName, s.name)
		if attempt >= maxAttempts || !s.retryPolicy.ShouldRetry(err) {
			if attempt > 1 {
				logger.Errorf("ChunkStep '%s': chunk %d failed after %d attempts.", s.name, c.number, attempt)
			}
			return err
		}

		logger.Warnf("ChunkStep '%s': chunk %d write failed (attempt %d/%d), retrying: %v",
			s.name, c.number, attempt, maxAttempts, err)
		s.recorder.RecordChunkRetry(ctx, jobName, s.name)
		if len(s.retryListeners) > 0 {
			items := make([]interface{}, len(c.items))
			for i, it := range c.items {
				items[i] = it
			}
			for _, l := range s.retryListeners {
				l.OnRetryWrite(ctx, items, attempt, err)
			}
		}
		if d := s.retryPolicy.Backoff(attempt); d > 0 {
			time.Sleep(d)
		}
	}
}

// committedChunkError is a failure to record the progress of a chunk whose transaction
// already committed.
type committedChunkError struct {
	err error
}

func (e *committedChunkError) Error() string { return e.err.Error() }
func (e *committedChunkError) Unwrap() error { return e.err }

// joinsTransaction reports whether the job repository writes inside t.
func (s *ChunkStep[I, O]) joinsTransaction(t tx.Tx) bool {
	p, ok := s.repo.(tx.Participant)
	return ok && p.Joins(t)
}

// commit runs one transaction: write the items, advance the step's progress and commit.
// A repository that joins the transaction persists the StepExecution inside it. Any other
// repository is updated right after the commit, before the next chunk is read, so a
// failed commit never leaves progress behind. On a failure before the commit the
// in-memory StepExecution is restored to its state before the attempt.
func (s *ChunkStep[I, O]) commit(ctx context.Context, stepExecution *model.StepExecution, c *chunk[O]) error {
	t, err := s.txManager.Begin(ctx, s.txOptions)
	if err != nil {
		return exception.NewSinkWriteError(s.name, "failed to begin chunk transaction", err)
	}
	txCtx := tx.WithTx(ctx, t)
	rollback := func() {
		if rerr := s.txManager.Rollback(t); rerr != nil {
			logger.Warnf("ChunkStep '%s': rollback of chunk %d failed: %v", s.name, c.number, rerr)
		}
	}

	if len(c.items) > 0 {
		if err := s.writer.Write(txCtx, t, c.items); err != nil {
			rollback()
			if _, isBatch := exception.AsBatchError(err); !isBatch {
				err = exception.NewSinkWriteError(s.name, fmt.Sprintf("failed to write chunk %d", c.number), err)
			}
			return err
		}
	}

	before := stepExecution.Clone()
	if err := s.advance(txCtx, stepExecution, c); err != nil {
		rollback()
		*stepExecution = *before
		return err
	}

	joined := s.joinsTransaction(t)
	if joined {
		if err := s.repo.UpdateStepExecution(txCtx, stepExecution); err != nil {
			rollback()
			*stepExecution = *before
			return exception.NewBatchError(s.name, "failed to persist chunk progress", err, false, false)
		}
	}
	if err := s.txManager.Commit(t); err != nil {
		*stepExecution = *before
		return exception.NewSinkWriteError(s.name, fmt.Sprintf("failed to commit chunk %d", c.number), err)
	}
	if !joined {
		if err := s.repo.UpdateStepExecution(ctx, stepExecution); err != nil {
			return &committedChunkError{err: exception.NewBatchError(s.name,
				fmt.Sprintf("chunk %d committed but its progress could not be persisted", c.number), err, false, false)}
		}
	}
	return nil
}

// advance applies a written chunk to the step's counters and execution context.
func (s *ChunkStep[I, O]) advance(ctx context.Context, stepExecution *model.StepExecution, c *chunk[O]) error {
	readerEC, err := s.reader.GetExecutionContext(ctx)
	if err != nil {
		return exception.NewSourceReadError(s.name, "failed to get reader execution context", err)
	}
	writerEC, err := s.writer.GetExecutionContext(ctx)
	if err != nil {
		return exception.NewBatchError(s.name, "failed to get writer execution context", err, false, false)
	}
	if stepExecution.ExecutionContext == nil {
		stepExecution.ExecutionContext = model.NewExecutionContext()
	}
	stepExecution.ExecutionContext.Merge(readerEC)
	stepExecution.ExecutionContext.Merge(writerEC)

	stepExecution.ReadCount += c.read
	stepExecution.WriteCount += len(c.items)
	stepExecution.FilterCount += c.filtered
	stepExecution.ReadSkipCount += c.readSkips
	stepExecution.ProcessSkipCount += c.processSkips
	stepExecution.CommitPosition += c.read + c.readSkips
	stepExecution.CommitCount++
	stepExecution.LastUpdated = time.Now()
	return nil
}

func (s *ChunkStep[I, O]) failChunk(ctx context.Context, stepExecution *model.StepExecution, c *chunk[O], err error) error {
	s.enter(ctx, c, ChunkStateFailed)
	s.tracer.RecordError(ctx, s.name, err)
	for _, l := range s.chunkListeners {
		l.AfterChunkError(ctx, stepExecution, err)
	}
	return err
}

func jobNameOf(je *model.JobExecution) string {
	if je == nil {
		return ""
	}
	return je.JobName
}
