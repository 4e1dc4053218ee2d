package metrics

import (
	"context"
	"sync"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// metricEvent is one recording call queued for the worker.
type metricEvent struct {
	kind          string
	jobName       string
	stepName      string
	jobExecution  *model.JobExecution
	stepExecution *model.StepExecution
	read          int
	written       int
	filtered      int
	phase         string
}

const (
	eventJobStart      = "job_start"
	eventJobEnd        = "job_end"
	eventStepStart     = "step_start"
	eventStepEnd       = "step_end"
	eventChunkCommit   = "chunk_commit"
	eventChunkRollback = "chunk_rollback"
	eventChunkRetry    = "chunk_retry"
	eventItemSkip      = "item_skip"
)

// AsyncMetricRecorder pushes recording calls to a bounded queue drained by one worker
// goroutine. Executions are cloned when queued; a full queue drops the event.
type AsyncMetricRecorder struct {
	eventQueue   chan metricEvent
	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
	syncRecorder metrics.MetricRecorder
}

// NewAsyncMetricRecorder starts the worker. A bufferSize of 0 or less uses 100.
func NewAsyncMetricRecorder(bufferSize int, syncRec metrics.MetricRecorder) *AsyncMetricRecorder {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	r := &AsyncMetricRecorder{
		eventQueue:   make(chan metricEvent, bufferSize),
		stopCh:       make(chan struct{}),
		syncRecorder: syncRec,
	}
	r.wg.Add(1)
	go r.run()
	logger.Debugf("AsyncMetricRecorder: Worker goroutine started (buffer size: %d).", bufferSize)
	return r
}

func (r *AsyncMetricRecorder) run() {
	defer r.wg.Done()
	for {
		select {
		case event := <-r.eventQueue:
			r.processEvent(event)
		case <-r.stopCh:
			remaining := len(r.eventQueue)
			for i := 0; i < remaining; i++ {
				r.processEvent(<-r.eventQueue)
			}
			logger.Debugf("AsyncMetricRecorder: Worker goroutine stopped. Processed %d remaining events.", remaining)
			return
		}
	}
}

func (r *AsyncMetricRecorder) processEvent(event metricEvent) {
	ctx := context.Background()
	switch event.kind {
	case eventJobStart:
		r.syncRecorder.RecordJobStart(ctx, event.jobExecution)
	case eventJobEnd:
		r.syncRecorder.RecordJobEnd(ctx, event.jobExecution)
	case eventStepStart:
		r.syncRecorder.RecordStepStart(ctx, event.jobName, event.stepExecution)
	case eventStepEnd:
		r.syncRecorder.RecordStepEnd(ctx, event.jobName, event.stepExecution)
	case eventChunkCommit:
		r.syncRecorder.RecordChunkCommit(ctx, event.jobName, event.stepName, event.read, event.written, event.filtered)
	case eventChunkRollback:
		r.syncRecorder.RecordChunkRollback(ctx, event.jobName, event.stepName)
	case eventChunkRetry:
		r.syncRecorder.RecordChunkRetry(ctx, event.jobName, event.stepName)
	case eventItemSkip:
		r.syncRecorder.RecordItemSkip(ctx, event.jobName, event.stepName, event.phase)
	default:
		logger.Warnf("AsyncMetricRecorder: Unknown metric event type: %s", event.kind)
	}
}

// Close stops the worker after it has drained the queue. It is safe to call twice.
func (r *AsyncMetricRecorder) Close() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()
		logger.Debugf("AsyncMetricRecorder: Shutdown complete.")
	})
}

func (r *AsyncMetricRecorder) sendEvent(event metricEvent) {
	select {
	case r.eventQueue <- event:
	default:
		logger.Warnf("AsyncMetricRecorder: Event queue is full (type: %s, step: %s). Event discarded.", event.kind, event.stepName)
	}
}

func (r *AsyncMetricRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {
	r.sendEvent(metricEvent{kind: eventJobStart, jobName: execution.JobName, jobExecution: execution.Clone()})
}

func (r *AsyncMetricRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	r.sendEvent(metricEvent{kind: eventJobEnd, jobName: execution.JobName, jobExecution: execution.Clone()})
}

func (r *AsyncMetricRecorder) RecordStepStart(ctx context.Context, jobName string, execution *model.StepExecution) {
	r.sendEvent(metricEvent{kind: eventStepStart, jobName: jobName, stepName: execution.StepName, stepExecution: execution.Clone()})
}

func (r *AsyncMetricRecorder) RecordStepEnd(ctx context.Context, jobName string, execution *model.StepExecution) {
	r.sendEvent(metricEvent{kind: eventStepEnd, jobName: jobName, stepName: execution.StepName, stepExecution: execution.Clone()})
}

func (r *AsyncMetricRecorder) RecordChunkCommit(ctx context.Context, jobName, stepName string, read, written, filtered int) {
	r.sendEvent(metricEvent{kind: eventChunkCommit, jobName: jobName, stepName: stepName, read: read, written: written, filtered: filtered})
}

func (r *AsyncMetricRecorder) RecordChunkRollback(ctx context.Context, jobName, stepName string) {
	r.sendEvent(metricEvent{kind: eventChunkRollback, jobName: jobName, stepName: stepName})
}

func (r *AsyncMetricRecorder) RecordChunkRetry(ctx context.Context, jobName, stepName string) {
	r.sendEvent(metricEvent{kind: eventChunkRetry, jobName: jobName, stepName: stepName})
}

func (r *AsyncMetricRecorder) RecordItemSkip(ctx context.Context, jobName, stepName, phase string) {
	r.sendEvent(metricEvent{kind: eventItemSkip, jobName: jobName, stepName: stepName, phase: phase})
}

var _ metrics.MetricRecorder = (*AsyncMetricRecorder)(nil)
