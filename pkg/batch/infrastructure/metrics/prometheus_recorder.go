package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// Namespace prefixes every metric the PrometheusRecorder exports.
const Namespace = "chunkbatch"

// PrometheusRecorder exports job, step and chunk activity as Prometheus metrics, e.g.
// chunkbatch_step_commit_total{job_name, step_name}.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	jobDuration *prometheus.HistogramVec
	jobStatus   *prometheus.CounterVec

	stepDuration *prometheus.HistogramVec
	stepStatus   *prometheus.CounterVec

	// Item counters only move on commit, so a rolled back chunk never shows up in them.
	items     *prometheus.CounterVec
	commits   *prometheus.CounterVec
	rollbacks *prometheus.CounterVec
	retries   *prometheus.CounterVec
	skips     *prometheus.CounterVec
}

// NewPrometheusRecorder creates a recorder on a private registry that also carries the
// Go runtime and process collectors.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(registry)

	step := []string{"job_name", "step_name"}
	counter := func(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help}, labels)
	}
	histogram := func(subsystem, help string, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      "duration_seconds",
			Help:      help,
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, labels)
	}

	return &PrometheusRecorder{
		registry:     registry,
		jobDuration:  histogram("job", "Wall time of finished job executions.", "job_name", "status", "exit_status"),
		jobStatus:    counter("job", "status_total", "Job executions entering a status.", "job_name", "status"),
		stepDuration: histogram("step", "Wall time of finished step executions.", "job_name", "step_name", "status", "exit_status"),
		stepStatus:   counter("step", "status_total", "Step executions entering a status.", "job_name", "step_name", "status"),
		items:        counter("step", "items_total", "Items of committed chunks by outcome (read, written, filtered).", "job_name", "step_name", "outcome"),
		commits:      counter("step", "commit_total", "Committed chunks.", step...),
		rollbacks:    counter("step", "rollback_total", "Rolled back chunks.", step...),
		retries:      counter("chunk", "retry_total", "Retried chunk writes.", step...),
		skips:        counter("item", "skip_total", "Skipped items by phase (read, process, write).", "job_name", "step_name", "phase"),
	}
}

// GetRegistry returns the registry served on the metrics endpoint.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

func (r *PrometheusRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {
	r.jobStatus.WithLabelValues(execution.JobName, execution.Status.String()).Inc()
}

func (r *PrometheusRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	r.jobStatus.WithLabelValues(execution.JobName, execution.Status.String()).Inc()
	if d, ok := elapsed(execution.StartTime, execution.EndTime); ok {
		r.jobDuration.WithLabelValues(execution.JobName, execution.Status.String(), execution.ExitStatus.String()).Observe(d)
		logger.Debugf("Metrics: job '%s' took %.3fs.", execution.JobName, d)
	}
}

func (r *PrometheusRecorder) RecordStepStart(ctx context.Context, jobName string, execution *model.StepExecution) {
	r.stepStatus.WithLabelValues(jobName, execution.StepName, execution.Status.String()).Inc()
}

// RecordStepEnd observes the step duration. Item counts were already added chunk by chunk.
func (r *PrometheusRecorder) RecordStepEnd(ctx context.Context, jobName string, execution *model.StepExecution) {
	r.stepStatus.WithLabelValues(jobName, execution.StepName, execution.Status.String()).Inc()
	if d, ok := elapsed(execution.StartTime, execution.EndTime); ok {
		r.stepDuration.WithLabelValues(jobName, execution.StepName, execution.Status.String(), execution.ExitStatus.String()).Observe(d)
		logger.Debugf("Metrics: step '%s' of job '%s' took %.3fs.", execution.StepName, jobName, d)
	}
}

func (r *PrometheusRecorder) RecordChunkCommit(ctx context.Context, jobName, stepName string, read, written, filtered int) {
	r.commits.WithLabelValues(jobName, stepName).Inc()
	r.items.WithLabelValues(jobName, stepName, "read").Add(float64(read))
	r.items.WithLabelValues(jobName, stepName, "written").Add(float64(written))
	r.items.WithLabelValues(jobName, stepName, "filtered").Add(float64(filtered))
}

func (r *PrometheusRecorder) RecordChunkRollback(ctx context.Context, jobName, stepName string) {
	r.rollbacks.WithLabelValues(jobName, stepName).Inc()
}

func (r *PrometheusRecorder) RecordChunkRetry(ctx context.Context, jobName, stepName string) {
	r.retries.WithLabelValues(jobName, stepName).Inc()
}

func (r *PrometheusRecorder) RecordItemSkip(ctx context.Context, jobName, stepName, phase string) {
	r.skips.WithLabelValues(jobName, stepName, phase).Inc()
}

// elapsed returns the seconds between start and end, and false while end is unset.
func elapsed(start time.Time, end *time.Time) (float64, bool) {
	if end == nil {
		return 0, false
	}
	return end.Sub(start).Seconds(), true
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
