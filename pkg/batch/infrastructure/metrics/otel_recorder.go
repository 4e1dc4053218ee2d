package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// OTelMetricRecorder records batch metrics as OpenTelemetry instruments.
type OTelMetricRecorder struct {
	jobDuration   otelmetric.Float64Histogram
	jobStatus     otelmetric.Int64Counter
	stepDuration  otelmetric.Float64Histogram
	stepStatus    otelmetric.Int64Counter
	itemsRead     otelmetric.Int64Counter
	itemsWritten  otelmetric.Int64Counter
	itemsFiltered otelmetric.Int64Counter
	commits       otelmetric.Int64Counter
	rollbacks     otelmetric.Int64Counter
	retries       otelmetric.Int64Counter
	skips         otelmetric.Int64Counter
}

// NewOTelMetricRecorder creates the instruments on a meter of provider.
func NewOTelMetricRecorder(provider otelmetric.MeterProvider) (*OTelMetricRecorder, error) {
	meter := provider.Meter(instrumentationName)
	r := &OTelMetricRecorder{}
	var err error

	histogram := func(name, desc string) otelmetric.Float64Histogram {
		if err != nil {
			return nil
		}
		var h otelmetric.Float64Histogram
		h, err = meter.Float64Histogram(name, otelmetric.WithDescription(desc), otelmetric.WithUnit("s"))
		return h
	}
	counter := func(name, desc string) otelmetric.Int64Counter {
		if err != nil {
			return nil
		}
		var c otelmetric.Int64Counter
		c, err = meter.Int64Counter(name, otelmetric.WithDescription(desc))
		return c
	}

	r.jobDuration = histogram("batch.job.duration", "Duration of batch job executions.")
	r.jobStatus = counter("batch.job.status", "Batch job executions by status.")
	r.stepDuration = histogram("batch.step.duration", "Duration of batch step executions.")
	r.stepStatus = counter("batch.step.status", "Batch step executions by status.")
	r.itemsRead = counter("batch.step.read", "Items read in committed chunks.")
	r.itemsWritten = counter("batch.step.write", "Items written in committed chunks.")
	r.itemsFiltered = counter("batch.step.filter", "Items filtered in committed chunks.")
	r.commits = counter("batch.step.commit", "Committed chunks.")
	r.rollbacks = counter("batch.step.rollback", "Rolled back chunks.")
	r.retries = counter("batch.chunk.retry", "Retried chunk writes.")
	r.skips = counter("batch.item.skip", "Skipped items by phase.")
	if err != nil {
		return nil, fmt.Errorf("failed to create metric instruments: %w", err)
	}
	return r, nil
}

// NewMeterProvider builds an SDK meter provider pushing to an otlp endpoint per cfg.
func NewMeterProvider(ctx context.Context, cfg config.MetricsConfig, serviceName string) (*sdkmetric.MeterProvider, error) {
	var exporter sdkmetric.Exporter
	switch cfg.Exporter {
	case config.ExporterOTLPHTTP:
		opts := []otlpmetrichttp.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		exp, err := otlpmetrichttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp-http metric exporter: %w", err)
		}
		exporter = exp
	case config.ExporterOTLPGRPC:
		opts := []otlpmetricgrpc.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exp, err := otlpmetricgrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp-grpc metric exporter: %w", err)
		}
		exporter = exp
	default:
		return nil, fmt.Errorf("metrics exporter '%s' is not an otlp exporter", cfg.Exporter)
	}

	interval := time.Duration(cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))
	logger.Infof("Pushing metrics with exporter %s every %s.", cfg.Exporter, interval)
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
	), nil
}

func stepAttrs(jobName, stepName string, extra ...attribute.KeyValue) otelmetric.MeasurementOption {
	attrs := append([]attribute.KeyValue{
		attribute.String("job_name", jobName),
		attribute.String("step_name", stepName),
	}, extra...)
	return otelmetric.WithAttributes(attrs...)
}

// RecordJobStart records the start of a JobExecution.
func (r *OTelMetricRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {
	r.jobStatus.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("job_name", execution.JobName),
		attribute.String("status", execution.Status.String()),
	))
}

// RecordJobEnd records the end of a JobExecution.
func (r *OTelMetricRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	r.jobStatus.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("job_name", execution.JobName),
		attribute.String("status", execution.Status.String()),
	))
	if execution.EndTime == nil {
		return
	}
	r.jobDuration.Record(ctx, execution.EndTime.Sub(execution.StartTime).Seconds(), otelmetric.WithAttributes(
		attribute.String("job_name", execution.JobName),
		attribute.String("status", execution.Status.String()),
		attribute.String("exit_status", execution.ExitStatus.String()),
	))
}

// RecordStepStart records the start of a StepExecution.
func (r *OTelMetricRecorder) RecordStepStart(ctx context.Context, jobName string, execution *model.StepExecution) {
	r.stepStatus.Add(ctx, 1, stepAttrs(jobName, execution.StepName, attribute.String("status", execution.Status.String())))
}

// RecordStepEnd records the end of a StepExecution.
func (r *OTelMetricRecorder) RecordStepEnd(ctx context.Context, jobName string, execution *model.StepExecution) {
	status := attribute.String("status", execution.Status.String())
	r.stepStatus.Add(ctx, 1, stepAttrs(jobName, execution.StepName, status))
	if execution.EndTime == nil {
		return
	}
	r.stepDuration.Record(ctx, execution.EndTime.Sub(execution.StartTime).Seconds(),
		stepAttrs(jobName, execution.StepName, status, attribute.String("exit_status", execution.ExitStatus.String())))
}

// RecordChunkCommit records a committed chunk and its item counts.
func (r *OTelMetricRecorder) RecordChunkCommit(ctx context.Context, jobName, stepName string, read, written, filtered int) {
	attrs := stepAttrs(jobName, stepName)
	r.commits.Add(ctx, 1, attrs)
	r.itemsRead.Add(ctx, int64(read), attrs)
	r.itemsWritten.Add(ctx, int64(written), attrs)
	r.itemsFiltered.Add(ctx, int64(filtered), attrs)
}

// RecordChunkRollback records a rolled back chunk.
func (r *OTelMetricRecorder) RecordChunkRollback(ctx context.Context, jobName, stepName string) {
	r.rollbacks.Add(ctx, 1, stepAttrs(jobName, stepName))
}

// RecordChunkRetry records a retried chunk write.
func (r *OTelMetricRecorder) RecordChunkRetry(ctx context.Context, jobName, stepName string) {
	r.retries.Add(ctx, 1, stepAttrs(jobName, stepName))
}

// RecordItemSkip records a skipped item.
func (r *OTelMetricRecorder) RecordItemSkip(ctx context.Context, jobName, stepName, phase string) {
	r.skips.Add(ctx, 1, stepAttrs(jobName, stepName, attribute.String("phase", phase)))
}

var _ metrics.MetricRecorder = (*OTelMetricRecorder)(nil)
