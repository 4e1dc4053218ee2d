package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.uber.org/fx"

	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	metrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// Module replaces the no-op MetricRecorder and Tracer of the core metrics module with
// the exporters named in the configuration. Disabled sections keep the no-ops.
var Module = fx.Options(
	fx.Decorate(DecorateMetricRecorder),
	fx.Decorate(DecorateTracer),
)

// DecorateMetricRecorder selects the recorder for cfg.Chunkbatch.Metrics and ties its
// server or meter provider to the application lifecycle.
func DecorateMetricRecorder(lc fx.Lifecycle, cfg *config.Config, base metrics.MetricRecorder) (metrics.MetricRecorder, error) {
	mc := cfg.Chunkbatch.Metrics
	if !mc.Enabled {
		return base, nil
	}

	var recorder metrics.MetricRecorder
	switch mc.Exporter {
	case config.ExporterOTLPHTTP, config.ExporterOTLPGRPC:
		provider, err := NewMeterProvider(context.Background(), mc, cfg.Chunkbatch.Tracing.ServiceName)
		if err != nil {
			return nil, err
		}
		otelRecorder, err := NewOTelMetricRecorder(provider)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{OnStop: provider.Shutdown})
		recorder = otelRecorder
	default:
		promRecorder := NewPrometheusRecorder()
		if mc.Address != "" {
			server := NewMetricsServer(mc.Address, mc.Path, promRecorder.GetRegistry())
			lc.Append(fx.Hook{OnStart: server.Start, OnStop: server.Stop})
		}
		recorder = promRecorder
	}

	if mc.AsyncBufferSize > 0 {
		async := NewAsyncMetricRecorder(mc.AsyncBufferSize, recorder)
		// Appended last so it drains before the exporters above stop.
		lc.Append(fx.Hook{OnStop: func(ctx context.Context) error {
			async.Close()
			return nil
		}})
		logger.Debugf("MetricRecorder decorated with asynchronous wrapper.")
		return async, nil
	}
	return recorder, nil
}

// DecorateTracer installs an OpenTelemetry tracer when tracing is enabled.
func DecorateTracer(lc fx.Lifecycle, cfg *config.Config, base metrics.Tracer) (metrics.Tracer, error) {
	tc := cfg.Chunkbatch.Tracing
	if !tc.Enabled {
		return base, nil
	}
	provider, err := NewTracerProvider(context.Background(), tc)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(provider)
	lc.Append(fx.Hook{OnStop: provider.Shutdown})
	return NewOpenTelemetryTracer(provider), nil
}
