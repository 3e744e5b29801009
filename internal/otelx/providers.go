package otelx

import (
	"context"

	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// NewStdoutProviders builds the library's zero-configuration
// observability default: a MeterProvider/TracerProvider pair exporting
// to stdout, requiring no external collector. Intended for callers
// that want RPC/reconnect/subscription telemetry without standing up
// their own OpenTelemetry pipeline; production deployments that
// already run a collector should build their own providers and pass
// them to New instead. The returned shutdown func flushes and closes
// both exporters and should be deferred by the caller.
func NewStdoutProviders(ctx context.Context) (metric.MeterProvider, trace.TracerProvider, func(context.Context) error, error) {
	metricExporter, err := stdoutmetric.New()
	if err != nil {
		return nil, nil, nil, err
	}
	traceExporter, err := stdouttrace.New()
	if err != nil {
		return nil, nil, nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
	)

	shutdown := func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return err
		}
		return mp.Shutdown(ctx)
	}
	return mp, tp, shutdown, nil
}
