// Package telemetry wires the engine's OTel tracer and meter providers.
// Every package that wants tracing or metrics registers its
// instruments against the global otel providers at init time (see
// internal/txn, internal/hybrid, internal/timeline); those providers
// are no-ops until Init is called, so instrumented packages work
// correctly whether or not the embedding application ever calls Init.
package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
)

// Tracer is the engine-wide tracer, registered against the global
// provider. It is safe to use before Init is called; spans are simply
// discarded.
var Tracer = otel.Tracer("github.com/corelake/lakehouse")

// Meter is the engine-wide meter, registered against the global
// provider for the same reason.
var Meter = otel.Meter("github.com/corelake/lakehouse")

var (
	once       sync.Once
	shutdownFn func(context.Context) error
)

// Init installs stdout-exporting tracer and meter providers as the
// global OTel providers. It is idempotent: only the first call takes
// effect, matching the once-per-process setup every long-running
// engine embedding expects. Call Shutdown before process exit to flush
// buffered telemetry.
func Init() error {
	var initErr error
	once.Do(func() {
		traceExp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			initErr = fmt.Errorf("telemetry: create trace exporter: %w", err)
			return
		}
		tp := trace.NewTracerProvider(trace.WithBatcher(traceExp))
		otel.SetTracerProvider(tp)

		metricExp, err := stdoutmetric.New()
		if err != nil {
			initErr = fmt.Errorf("telemetry: create metric exporter: %w", err)
			return
		}
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)))
		otel.SetMeterProvider(mp)

		shutdownFn = func(ctx context.Context) error {
			if err := tp.Shutdown(ctx); err != nil {
				return err
			}
			return mp.Shutdown(ctx)
		}
	})
	return initErr
}

// Shutdown flushes and releases the telemetry providers installed by
// Init. It is a no-op if Init was never called.
func Shutdown(ctx context.Context) error {
	if shutdownFn == nil {
		return nil
	}
	return shutdownFn(ctx)
}

// InitOTLP is Init's production counterpart: traces still go to stdout
// (cheap, always-on), but metrics ship to an OTLP/HTTP collector at
// endpoint instead of stdout, for embeddings that already run a metrics
// pipeline. Like Init, only the first call (across either function)
// takes effect.
func InitOTLP(ctx context.Context, endpoint string) error {
	var initErr error
	once.Do(func() {
		traceExp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			initErr = fmt.Errorf("telemetry: create trace exporter: %w", err)
			return
		}
		tp := trace.NewTracerProvider(trace.WithBatcher(traceExp))
		otel.SetTracerProvider(tp)

		metricExp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(endpoint), otlpmetrichttp.WithInsecure())
		if err != nil {
			initErr = fmt.Errorf("telemetry: create otlp metric exporter: %w", err)
			return
		}
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)))
		otel.SetMeterProvider(mp)

		shutdownFn = func(ctx context.Context) error {
			if err := tp.Shutdown(ctx); err != nil {
				return err
			}
			return mp.Shutdown(ctx)
		}
	})
	return initErr
}
