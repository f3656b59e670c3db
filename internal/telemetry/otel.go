// Package telemetry bootstraps the process-wide OpenTelemetry trace and
// metric providers, condensed from the teacher's telemetry/otel.go
// (OTelProvider's exporter/resource/batching wiring), but trimmed to the
// global-provider-setup half: spec.md §1 places metric/trace instrument
// definitions in internal/metrics, so this package only owns bootstrap and
// shutdown.
package telemetry

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Shutdown flushes and tears down the global providers this package installed.
type Shutdown func(ctx context.Context) error

// Setup installs the global trace and meter providers for serviceName. When
// otlpEndpoint is empty, OTEL_EXPORTER_OTLP_ENDPOINT is used; when that is
// empty too, traces are exported to stdout instead (useful for
// local development without a collector running), matching the teacher's
// "no endpoint configured" fallback.
func Setup(ctx context.Context, serviceName, otlpEndpoint string) (Shutdown, error) {
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	traceExporter, err := newTraceExporter(ctx, otlpEndpoint)
	if err != nil {
		return nil, fmt.Errorf("telemetry: new trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return func(shutdownCtx context.Context) error {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return mp.Shutdown(shutdownCtx)
	}, nil
}

func newTraceExporter(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error) {
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		return stdouttrace.New(stdouttrace.WithoutTimestamps())
	}
	return otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
}
