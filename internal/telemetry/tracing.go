package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerProviderConfig configures NewTracerProvider.
type TracerProviderConfig struct {
	// ServiceName is attached to every span's resource attributes.
	ServiceName string
	// Writer receives exported spans as JSON. Defaults to io.Discard when nil,
	// which keeps span creation overhead but drops output (serve passes
	// os.Stderr when it enables tracing).
	Writer io.Writer
}

// NewTracerProvider builds an SDK TracerProvider exporting spans as JSON to
// cfg.Writer. Call Shutdown on the returned provider before process exit to
// flush pending spans.
func NewTracerProvider(cfg TracerProviderConfig) (*sdktrace.TracerProvider, error) {
	if cfg.Writer == nil {
		cfg.Writer = io.Discard
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "rulecore"
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(cfg.Writer), stdouttrace.WithoutTimestamps())
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// Tracer returns the named tracer from the global TracerProvider. Call
// NewTracerProvider first so spans are actually exported rather than
// discarded by the SDK's no-op default.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartSpan is a thin convenience wrapper so callers (the serve command's
// refresh loop) don't need to import go.opentelemetry.io/otel/trace directly.
func StartSpan(ctx context.Context, tracerName, spanName string) (context.Context, trace.Span) {
	return Tracer(tracerName).Start(ctx, spanName)
}
