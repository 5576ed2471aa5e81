// Package telemetry wires the OpenTelemetry tracer the pipeline's stage
// spans are recorded on.
package telemetry

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// InitTracer installs a global tracer provider and returns its shutdown
// function. The export mode comes from TRIAGE_TRACE: "off" disables span
// export entirely, "compact" writes one JSON object per span for log
// shippers, and anything else pretty-prints for local reading. Span
// attributes carry identifiers and timings only, never ticket content.
func InitTracer(serviceName string, logger *slog.Logger) (func(context.Context) error, error) {
	mode := os.Getenv("TRIAGE_TRACE")
	if mode == "off" {
		logger.Info("tracing disabled", slog.String("service", serviceName))
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := newExporter(mode)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(semconv.ServiceName(serviceName))),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing initialized",
		slog.String("service", serviceName),
		slog.String("mode", exportMode(mode)))
	return tp.Shutdown, nil
}

func newExporter(mode string) (sdktrace.SpanExporter, error) {
	if mode == "compact" {
		return stdouttrace.New()
	}
	return stdouttrace.New(stdouttrace.WithPrettyPrint())
}

func exportMode(mode string) string {
	if mode == "compact" {
		return "compact"
	}
	return "pretty"
}
