// Package telemetry initializes the node's OpenTelemetry tracer provider,
// adapted from the teacher's common/tracing package: one OTLP/gRPC
// exporter, batched spans, globally registered so internal/broker's header
// carrier can inject/extract context without the call sites knowing about
// the exporter.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// Resource carries the node's identity into every exported span, beyond the
// bare service name: which exchange it bridges and which deployment
// environment it runs in, so spans from a dev node and a prod node are
// distinguishable downstream without parsing service name suffixes.
type Resource struct {
	ServiceName string
	Environment string
	Exchange    string
}

// InitTracer registers a global TracerProvider exporting to
// OTEL_EXPORTER_OTLP_ENDPOINT (default localhost:4317). The returned func
// flushes pending spans; call it via defer in main.
func InitTracer(res Resource, logger *slog.Logger) (func(), error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create otlp trace exporter: %w", err)
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(res.ServiceName),
		semconv.ServiceVersion("v1.0.0"),
		semconv.DeploymentEnvironment(res.Environment),
		attribute.String("exchange.name", res.Exchange),
	}
	resourceAttrs := resource.NewWithAttributes(semconv.SchemaURL, attrs...)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resourceAttrs),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	logger.Info("tracer initialized",
		slog.String("endpoint", endpoint),
		slog.String("service", res.ServiceName),
		slog.String("environment", res.Environment),
		slog.String("exchange", res.Exchange),
	)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("tracer shutdown failed", slog.Any("error", err))
		}
	}, nil
}
