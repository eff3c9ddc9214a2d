package telemetry

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

/*
LEARNING: JAEGER INTEGRATION FOR DISTRIBUTED TRACING

  App -> OpenTelemetry SDK -> Jaeger Exporter -> Jaeger Collector -> Jaeger UI

Every socket handshake and every inbound collaboration frame becomes a span,
so a slow save or a rejected lock can be followed back to the frame that
caused it. With no endpoint configured the global no-op provider stays in
place and spans cost next to nothing.
*/

// InitJaeger initializes the Jaeger exporter, keeping sampleRatio of the
// root traces. Returns a cleanup function that should be called on shutdown.
func InitJaeger(serviceName, jaegerEndpoint string, sampleRatio float64) (func(context.Context) error, error) {
	if jaegerEndpoint == "" {
		log.Info("Tracing disabled, no Jaeger endpoint configured")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := jaeger.New(
		jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerEndpoint)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	// Learning: ParentBased keeps a trace whole when the caller already sampled it.
	// Cursor frames are chatty, so busy deployments sample a fraction.
	root := sdktrace.AlwaysSample()
	if sampleRatio < 1 {
		root = sdktrace.TraceIDRatioBased(sampleRatio)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(root)),
	)
	otel.SetTracerProvider(tp)

	log.Info("✓ Jaeger tracing initialized", "endpoint", jaegerEndpoint, "service", serviceName, "sample_ratio", sampleRatio)
	return tp.Shutdown, nil
}
