package telemetry

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/agusgarcia3007/LLM-moonitor/config"
)

const ServiceName = "llm-moonitor"

// Version is overridden at build time with -ldflags.
var Version = "dev"

// Exporter builds the span exporter named by cfg.OTELExporterType: "otlp"
// sends to a collector over gRPC, "none" discards spans, anything else
// prints them to out.
func Exporter(ctx context.Context, cfg *config.Config, out io.Writer) (sdktrace.SpanExporter, error) {
	switch cfg.OTELExporterType {
	case "otlp":
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTELExporterEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
		}
		return exporter, nil
	case "none":
		return nil, nil
	default:
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(out))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}
		return exporter, nil
	}
}

// InitTracer installs the global tracer provider and returns a shutdown
// function that flushes pending spans.
func InitTracer(ctx context.Context, cfg *config.Config, out io.Writer) (func(context.Context), error) {
	exporter, err := Exporter(ctx, cfg, out)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"", // Use empty schema URL to avoid conflicts with Default()
			semconv.ServiceNameKey.String(ServiceName),
			semconv.ServiceVersionKey.String(Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	shutdown := func(ctx context.Context) {
		if err := tp.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("failed to shutdown TracerProvider")
		}
	}
	return shutdown, nil
}

func Tracer(name string) trace.Tracer {
	return otel.GetTracerProvider().Tracer(ServiceName + "/" + name)
}
