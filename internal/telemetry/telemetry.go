// Package telemetry configures the orchestrator's OpenTelemetry tracing:
// one span per phase (§4.7) and one child span per file in the copy/verify
// pipeline (§4.4), exported via OTLP/gRPC when an endpoint is configured.
// This is additive observability; no code outside this package depends on
// a collector being reachable (SPEC_FULL.md's Observability module).
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config controls whether tracing is enabled and where spans are exported.
type Config struct {
	// Endpoint is the OTLP/gRPC collector address. Empty disables tracing
	// entirely (a no-op tracer is installed).
	Endpoint string

	ServiceName    string
	ServiceVersion string
}

var (
	mu             sync.Mutex
	tracer         trace.Tracer = noop.NewTracerProvider().Tracer("imageintact")
	tracerProvider *sdktrace.TracerProvider
)

// Init installs the global tracer per cfg and returns a shutdown function
// that flushes and closes the exporter. Callers that never call Init get a
// no-op tracer for free.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	mu.Lock()
	tracerProvider = tp
	tracer = tp.Tracer(cfg.ServiceName)
	mu.Unlock()

	return func(shutdownCtx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(shutdownCtx, 5*time.Second)
		defer cancel()

		return tp.Shutdown(shutdownCtx)
	}, nil
}

// Tracer returns the currently installed tracer (no-op until Init is
// called with a non-empty endpoint).
func Tracer() trace.Tracer {
	mu.Lock()
	defer mu.Unlock()

	return tracer
}

// StartPhase opens a span for one orchestrator phase (§4.7), named after
// the phase's string form.
func StartPhase(ctx context.Context, phase string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "phase."+phase)
}

// StartFile opens a span for one (entry, destination) pass through the
// copy/verify pipeline (§4.4).
func StartFile(ctx context.Context, relPath, destMount string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "pipeline.process", trace.WithAttributes(
		attribute.String("imageintact.relative_path", relPath),
		attribute.String("imageintact.destination", destMount),
	))
}
