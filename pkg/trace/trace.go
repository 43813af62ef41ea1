// Package trace wires OpenTelemetry for renders: one span per render, one
// per stage, and child spans for TTS calls and background strategy attempts.
package trace

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/realtime-ai/workout-audio"

// Exporters accepted by Config.Exporter.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

var (
	mu       sync.RWMutex
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
)

// Config selects where spans go. Environment handling lives in pkg/config.
type Config struct {
	Service      string
	Version      string
	Exporter     string    // "none", "stdout" or "otlp"
	OTLPEndpoint string    // host:port of an OTLP/gRPC collector
	Writer       io.Writer // stdout exporter output, stderr when nil
}

// DefaultConfig records spans without exporting them.
func DefaultConfig() *Config {
	return &Config{
		Service:      "workout-audio",
		Version:      "dev",
		Exporter:     ExporterNone,
		OTLPEndpoint: "localhost:4317",
	}
}

func newExporter(ctx context.Context, cfg *Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case ExporterNone, "":
		return nil, nil
	case ExporterStdout:
		// stdout may carry rendered audio, so spans default to stderr.
		w := cfg.Writer
		if w == nil {
			w = os.Stderr
		}
		return stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	case ExporterOTLP:
		return otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported trace exporter %q", cfg.Exporter)
	}
}

// Initialize installs the global tracer provider. With the "none" exporter
// spans still get IDs, so request logs can carry trace_id.
func Initialize(ctx context.Context, cfg *Config) error {
	mu.Lock()
	defer mu.Unlock()
	if provider != nil {
		return fmt.Errorf("tracing already initialized")
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create %s exporter: %w", cfg.Exporter, err)
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.Service),
		semconv.ServiceVersion(cfg.Version),
	))
	if err != nil {
		return fmt.Errorf("build trace resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	provider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	tracer = provider.Tracer(instrumentationName)
	return nil
}

// Shutdown flushes pending spans. It is a no-op before Initialize.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	defer mu.Unlock()
	if provider == nil {
		return nil
	}
	err := provider.Shutdown(ctx)
	provider, tracer = nil, nil
	if err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	return nil
}

// Tracer returns the active tracer, or the global no-op one before
// Initialize.
func Tracer() trace.Tracer {
	mu.RLock()
	defer mu.RUnlock()
	if tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return tracer
}

// StartSpan starts a span on the active tracer.
func StartSpan(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, spanName, opts...)
}
