package trace

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentRender creates the root span of one workout render
func InstrumentRender(ctx context.Context, requestID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String(AttrRequestID, requestID))
	return StartSpan(ctx, "workout.render", trace.WithAttributes(attrs...))
}

// InstrumentStage creates a span for one pipeline stage
func InstrumentStage(ctx context.Context, stage string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("stage.%s", stage),
		trace.WithAttributes(
			attribute.String(AttrStage, stage),
		),
	)
}

// InstrumentTTSRequest creates a span for TTS (Text-to-Speech) requests
func InstrumentTTSRequest(ctx context.Context, provider string, index int, text string) (context.Context, trace.Span) {
	return StartSpan(ctx, "tts.request",
		trace.WithAttributes(
			attribute.String(AttrTTSProvider, provider),
			attribute.Int(AttrInstrIndex, index),
			attribute.Int("text.length", len(text)),
		),
	)
}

// InstrumentStrategyAttempt creates a span for one background acquisition attempt
func InstrumentStrategyAttempt(ctx context.Context, strategy, source string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("background.%s", strategy),
		trace.WithAttributes(
			attribute.String(AttrStrategy, strategy),
			attribute.String(AttrSource, source),
		),
	)
}
