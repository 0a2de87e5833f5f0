package otelx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceHeaders_SurviveRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	h := Capture(ctx)
	require.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", h.Traceparent)

	restored := trace.SpanContextFromContext(h.Restore(context.Background()))
	require.Equal(t, traceID, restored.TraceID())
	require.Equal(t, spanID, restored.SpanID())
	require.True(t, restored.IsRemote())
}

func TestTraceHeaders_EmptyWithoutSpan(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	h := Capture(context.Background())
	require.Empty(t, h.Traceparent)

	ctx := context.Background()
	require.Equal(t, ctx, h.Restore(ctx))
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "false")
	t.Setenv("OTEL_SAMPLING_RATIO", "0.25")
	t.Setenv("DEPLOYMENT_ENV", "staging")

	cfg := ConfigFromEnv("booking-service")
	require.False(t, cfg.Enabled)
	require.Equal(t, 0.25, cfg.SampleRatio)
	require.Equal(t, "staging", cfg.Environment)
	require.Equal(t, "booking-service", cfg.ServiceName)

	t.Setenv("OTEL_SAMPLING_RATIO", "7")
	require.Equal(t, 1.0, ConfigFromEnv("x").SampleRatio)
}
