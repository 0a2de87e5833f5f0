package kafkax

import (
	"context"
	"testing"

	"github.com/md-rashed-zaman/tripsaga/libs/messaging"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestEnvelopeMessageRoundTrip(t *testing.T) {
	env := messaging.Envelope{
		ID:            "2b1f7c1e-0000-4000-8000-000000000001",
		Type:          "booking.created.v1",
		Key:           "booking-42",
		CorrelationID: "booking-42",
		Payload:       []byte(`{"booking_id":"x"}`),
		Headers:       map[string]string{"tenant": "acme"},
	}

	msg := MessageFromEnvelope(context.Background(), env)
	require.Equal(t, "booking.created.v1", msg.Topic)
	require.Equal(t, []byte("booking-42"), msg.Key)

	msg.Topic = env.Type
	got := EnvelopeFromMessage(msg)
	require.Equal(t, env, got)
}

func TestEnvelopeFromMessage_NoKeyFallbackForID(t *testing.T) {
	got := EnvelopeFromMessage(kafka.Message{Topic: "booking.failed.v1", Key: []byte("booking-1")})
	require.Empty(t, got.ID)
	require.Equal(t, "booking.failed.v1", got.Type)
	require.Equal(t, "booking-1", got.CorrelationID)
}

func TestTraceHeadersInjectAndExtract(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled,
	}))

	headers := WithTraceHeaders(ctx, []kafka.Header{{Key: HeaderEventID, Value: []byte("1")}})
	require.NotEmpty(t, HeaderValue(headers, "traceparent"))

	extracted := ContextFromMessage(context.Background(), kafka.Message{Headers: headers})
	require.Equal(t, traceID, trace.SpanContextFromContext(extracted).TraceID())
}

func TestSplitBrokers(t *testing.T) {
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, SplitBrokers(" kafka-1:9092, ,kafka-2:9092 "))
	require.Nil(t, SplitBrokers(""))
}
