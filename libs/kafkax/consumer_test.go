package kafkax

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/tripsaga/libs/messaging"
	"github.com/md-rashed-zaman/tripsaga/libs/runtime"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func testConsumer(dlq messageWriter, handler messaging.Handler) *Consumer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return newConsumer(nil, dlq, logger, ConsumerConfig{
		Topic:          "booking.created.v1",
		GroupID:        "hotel-service",
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		DeadLetter:     dlq != nil,
	}, handler, nil)
}

func inbound() kafka.Message {
	return kafka.Message{
		Topic: "booking.created.v1",
		Key:   []byte("booking-7"),
		Value: []byte(`{"booking_id":"b"}`),
		Headers: []kafka.Header{
			{Key: HeaderEventID, Value: []byte("msg-1")},
			{Key: HeaderEventType, Value: []byte("booking.created.v1")},
		},
	}
}

func TestHandle_SuccessPassesEnvelopeAndScopedLogger(t *testing.T) {
	var got messaging.Envelope
	var scoped bool
	c := testConsumer(&recordingWriter{}, func(ctx context.Context, env messaging.Envelope) error {
		got = env
		scoped = runtime.Logger(ctx) != slog.Default()
		return nil
	})

	require.NoError(t, c.handle(context.Background(), inbound()))
	require.Equal(t, "msg-1", got.ID)
	require.Equal(t, "booking-7", got.CorrelationID)
	require.True(t, scoped)
}

func TestHandle_TransientErrorsRetryThenDeadLetter(t *testing.T) {
	dlq := &recordingWriter{}
	attempts := 0
	c := testConsumer(dlq, func(context.Context, messaging.Envelope) error {
		attempts++
		return errors.New("db timeout")
	})

	require.NoError(t, c.handle(context.Background(), inbound()))
	require.Equal(t, 3, attempts)
	require.Len(t, dlq.msgs, 1)
	require.Equal(t, "db timeout", HeaderValue(dlq.msgs[0].Headers, HeaderDeadLetterError))
	require.Equal(t, "msg-1", HeaderValue(dlq.msgs[0].Headers, HeaderEventID))
}

func TestHandle_PermanentErrorSkipsRetries(t *testing.T) {
	dlq := &recordingWriter{}
	attempts := 0
	c := testConsumer(dlq, func(context.Context, messaging.Envelope) error {
		attempts++
		return messaging.Permanent(errors.New("bad payload"))
	})

	require.NoError(t, c.handle(context.Background(), inbound()))
	require.Equal(t, 1, attempts)
	require.Len(t, dlq.msgs, 1)
}

func TestHandle_UnsettledWhenDeadLetterWriteFails(t *testing.T) {
	dlq := &recordingWriter{err: errors.New("kafka down")}
	c := testConsumer(dlq, func(context.Context, messaging.Envelope) error {
		return messaging.Permanent(errors.New("bad payload"))
	})

	require.Error(t, c.handle(context.Background(), inbound()))
}

func TestHandle_RecoversAfterTransientError(t *testing.T) {
	dlq := &recordingWriter{}
	attempts := 0
	c := testConsumer(dlq, func(context.Context, messaging.Envelope) error {
		attempts++
		if attempts < 2 {
			return errors.New("serialization failure")
		}
		return nil
	})

	require.NoError(t, c.handle(context.Background(), inbound()))
	require.Equal(t, 2, attempts)
	require.Empty(t, dlq.msgs)
}

func TestHandle_LogLinesNameTheTopicOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	c := newConsumer(nil, &recordingWriter{}, logger, ConsumerConfig{
		Topic:          "booking.failed.v1",
		GroupID:        "car-service",
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		DeadLetter:     true,
	}, func(ctx context.Context, _ messaging.Envelope) error {
		runtime.Logger(ctx).Info("handling")
		return errors.New("db timeout")
	}, nil)

	require.NoError(t, c.handle(context.Background(), inbound()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	for _, line := range lines {
		require.Equal(t, 1, strings.Count(line, `"topic":`), line)
	}
}
