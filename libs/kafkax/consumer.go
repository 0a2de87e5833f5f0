package kafkax

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/md-rashed-zaman/tripsaga/libs/messaging"
	"github.com/md-rashed-zaman/tripsaga/libs/metrics"
	"github.com/md-rashed-zaman/tripsaga/libs/runtime"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	HeaderDeadLetterError  = "dead_letter_error"
	HeaderDeadLetterSource = "dead_letter_source"
)

type ConsumerConfig struct {
	Brokers        []string
	GroupID        string
	Topic          string
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// DeadLetter routes messages that exhausted their attempts to
	// "<topic>.dlq". When false they are logged and skipped.
	DeadLetter bool
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads one topic in a consumer group. Offsets are committed only
// after the handler succeeded or the message was dead-lettered, so a crash
// mid-handling means redelivery.
type Consumer struct {
	reader  messageReader
	dlq     messageWriter
	logger  *slog.Logger
	handler messaging.Handler
	cfg     ConsumerConfig
	metrics *metrics.Messaging
	tracer  trace.Tracer
}

func NewConsumer(logger *slog.Logger, cfg ConsumerConfig, handler messaging.Handler, m *metrics.Messaging) *Consumer {
	cfg = cfg.withDefaults()
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	var dlq messageWriter
	if cfg.DeadLetter {
		dlq = &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic + ".dlq",
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		}
	}
	return newConsumer(reader, dlq, logger, cfg, handler, m)
}

func newConsumer(reader messageReader, dlq messageWriter, logger *slog.Logger, cfg ConsumerConfig, handler messaging.Handler, m *metrics.Messaging) *Consumer {
	return &Consumer{
		reader:  reader,
		dlq:     dlq,
		logger:  logger.With("topic", cfg.Topic, "group_id", cfg.GroupID),
		handler: handler,
		cfg:     cfg.withDefaults(),
		metrics: m,
		tracer:  otel.Tracer("kafka"),
	}
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 200 * time.Millisecond
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = 5 * time.Second
	}
	return c
}

func (c *Consumer) Run(ctx context.Context) {
	defer func() {
		_ = c.reader.Close()
		if c.dlq != nil {
			_ = c.dlq.Close()
		}
	}()

	c.logger.Info("kafka consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			if !sleep(ctx, time.Second) {
				return
			}
			continue
		}

		for {
			err := c.handle(ctx, msg)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("message not settled; retrying", "err", err, "offset", msg.Offset)
			if !sleep(ctx, c.cfg.MaxBackoff) {
				return
			}
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit failed", "err", err, "offset", msg.Offset)
		}
	}
}

// handle runs the handler with bounded retries. It returns nil once the
// message is settled: handled, or parked on the dead-letter topic.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	env := EnvelopeFromMessage(msg)

	msgCtx := ContextFromMessage(ctx, msg)
	msgCtx, span := c.tracer.Start(msgCtx, "kafka.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.String("messaging.message_id", env.ID),
		),
	)
	defer span.End()

	logger := c.logger.With(
		"message_id", env.ID,
		"message_type", env.Type,
		"correlation_id", env.CorrelationID,
		"partition", msg.Partition,
		"offset", msg.Offset,
	)
	msgCtx = runtime.WithLogger(msgCtx, logger)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.InitialBackoff
	policy.MaxInterval = c.cfg.MaxBackoff

	attempts := 0
	_, err := backoff.Retry(msgCtx, func() (struct{}, error) {
		attempts++
		err := c.handler(msgCtx, env)
		if err != nil && messaging.IsPermanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("handler failed; retrying", "err", err, "attempt", attempts, "backoff", next.String())
		}),
	)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "handler failed")
	logger.Error("message handling failed", "err", err, "attempts", attempts)
	return c.deadLetter(msgCtx, logger, msg, err)
}

func (c *Consumer) deadLetter(ctx context.Context, logger *slog.Logger, msg kafka.Message, cause error) error {
	if c.dlq == nil {
		logger.Error("message skipped (dead letter disabled)", "payload", string(msg.Value))
		return nil
	}

	headers := make([]kafka.Header, 0, len(msg.Headers)+2)
	headers = append(headers, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: HeaderDeadLetterError, Value: []byte(cause.Error())},
		kafka.Header{Key: HeaderDeadLetterSource, Value: []byte(fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset))},
	)
	if err := c.dlq.WriteMessages(ctx, kafka.Message{Key: msg.Key, Value: msg.Value, Headers: headers}); err != nil {
		return fmt.Errorf("dead letter write: %w", err)
	}
	c.metrics.DeadLettered(msg.Topic)
	logger.Warn("message dead-lettered", "dlq_topic", c.cfg.Topic+".dlq")
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
