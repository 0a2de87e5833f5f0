package kafkax

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/tripsaga/libs/messaging"
	"github.com/segmentio/kafka-go"
)

// Producer publishes envelopes to Kafka. It is the outbox processor's broker.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			// The outbox publishes row by row and waits for each ack.
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (p *Producer) Publish(ctx context.Context, env messaging.Envelope) error {
	return p.writer.WriteMessages(ctx, MessageFromEnvelope(ctx, env))
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
