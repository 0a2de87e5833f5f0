package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/tripsaga/libs/db"
	"github.com/md-rashed-zaman/tripsaga/libs/events"
	"github.com/md-rashed-zaman/tripsaga/libs/metrics"
	otelx "github.com/md-rashed-zaman/tripsaga/libs/otel"
)

// Publisher enqueues integration events into the caller's transaction.
type Publisher struct {
	store    Store
	registry *events.Registry
	metrics  *metrics.Messaging
	now      func() time.Time
}

func NewPublisher(store Store, registry *events.Registry, m *metrics.Messaging) *Publisher {
	return &Publisher{
		store:    store,
		registry: registry,
		metrics:  m,
		now:      time.Now,
	}
}

// Publish stages evt on tx. It does no broker I/O and never commits; the
// row becomes durable together with the caller's other writes.
func (p *Publisher) Publish(ctx context.Context, tx db.Tx, aggregateID string, evt events.Event) (Message, error) {
	tag, payload, err := p.registry.Encode(evt)
	if err != nil {
		return Message{}, err
	}

	trace := otelx.Capture(ctx)
	msg := Message{
		ID:          uuid.New(),
		Type:        tag,
		AggregateID: aggregateID,
		Content:     payload,
		CreatedAt:   p.now().UTC(),
		Traceparent: trace.Traceparent,
		Tracestate:  trace.Tracestate,
	}
	if err := p.store.Insert(ctx, tx, msg); err != nil {
		return Message{}, fmt.Errorf("outbox insert %s: %w", tag, err)
	}
	p.metrics.OutboxEnqueued(tag)
	return msg, nil
}
