// Package outbox stores integration events in the producer's own database,
// inside the business transaction, and relays them to the broker afterwards.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/tripsaga/libs/db"
	"github.com/md-rashed-zaman/tripsaga/libs/messaging"
)

// Message is one outbox row.
type Message struct {
	ID          uuid.UUID
	Type        string
	AggregateID string
	Content     []byte
	CreatedAt   time.Time
	ProcessedAt *time.Time
	Error       string
	RetryCount  int
	Traceparent string
	Tracestate  string
}

// Pending reports whether the processor may still pick the row up.
func (m Message) Pending(maxRetry int) bool {
	return m.ProcessedAt == nil && m.RetryCount < maxRetry
}

// Failed reports whether the row is parked for operator inspection.
func (m Message) Failed(maxRetry int) bool {
	return m.ProcessedAt == nil && m.RetryCount >= maxRetry
}

func (m Message) Envelope() messaging.Envelope {
	return messaging.Envelope{
		ID:            m.ID.String(),
		Type:          m.Type,
		Key:           m.AggregateID,
		CorrelationID: m.AggregateID,
		Payload:       m.Content,
	}
}

// Store persists outbox rows. Insert only stages the row on tx; it becomes
// visible when the caller commits.
type Store interface {
	Insert(ctx context.Context, tx db.Tx, msg Message) error
	// ClaimPending returns up to limit pending rows, oldest first, locked
	// against concurrent processors until tx ends.
	ClaimPending(ctx context.Context, tx db.Tx, limit, maxRetry int) ([]Message, error)
	SaveOutcomes(ctx context.Context, tx db.Tx, msgs []Message) error
	ListFailed(ctx context.Context, maxRetry, limit int) ([]Message, error)
}

// Broker delivers an envelope to the message transport.
type Broker interface {
	Publish(ctx context.Context, env messaging.Envelope) error
}
