// Package inbox deduplicates inbound messages per consumer. A message id is
// recorded in the same transaction as the handler's writes, so a redelivered
// message either finds the record and is skipped, or finds nothing because
// the first attempt rolled back.
package inbox

import (
	"context"
	"errors"
	"time"

	"github.com/md-rashed-zaman/tripsaga/libs/db"
	"github.com/md-rashed-zaman/tripsaga/libs/messaging"
)

// ErrDuplicate is returned by Store.Insert, or by the commit, when the
// (message id, consumer type) pair is already recorded.
var ErrDuplicate = errors.New("inbox: message already processed")

type Message struct {
	MessageID    string
	ConsumerType string
	ProcessedAt  time.Time
}

type Store interface {
	Exists(ctx context.Context, tx db.Tx, messageID, consumerType string) (bool, error)
	Insert(ctx context.Context, tx db.Tx, msg Message) error
}

// Handler applies one message inside tx. It must not commit or roll back.
type Handler func(ctx context.Context, tx db.Tx, env messaging.Envelope) error
