package booking

import (
	"context"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/tripsaga/libs/db"
)

type Repository interface {
	Insert(ctx context.Context, tx db.Tx, b *Booking) error
	Update(ctx context.Context, tx db.Tx, b *Booking) error
	// ForUpdate loads the booking and holds its row lock until tx ends.
	ForUpdate(ctx context.Context, tx db.Tx, id uuid.UUID) (*Booking, error)
	Get(ctx context.Context, id uuid.UUID) (*Booking, error)
	ByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*Booking, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*Booking, error)
}
