package reservation

import (
	"context"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/tripsaga/libs/db"
)

// Repository persists reservations. ForBooking locks the row for the
// remainder of tx.
type Repository interface {
	Insert(ctx context.Context, tx db.Tx, r Reservation) error
	Update(ctx context.Context, tx db.Tx, r Reservation) error
	ForBooking(ctx context.Context, tx db.Tx, bookingID uuid.UUID) (Reservation, error)
	Get(ctx context.Context, id uuid.UUID) (Reservation, error)
	GetByBooking(ctx context.Context, bookingID uuid.UUID) (Reservation, error)
}
