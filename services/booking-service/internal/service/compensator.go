package service

import (
	"context"

	"github.com/md-rashed-zaman/tripsaga/libs/db"
	"github.com/md-rashed-zaman/tripsaga/libs/events"
	"github.com/md-rashed-zaman/tripsaga/libs/outbox"
	"github.com/md-rashed-zaman/tripsaga/libs/runtime"
	"github.com/md-rashed-zaman/tripsaga/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/tripsaga/services/booking-service/internal/metrics"
)

// Compensator asks leaves to undo completed steps by enqueueing
// BookingStepCompensationRequested in the booking's own transaction.
type Compensator struct {
	publisher *outbox.Publisher
	metrics   *metrics.Booking
}

func NewCompensator(publisher *outbox.Publisher, m *metrics.Booking) *Compensator {
	return &Compensator{publisher: publisher, metrics: m}
}

// For binds the compensator to tx.
func (c *Compensator) For(tx db.Tx) booking.Compensator {
	return txCompensator{c: c, tx: tx}
}

type txCompensator struct {
	c  *Compensator
	tx db.Tx
}

// Compensate enqueues the request in its own savepoint. A failed insert
// leaves the booking transaction usable for the remaining steps.
func (t txCompensator) Compensate(ctx context.Context, b *booking.Booking, step booking.Step, reason string) error {
	err := db.InSavepoint(ctx, t.tx, func(ctx context.Context, sp db.Tx) error {
		_, err := t.c.publisher.Publish(ctx, sp, b.ID.String(), events.BookingStepCompensationRequested{
			BookingID:  b.ID,
			StepType:   step.Type,
			ExternalID: step.ExternalID,
			Reason:     reason,
		})
		return err
	})
	if err != nil {
		return err
	}
	t.c.metrics.CompensationRequested(step.Type)
	runtime.Logger(ctx).Info("compensation requested",
		"booking_id", b.ID.String(),
		"step", step.Type.String(),
		"external_id", step.ExternalID.String(),
	)
	return nil
}
