// Package consumers applies the leaves' replies to bookings. Every handler
// runs inside the inbox transaction and locks the booking row first, so
// concurrent replies for one booking are applied one at a time.
package consumers

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/tripsaga/libs/db"
	"github.com/md-rashed-zaman/tripsaga/libs/events"
	"github.com/md-rashed-zaman/tripsaga/libs/messaging"
	"github.com/md-rashed-zaman/tripsaga/libs/runtime"
	"github.com/md-rashed-zaman/tripsaga/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/tripsaga/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/tripsaga/services/booking-service/internal/service"
)

const (
	StepCompletedConsumer = "booking-step-completed"
	BookingFailedConsumer = "booking-failed"
)

type Consumers struct {
	repo        booking.Repository
	compensator *service.Compensator
	metrics     *metrics.Booking
	now         func() time.Time
}

func New(repo booking.Repository, compensator *service.Compensator, m *metrics.Booking) *Consumers {
	return &Consumers{
		repo:        repo,
		compensator: compensator,
		metrics:     m,
		now:         time.Now,
	}
}

func (c *Consumers) StepCompleted(ctx context.Context, tx db.Tx, env messaging.Envelope) error {
	evt, err := events.Decode[events.BookingStepCompleted](env.Payload)
	if err != nil {
		return messaging.Permanent(err)
	}
	logger := runtime.Logger(ctx).With("booking_id", evt.BookingID.String(), "step", evt.StepType.String())

	b, err := c.lock(ctx, tx, evt.BookingID)
	if err != nil {
		return err
	}

	now := c.now()
	outcome, err := b.CompleteStep(ctx, booking.Completion{
		Step:             evt.StepType,
		ExternalID:       evt.ExternalID,
		Price:            evt.Price,
		ConfirmationCode: evt.ConfirmationCode,
	}, c.compensator.For(tx), now)
	if errors.Is(err, booking.ErrStepNotRequested) || errors.Is(err, booking.ErrInvalidCompletion) {
		return messaging.Permanent(err)
	}
	if err != nil {
		return err
	}
	if outcome == booking.OutcomeDuplicate {
		logger.Info("step already recorded")
		return nil
	}
	if err := c.repo.Update(ctx, tx, b); err != nil {
		return err
	}

	c.metrics.StepCompleted(evt.StepType)
	switch outcome {
	case booking.OutcomeConfirmed:
		c.metrics.Confirmed(b.TotalPrice, now.Sub(b.CreatedAt))
		logger.Info("booking confirmed", "reference_number", b.ReferenceNumber, "total_price", b.TotalPrice)
	case booking.OutcomeCompensated:
		logger.Warn("step completed after booking ended; compensated", "status", string(b.Status))
	default:
		logger.Info("step recorded", "phase", string(b.Phase()))
	}
	return nil
}

func (c *Consumers) BookingFailed(ctx context.Context, tx db.Tx, env messaging.Envelope) error {
	evt, err := events.Decode[events.BookingFailed](env.Payload)
	if err != nil {
		return messaging.Permanent(err)
	}
	logger := runtime.Logger(ctx).With("booking_id", evt.BookingID.String(), "step", evt.StepType.String())

	b, err := c.lock(ctx, tx, evt.BookingID)
	if err != nil {
		return err
	}

	wasTerminal := b.Status.Terminal()
	now := c.now()
	err = b.FailStep(ctx, evt.StepType, evt.Reason, c.compensator.For(tx), now)
	switch {
	case errors.Is(err, booking.ErrStepNotRequested):
		return messaging.Permanent(err)
	case errors.Is(err, booking.ErrCompensationIncomplete):
		logger.Error("booking failed with steps left uncompensated", "err", err)
	case err != nil:
		return err
	}
	if err := c.repo.Update(ctx, tx, b); err != nil {
		return err
	}

	if !wasTerminal && b.Status == booking.StatusFailed {
		c.metrics.Failed(evt.StepType, now.Sub(b.CreatedAt))
		logger.Warn("booking failed",
			"reason", evt.Reason,
			"compensated_steps", b.CompensatedSteps,
		)
	}
	return nil
}

// lock maps a missing booking to a permanent error: the reply refers to a
// booking this service never committed.
func (c *Consumers) lock(ctx context.Context, tx db.Tx, id uuid.UUID) (*booking.Booking, error) {
	b, err := c.repo.ForUpdate(ctx, tx, id)
	if errors.Is(err, booking.ErrNotFound) {
		runtime.Logger(ctx).Error("reply for unknown booking", "booking_id", id.String())
		return nil, messaging.Permanent(err)
	}
	return b, err
}
