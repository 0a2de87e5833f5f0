package reservation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/tripsaga/libs/db"
	"github.com/md-rashed-zaman/tripsaga/libs/events"
	"github.com/md-rashed-zaman/tripsaga/libs/inbox"
	"github.com/md-rashed-zaman/tripsaga/libs/messaging"
	"github.com/md-rashed-zaman/tripsaga/libs/outbox"
	"github.com/md-rashed-zaman/tripsaga/libs/runtime"
)

// Leaf books and cancels reservations of one step type in answer to the
// booking saga's events. Its handlers run inside the inbox transaction.
type Leaf struct {
	step      events.StepType
	repo      Repository
	quoter    Quoter
	publisher *outbox.Publisher
	metrics   *Metrics
	now       func() time.Time
}

func NewLeaf(step events.StepType, repo Repository, quoter Quoter, publisher *outbox.Publisher, m *Metrics) *Leaf {
	return &Leaf{
		step:      step,
		repo:      repo,
		quoter:    quoter,
		publisher: publisher,
		metrics:   m,
		now:       time.Now,
	}
}

func (l *Leaf) Step() events.StepType { return l.step }

// Subscriber routes a topic to an inbox handler under a consumer type.
type Subscriber interface {
	Subscribe(topic, consumerType string, h inbox.Handler)
}

// Subscribe registers the leaf's three handlers. Consumer types are scoped
// by leaf, e.g. "hotel-booking-created".
func (l *Leaf) Subscribe(s Subscriber) {
	prefix := strings.ToLower(l.step.String()) + "-"
	s.Subscribe(events.TypeBookingCreated, prefix+"booking-created", l.HandleBookingCreated)
	s.Subscribe(events.TypeBookingFailed, prefix+"booking-failed", l.HandleBookingFailed)
	s.Subscribe(events.TypeBookingStepCompensationRequested, prefix+"compensation-requested", l.HandleCompensationRequested)
}

// HandleBookingCreated reserves this leaf's part of a booking and answers
// with BookingStepCompleted. A refusal is stored as a Failed reservation and
// answered with BookingFailed; neither outcome is an error for the broker.
func (l *Leaf) HandleBookingCreated(ctx context.Context, tx db.Tx, env messaging.Envelope) error {
	evt, err := events.Decode[events.BookingCreated](env.Payload)
	if err != nil {
		return messaging.Permanent(err)
	}
	if !evt.Includes(l.step) {
		return nil
	}
	logger := runtime.Logger(ctx).With("booking_id", evt.BookingID.String(), "step", l.step.String())

	existing, err := l.repo.ForBooking(ctx, tx, evt.BookingID)
	switch {
	case err == nil:
		logger.Info("reservation already exists", "reservation_id", existing.ID.String(), "status", string(existing.Status))
		return nil
	case !errors.Is(err, ErrNotFound):
		return err
	}

	start := time.Now()
	var res Reservation
	err = db.InSavepoint(ctx, tx, func(ctx context.Context, sp db.Tx) error {
		var reserveErr error
		res, reserveErr = l.reserve(ctx, sp, evt)
		return reserveErr
	})
	if err == nil {
		l.metrics.Confirmed(l.step, res.Price, time.Since(start))
		logger.Info("reservation confirmed", "reservation_id", res.ID.String(), "code", res.Code, "price", res.Price)
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	logger.Warn("reservation refused", "err", err)
	if err := l.recordFailure(ctx, tx, evt, err.Error()); err != nil {
		return err
	}
	l.metrics.Failed(l.step, time.Since(start))
	return nil
}

func (l *Leaf) reserve(ctx context.Context, tx db.Tx, evt events.BookingCreated) (Reservation, error) {
	quote, err := l.quoter.Quote(ctx, evt)
	if err != nil {
		return Reservation{}, err
	}
	now := l.now()
	res := New(l.step, evt, quote, now)
	if err := res.Confirm(now); err != nil {
		return Reservation{}, err
	}
	if err := l.repo.Insert(ctx, tx, res); err != nil {
		return Reservation{}, err
	}
	_, err = l.publisher.Publish(ctx, tx, evt.BookingID.String(), events.BookingStepCompleted{
		BookingID:        evt.BookingID,
		StepType:         l.step,
		ExternalID:       res.ID,
		Price:            res.Price,
		ConfirmationCode: res.Code,
	})
	if err != nil {
		return Reservation{}, err
	}
	return res, nil
}

func (l *Leaf) recordFailure(ctx context.Context, tx db.Tx, evt events.BookingCreated, reason string) error {
	now := l.now()
	res := New(l.step, evt, Quote{}, now)
	if err := res.Fail(reason, now); err != nil {
		return err
	}
	if err := l.repo.Insert(ctx, tx, res); err != nil {
		return err
	}
	_, err := l.publisher.Publish(ctx, tx, evt.BookingID.String(), events.BookingFailed{
		BookingID: evt.BookingID,
		StepType:  l.step,
		Reason:    reason,
	})
	return err
}

// HandleBookingFailed releases this leaf's reservation when any step of the
// booking failed.
func (l *Leaf) HandleBookingFailed(ctx context.Context, tx db.Tx, env messaging.Envelope) error {
	evt, err := events.Decode[events.BookingFailed](env.Payload)
	if err != nil {
		return messaging.Permanent(err)
	}
	return l.cancel(ctx, tx, evt.BookingID, "booking failed at "+evt.StepType.String()+": "+evt.Reason)
}

// HandleCompensationRequested undoes this leaf's step of a failed or
// cancelled booking. Requests for other steps are ignored.
func (l *Leaf) HandleCompensationRequested(ctx context.Context, tx db.Tx, env messaging.Envelope) error {
	evt, err := events.Decode[events.BookingStepCompensationRequested](env.Payload)
	if err != nil {
		return messaging.Permanent(err)
	}
	if evt.StepType != l.step {
		return nil
	}
	return l.cancel(ctx, tx, evt.BookingID, evt.Reason)
}

func (l *Leaf) cancel(ctx context.Context, tx db.Tx, bookingID uuid.UUID, reason string) error {
	logger := runtime.Logger(ctx).With("booking_id", bookingID.String(), "step", l.step.String())

	res, err := l.repo.ForBooking(ctx, tx, bookingID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !res.Status.Active() {
		return nil
	}

	if err := res.Cancel(reason, l.now()); err != nil {
		return err
	}
	if err := l.repo.Update(ctx, tx, res); err != nil {
		return err
	}
	l.metrics.Cancelled(l.step)
	logger.Info("reservation cancelled", "reservation_id", res.ID.String(), "reason", reason)
	return nil
}
