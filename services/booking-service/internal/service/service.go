// Package service runs booking commands in a transaction together with the
// outbox events they produce.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/tripsaga/libs/db"
	"github.com/md-rashed-zaman/tripsaga/libs/outbox"
	"github.com/md-rashed-zaman/tripsaga/libs/runtime"
	"github.com/md-rashed-zaman/tripsaga/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/tripsaga/services/booking-service/internal/metrics"
)

type Service struct {
	uow         db.UnitOfWork
	repo        booking.Repository
	publisher   *outbox.Publisher
	compensator *Compensator
	metrics     *metrics.Booking
	now         func() time.Time
}

func New(uow db.UnitOfWork, repo booking.Repository, publisher *outbox.Publisher, compensator *Compensator, m *metrics.Booking) *Service {
	return &Service{
		uow:         uow,
		repo:        repo,
		publisher:   publisher,
		compensator: compensator,
		metrics:     m,
		now:         time.Now,
	}
}

// Create stores a new booking and enqueues BookingCreated in one commit.
// When p carries an idempotency key the user already used, the existing
// booking is returned with created=false.
func (s *Service) Create(ctx context.Context, p booking.Params) (b *booking.Booking, created bool, err error) {
	if p.IdempotencyKey != "" {
		existing, err := s.repo.ByIdempotencyKey(ctx, p.UserID, p.IdempotencyKey)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, booking.ErrNotFound) {
			return nil, false, err
		}
	}

	now := s.now()
	b, err = booking.New(p, now)
	if err != nil {
		return nil, false, err
	}

	err = db.WithinTx(ctx, s.uow, func(ctx context.Context, tx db.Tx) error {
		b.Start(now)
		if err := s.repo.Insert(ctx, tx, b); err != nil {
			return err
		}
		_, err := s.publisher.Publish(ctx, tx, b.ID.String(), b.Created())
		return err
	})
	if errors.Is(err, booking.ErrDuplicateKey) {
		existing, err := s.repo.ByIdempotencyKey(ctx, p.UserID, p.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	s.metrics.Created(b.IncludeFlights, b.IncludeHotel, b.IncludeCar)
	return b, true, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*booking.Booking, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, userID uuid.UUID, limit int) ([]*booking.Booking, error) {
	return s.repo.ListByUser(ctx, userID, limit)
}

// Cancel aborts the booking and requests compensation of every completed
// step. Cancelling a cancelled booking returns it unchanged.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*booking.Booking, error) {
	var (
		b           *booking.Booking
		changed     bool
		wasInFlight bool
	)
	err := db.WithinTx(ctx, s.uow, func(ctx context.Context, tx db.Tx) error {
		var err error
		b, err = s.repo.ForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if b.Status == booking.StatusCancelled {
			return nil
		}
		wasInFlight = b.Status != booking.StatusConfirmed
		err = b.Cancel(ctx, reason, s.compensator.For(tx), s.now())
		if errors.Is(err, booking.ErrCompensationIncomplete) {
			runtime.Logger(ctx).Error("booking cancelled with steps left uncompensated",
				"booking_id", b.ID.String(), "err", err)
		} else if err != nil {
			return err
		}
		changed = true
		return s.repo.Update(ctx, tx, b)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.metrics.Cancelled(wasInFlight)
	}
	return b, nil
}
