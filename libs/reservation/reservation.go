// Package reservation is the shared core of the flight, hotel and car
// services: the reservation entity, its stores, and the saga consumers that
// book and cancel it. Each leaf service plugs in its own Quoter.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/tripsaga/libs/events"
)

var (
	ErrNotFound          = errors.New("reservation not found")
	ErrInvalidTransition = errors.New("invalid reservation status transition")
)

type Status string

const (
	StatusPending   Status = "Pending"
	StatusConfirmed Status = "Confirmed"
	StatusCancelled Status = "Cancelled"
	StatusFailed    Status = "Failed"
)

// Active reports whether the reservation still holds inventory.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

// Quote is what a leaf charges for one booking. Price is in cents.
type Quote struct {
	Price   int64
	Details map[string]string
}

// Quoter prices a booking for one leaf. An error is a business refusal and
// becomes a BookingFailed event.
type Quoter interface {
	Quote(ctx context.Context, booking events.BookingCreated) (Quote, error)
}

type Reservation struct {
	ID           uuid.UUID
	BookingID    uuid.UUID
	UserID       uuid.UUID
	Step         events.StepType
	Code         string
	Status       Status
	Price        int64
	StartDate    time.Time
	EndDate      time.Time
	Details      map[string]string
	CancelReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// New builds a Pending reservation for booking priced by quote.
func New(step events.StepType, booking events.BookingCreated, quote Quote, now time.Time) Reservation {
	now = now.UTC()
	return Reservation{
		ID:        uuid.New(),
		BookingID: booking.BookingID,
		UserID:    booking.UserID,
		Step:      step,
		Code:      NewCode(step, now),
		Status:    StatusPending,
		Price:     quote.Price,
		StartDate: booking.CheckInDate,
		EndDate:   booking.CheckOutDate,
		Details:   quote.Details,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (r *Reservation) Confirm(now time.Time) error {
	if r.Status != StatusPending {
		return fmt.Errorf("%w: confirm from %s", ErrInvalidTransition, r.Status)
	}
	r.Status = StatusConfirmed
	r.UpdatedAt = now.UTC()
	return nil
}

func (r *Reservation) Cancel(reason string, now time.Time) error {
	if !r.Status.Active() {
		return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, r.Status)
	}
	r.Status = StatusCancelled
	r.CancelReason = reason
	r.UpdatedAt = now.UTC()
	return nil
}

// Fail records a refused booking so a redelivered BookingCreated finds it
// and does not try again.
func (r *Reservation) Fail(reason string, now time.Time) error {
	if r.Status != StatusPending {
		return fmt.Errorf("%w: fail from %s", ErrInvalidTransition, r.Status)
	}
	r.Status = StatusFailed
	r.CancelReason = reason
	r.UpdatedAt = now.UTC()
	return nil
}

// NewCode returns a confirmation code such as FL20260501120000A1B2C3.
func NewCode(step events.StepType, now time.Time) string {
	return codePrefix(step) + now.UTC().Format("20060102150405") + strings.ToUpper(uuid.NewString()[:6])
}

func codePrefix(step events.StepType) string {
	switch step {
	case events.StepFlight:
		return "FL"
	case events.StepHotel:
		return "HT"
	case events.StepCar:
		return "CR"
	default:
		return "XX"
	}
}
