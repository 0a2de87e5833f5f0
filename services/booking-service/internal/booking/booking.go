// Package booking is the trip booking aggregate. It tracks one saga step per
// leaf (flight, hotel, car) and decides when the booking is confirmed, and
// which completed steps must be compensated when it fails or is cancelled.
package booking

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/tripsaga/libs/events"
)

var (
	ErrNotFound         = errors.New("booking not found")
	ErrStepNotRequested = errors.New("step was not requested for this booking")
	ErrNotCancellable   = errors.New("booking cannot be cancelled")
	ErrInvalidDates     = errors.New("check-out must be after check-in")
	ErrNoSteps          = errors.New("booking must include at least one of flights, hotel or car")
	ErrMissingUser      = errors.New("user id is required")

	ErrInvalidCompletion = errors.New("step completion needs an external id and a positive price")
	// ErrCompensationIncomplete wraps the compensations that could not be
	// requested. The booking still moved to its terminal status.
	ErrCompensationIncomplete = errors.New("compensation incomplete")
	// ErrDuplicateKey is returned by Repository.Insert when the user already
	// has a booking under the same idempotency key.
	ErrDuplicateKey = errors.New("idempotency key already used")
)

type Status string

const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusConfirmed  Status = "Confirmed"
	StatusFailed     Status = "Failed"
	StatusCancelled  Status = "Cancelled"
)

// Terminal reports whether no step may complete normally anymore.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusCancelled
}

type StepStatus string

const (
	StepPending     StepStatus = "Pending"
	StepInProgress  StepStatus = "InProgress"
	StepCompleted   StepStatus = "Completed"
	StepFailed      StepStatus = "Failed"
	StepCompensated StepStatus = "Compensated"
)

type Phase string

const (
	PhaseStarted        Phase = "Started"
	PhaseBookingFlights Phase = "BookingFlights"
	PhaseBookingHotel   Phase = "BookingHotel"
	PhaseBookingCar     Phase = "BookingCar"
	PhaseCompensating   Phase = "Compensating"
	PhaseCompleted      Phase = "Completed"
	PhaseFailed         Phase = "Failed"
)

type Step struct {
	Type             events.StepType `json:"type"`
	Status           StepStatus      `json:"status"`
	ExternalID       uuid.UUID       `json:"external_id"`
	Price            int64           `json:"price"`
	ConfirmationCode string          `json:"confirmation_code,omitempty"`
	Error            string          `json:"error,omitempty"`
}

// Recorded reports whether a leaf already confirmed this step.
func (s Step) Recorded() bool {
	return s.ExternalID != uuid.Nil || s.Status == StepCompleted || s.Status == StepCompensated
}

// Compensator undoes one completed step. It runs inside the transaction
// that is about to persist the booking.
type Compensator interface {
	Compensate(ctx context.Context, b *Booking, step Step, reason string) error
}

type Booking struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	ReferenceNumber  string
	Status           Status
	CheckIn          time.Time
	CheckOut         time.Time
	IncludeFlights   bool
	IncludeHotel     bool
	IncludeCar       bool
	Steps            []Step
	TotalPrice       int64
	FailureReason    string
	CompensatedSteps []events.StepType
	IdempotencyKey   string
	CreatedAt        time.Time
	UpdatedAt        time.Time

	compensating bool
}

type Params struct {
	UserID         uuid.UUID
	CheckIn        time.Time
	CheckOut       time.Time
	IncludeFlights bool
	IncludeHotel   bool
	IncludeCar     bool
	IdempotencyKey string
}

func New(p Params, now time.Time) (*Booking, error) {
	switch {
	case p.UserID == uuid.Nil:
		return nil, ErrMissingUser
	case !p.CheckOut.After(p.CheckIn):
		return nil, ErrInvalidDates
	case !p.IncludeFlights && !p.IncludeHotel && !p.IncludeCar:
		return nil, ErrNoSteps
	}

	now = now.UTC()
	b := &Booking{
		ID:              uuid.New(),
		UserID:          p.UserID,
		ReferenceNumber: NewReferenceNumber(now),
		Status:          StatusPending,
		CheckIn:         p.CheckIn.UTC(),
		CheckOut:        p.CheckOut.UTC(),
		IncludeFlights:  p.IncludeFlights,
		IncludeHotel:    p.IncludeHotel,
		IncludeCar:      p.IncludeCar,
		IdempotencyKey:  p.IdempotencyKey,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, st := range events.Steps {
		b.Steps = append(b.Steps, Step{Type: st, Status: StepPending})
	}
	return b, nil
}

// NewReferenceNumber returns e.g. BK20260501120000A1B2C3D4.
func NewReferenceNumber(now time.Time) string {
	return "BK" + now.UTC().Format("20060102150405") + strings.ToUpper(uuid.NewString()[:8])
}

func (b *Booking) Includes(step events.StepType) bool {
	switch step {
	case events.StepFlight:
		return b.IncludeFlights
	case events.StepHotel:
		return b.IncludeHotel
	case events.StepCar:
		return b.IncludeCar
	default:
		return false
	}
}

// Step returns the record for st. Every booking carries all three.
func (b *Booking) Step(st events.StepType) Step {
	if s := b.step(st); s != nil {
		return *s
	}
	return Step{Type: st, Status: StepPending}
}

func (b *Booking) step(st events.StepType) *Step {
	for i := range b.Steps {
		if b.Steps[i].Type == st {
			return &b.Steps[i]
		}
	}
	return nil
}

// Created returns the event that starts the saga.
func (b *Booking) Created() events.BookingCreated {
	return events.BookingCreated{
		BookingID:       b.ID,
		UserID:          b.UserID,
		CheckInDate:     b.CheckIn,
		CheckOutDate:    b.CheckOut,
		IncludeFlights:  b.IncludeFlights,
		IncludeHotel:    b.IncludeHotel,
		IncludeCar:      b.IncludeCar,
		ReferenceNumber: b.ReferenceNumber,
	}
}

// Start marks the saga as running. It is a no-op unless the booking is
// still Pending.
func (b *Booking) Start(now time.Time) {
	if b.Status != StatusPending {
		return
	}
	b.Status = StatusProcessing
	for i := range b.Steps {
		if b.Includes(b.Steps[i].Type) && b.Steps[i].Status == StepPending {
			b.Steps[i].Status = StepInProgress
		}
	}
	b.UpdatedAt = now.UTC()
}

// IsReadyToConfirm reports whether every requested step has been recorded.
func (b *Booking) IsReadyToConfirm() bool {
	for _, st := range events.Steps {
		if b.Includes(st) && !b.Step(st).Recorded() {
			return false
		}
	}
	return true
}

func (b *Booking) Phase() Phase {
	switch {
	case b.compensating:
		return PhaseCompensating
	case b.Status == StatusConfirmed:
		return PhaseCompleted
	case b.Status.Terminal():
		return PhaseFailed
	case b.Status == StatusPending:
		return PhaseStarted
	}
	for _, st := range events.Steps {
		if b.Includes(st) && b.Step(st).Status != StepCompleted {
			return stepPhase(st)
		}
	}
	return PhaseStarted
}

func stepPhase(st events.StepType) Phase {
	switch st {
	case events.StepFlight:
		return PhaseBookingFlights
	case events.StepHotel:
		return PhaseBookingHotel
	case events.StepCar:
		return PhaseBookingCar
	default:
		return PhaseStarted
	}
}

type Outcome int

const (
	OutcomeDuplicate Outcome = iota + 1
	OutcomeRecorded
	OutcomeConfirmed
	OutcomeCompensated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeRecorded:
		return "recorded"
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeCompensated:
		return "compensated"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

type Completion struct {
	Step             events.StepType
	ExternalID       uuid.UUID
	Price            int64
	ConfirmationCode string
}

// CompleteStep records a leaf's confirmation. A step that is already
// recorded is a duplicate and leaves the booking untouched. A completion
// arriving after the booking failed or was cancelled is compensated at once
// and does not count towards the total price.
func (b *Booking) CompleteStep(ctx context.Context, c Completion, comp Compensator, now time.Time) (Outcome, error) {
	if !b.Includes(c.Step) {
		return 0, fmt.Errorf("%w: %s", ErrStepNotRequested, c.Step)
	}
	if c.ExternalID == uuid.Nil || c.Price <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidCompletion, c.Step)
	}
	s := b.step(c.Step)
	if s.Recorded() {
		return OutcomeDuplicate, nil
	}

	s.ExternalID = c.ExternalID
	s.Price = c.Price
	s.ConfirmationCode = c.ConfirmationCode
	s.Status = StepCompleted
	b.UpdatedAt = now.UTC()

	if b.Status.Terminal() {
		reason := "booking already " + strings.ToLower(string(b.Status))
		if err := comp.Compensate(ctx, b, *s, reason); err != nil {
			return 0, fmt.Errorf("compensate late %s: %w", c.Step, err)
		}
		s.Status = StepCompensated
		b.CompensatedSteps = append(b.CompensatedSteps, c.Step)
		return OutcomeCompensated, nil
	}

	b.TotalPrice += c.Price
	if b.IsReadyToConfirm() {
		b.Status = StatusConfirmed
		return OutcomeConfirmed, nil
	}
	return OutcomeRecorded, nil
}

// FailStep records a leaf's refusal, compensates every completed step in
// reverse booking order, and fails the booking. The booking fails even when
// a compensation could not be requested: that step stays Completed with the
// error on it, and ErrCompensationIncomplete is returned.
func (b *Booking) FailStep(ctx context.Context, st events.StepType, reason string, comp Compensator, now time.Time) error {
	if !b.Includes(st) {
		return fmt.Errorf("%w: %s", ErrStepNotRequested, st)
	}
	s := b.step(st)
	if s.Recorded() {
		// A step that already completed cannot fail afterwards.
		return nil
	}
	s.Status = StepFailed
	s.Error = reason
	b.UpdatedAt = now.UTC()

	if b.Status.Terminal() {
		return nil
	}

	err := b.compensate(ctx, reason, comp)
	b.Status = StatusFailed
	b.FailureReason = reason
	return err
}

// Cancel is a user-initiated abort with the same compensation as FailStep.
// Cancelling twice is a no-op; a failed booking cannot be cancelled.
func (b *Booking) Cancel(ctx context.Context, reason string, comp Compensator, now time.Time) error {
	switch b.Status {
	case StatusCancelled:
		return nil
	case StatusFailed:
		return ErrNotCancellable
	}
	b.UpdatedAt = now.UTC()
	err := b.compensate(ctx, reason, comp)
	b.Status = StatusCancelled
	b.FailureReason = reason
	return err
}

func (b *Booking) compensate(ctx context.Context, reason string, comp Compensator) error {
	b.compensating = true
	defer func() { b.compensating = false }()

	var errs []error
	for _, st := range slices.Backward(events.Steps) {
		s := b.step(st)
		if !b.Includes(st) || s == nil || s.Status != StepCompleted {
			continue
		}
		if err := comp.Compensate(ctx, b, *s, reason); err != nil {
			s.Error = "compensation not requested: " + err.Error()
			errs = append(errs, fmt.Errorf("compensate %s: %w", st, err))
			continue
		}
		s.Status = StepCompensated
		b.CompensatedSteps = append(b.CompensatedSteps, st)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrCompensationIncomplete, errors.Join(errs...))
	}
	return nil
}
