// Package events defines the integration events exchanged by the booking
// saga and the registry that maps their wire tags back to Go types.
package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	TypeBookingCreated                   = "booking.created.v1"
	TypeBookingStepCompleted             = "booking.step_completed.v1"
	TypeBookingFailed                    = "booking.failed.v1"
	TypeBookingStepCompensationRequested = "booking.step_compensation_requested.v1"
)

// Event is an integration event. EventType is its stable wire tag.
type Event interface {
	EventType() string
}

type BookingCreated struct {
	BookingID       uuid.UUID `json:"booking_id"`
	UserID          uuid.UUID `json:"user_id"`
	CheckInDate     time.Time `json:"check_in_date"`
	CheckOutDate    time.Time `json:"check_out_date"`
	IncludeFlights  bool      `json:"include_flights"`
	IncludeHotel    bool      `json:"include_hotel"`
	IncludeCar      bool      `json:"include_car"`
	ReferenceNumber string    `json:"reference_number"`
}

func (BookingCreated) EventType() string { return TypeBookingCreated }

// Includes reports whether the booking requested step.
func (e BookingCreated) Includes(step StepType) bool {
	switch step {
	case StepFlight:
		return e.IncludeFlights
	case StepHotel:
		return e.IncludeHotel
	case StepCar:
		return e.IncludeCar
	default:
		return false
	}
}

// BookingStepCompleted reports a confirmed leaf reservation. Price is in
// minor currency units.
type BookingStepCompleted struct {
	BookingID        uuid.UUID `json:"booking_id"`
	StepType         StepType  `json:"step_type"`
	ExternalID       uuid.UUID `json:"external_id"`
	Price            int64     `json:"price"`
	ConfirmationCode string    `json:"confirmation_code"`
}

func (BookingStepCompleted) EventType() string { return TypeBookingStepCompleted }

type BookingFailed struct {
	BookingID uuid.UUID `json:"booking_id"`
	StepType  StepType  `json:"step_type"`
	Reason    string    `json:"reason"`
}

func (BookingFailed) EventType() string { return TypeBookingFailed }

// BookingStepCompensationRequested asks the owning leaf to undo a step that
// had completed before the saga failed or was cancelled.
type BookingStepCompensationRequested struct {
	BookingID  uuid.UUID `json:"booking_id"`
	StepType   StepType  `json:"step_type"`
	ExternalID uuid.UUID `json:"external_id"`
	Reason     string    `json:"reason"`
}

func (BookingStepCompensationRequested) EventType() string {
	return TypeBookingStepCompensationRequested
}
