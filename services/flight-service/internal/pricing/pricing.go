// Package pricing quotes flights for a trip booking.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/md-rashed-zaman/tripsaga/libs/config"
	"github.com/md-rashed-zaman/tripsaga/libs/events"
	"github.com/md-rashed-zaman/tripsaga/libs/reservation"
)

var (
	ErrInvalidDates = errors.New("return date must not be before departure date")
	ErrNoSeats      = errors.New("no seats available")
)

type Config struct {
	// FarePerSeat is the round-trip fare in cents.
	FarePerSeat int64
	Passengers  int
	Origin      string
	Destination string
	// SeatsPerDay caps seats sold for one departure date. Zero means no cap.
	SeatsPerDay int
}

func DefaultConfig() Config {
	return Config{
		FarePerSeat: 50000,
		Passengers:  1,
		Origin:      "New York",
		Destination: "Los Angeles",
	}
}

func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	fare, err := config.Int("FLIGHT_FARE_CENTS", int(cfg.FarePerSeat))
	if err != nil {
		return Config{}, err
	}
	cfg.FarePerSeat = int64(fare)
	if cfg.Passengers, err = config.Int("FLIGHT_PASSENGERS", cfg.Passengers); err != nil {
		return Config{}, err
	}
	if cfg.SeatsPerDay, err = config.Int("FLIGHT_SEATS_PER_DAY", cfg.SeatsPerDay); err != nil {
		return Config{}, err
	}
	cfg.Origin = config.String("FLIGHT_ORIGIN", cfg.Origin)
	cfg.Destination = config.String("FLIGHT_DESTINATION", cfg.Destination)
	if cfg.FarePerSeat <= 0 || cfg.Passengers <= 0 {
		return Config{}, fmt.Errorf("flight fare and passengers must be positive")
	}
	return cfg, nil
}

type Quoter struct {
	cfg Config
}

func New(cfg Config) *Quoter {
	return &Quoter{cfg: cfg}
}

func (q *Quoter) Quote(_ context.Context, b events.BookingCreated) (reservation.Quote, error) {
	if b.CheckOutDate.Before(b.CheckInDate) {
		return reservation.Quote{}, ErrInvalidDates
	}
	if q.cfg.SeatsPerDay > 0 && q.cfg.Passengers > q.cfg.SeatsPerDay {
		return reservation.Quote{}, ErrNoSeats
	}
	return reservation.Quote{
		Price: q.cfg.FarePerSeat * int64(q.cfg.Passengers),
		Details: map[string]string{
			"origin":      q.cfg.Origin,
			"destination": q.cfg.Destination,
			"passengers":  strconv.Itoa(q.cfg.Passengers),
		},
	}, nil
}
