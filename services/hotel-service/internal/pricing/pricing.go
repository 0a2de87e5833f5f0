// Package pricing quotes hotel stays for a trip booking.
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
	ErrInvalidStay = errors.New("stay must be at least one night")
	ErrStayTooLong = errors.New("stay exceeds the maximum number of nights")
)

type Config struct {
	// PricePerNight is in cents, per room.
	PricePerNight int64
	Rooms         int
	HotelName     string
	City          string
	MaxNights     int
}

func DefaultConfig() Config {
	return Config{
		PricePerNight: 15000,
		Rooms:         1,
		HotelName:     "Grand Hotel",
		City:          "Los Angeles",
		MaxNights:     30,
	}
}

func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	price, err := config.Int("HOTEL_PRICE_PER_NIGHT_CENTS", int(cfg.PricePerNight))
	if err != nil {
		return Config{}, err
	}
	cfg.PricePerNight = int64(price)
	if cfg.Rooms, err = config.Int("HOTEL_ROOMS", cfg.Rooms); err != nil {
		return Config{}, err
	}
	if cfg.MaxNights, err = config.Int("HOTEL_MAX_NIGHTS", cfg.MaxNights); err != nil {
		return Config{}, err
	}
	cfg.HotelName = config.String("HOTEL_NAME", cfg.HotelName)
	cfg.City = config.String("HOTEL_CITY", cfg.City)
	if cfg.PricePerNight <= 0 || cfg.Rooms <= 0 || cfg.MaxNights <= 0 {
		return Config{}, fmt.Errorf("hotel price, rooms and max nights must be positive")
	}
	return cfg, nil
}

type Quoter struct {
	cfg Config
}

func New(cfg Config) *Quoter {
	return &Quoter{cfg: cfg}
}

// Quote charges PricePerNight for every whole night between check-in and
// check-out, per room.
func (q *Quoter) Quote(_ context.Context, b events.BookingCreated) (reservation.Quote, error) {
	nights := int(b.CheckOutDate.Sub(b.CheckInDate).Hours() / 24)
	switch {
	case nights < 1:
		return reservation.Quote{}, ErrInvalidStay
	case nights > q.cfg.MaxNights:
		return reservation.Quote{}, fmt.Errorf("%w: %d > %d", ErrStayTooLong, nights, q.cfg.MaxNights)
	}
	return reservation.Quote{
		Price: q.cfg.PricePerNight * int64(nights) * int64(q.cfg.Rooms),
		Details: map[string]string{
			"hotel_name": q.cfg.HotelName,
			"city":       q.cfg.City,
			"nights":     strconv.Itoa(nights),
			"rooms":      strconv.Itoa(q.cfg.Rooms),
		},
	}, nil
}
