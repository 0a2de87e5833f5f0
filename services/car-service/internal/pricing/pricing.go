// Package pricing quotes car rentals for a trip booking.
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
	ErrInvalidRental = errors.New("rental must be at least one day")
	ErrRentalTooLong = errors.New("rental exceeds the maximum number of days")
)

type Config struct {
	// PricePerDay is in cents.
	PricePerDay    int64
	CarModel       string
	Company        string
	PickUpLocation string
	MaxDays        int
}

func DefaultConfig() Config {
	return Config{
		PricePerDay:    5000,
		CarModel:       "Toyota Camry",
		Company:        "Enterprise",
		PickUpLocation: "Los Angeles Airport",
		MaxDays:        30,
	}
}

func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	price, err := config.Int("CAR_PRICE_PER_DAY_CENTS", int(cfg.PricePerDay))
	if err != nil {
		return Config{}, err
	}
	cfg.PricePerDay = int64(price)
	if cfg.MaxDays, err = config.Int("CAR_MAX_DAYS", cfg.MaxDays); err != nil {
		return Config{}, err
	}
	cfg.CarModel = config.String("CAR_MODEL", cfg.CarModel)
	cfg.Company = config.String("CAR_COMPANY", cfg.Company)
	cfg.PickUpLocation = config.String("CAR_PICKUP_LOCATION", cfg.PickUpLocation)
	if cfg.PricePerDay <= 0 || cfg.MaxDays <= 0 {
		return Config{}, fmt.Errorf("car price and max days must be positive")
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
	days := int(b.CheckOutDate.Sub(b.CheckInDate).Hours() / 24)
	switch {
	case days < 1:
		return reservation.Quote{}, ErrInvalidRental
	case days > q.cfg.MaxDays:
		return reservation.Quote{}, fmt.Errorf("%w: %d > %d", ErrRentalTooLong, days, q.cfg.MaxDays)
	}
	return reservation.Quote{
		Price: q.cfg.PricePerDay * int64(days),
		Details: map[string]string{
			"car_model":        q.cfg.CarModel,
			"company":          q.cfg.Company,
			"pick_up_location": q.cfg.PickUpLocation,
			"days":             strconv.Itoa(days),
		},
	}, nil
}
