package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/md-rashed-zaman/tripsaga/libs/config"
	"github.com/md-rashed-zaman/tripsaga/libs/events"
	"github.com/md-rashed-zaman/tripsaga/libs/httpx"
	"github.com/md-rashed-zaman/tripsaga/libs/migrations"
	otelx "github.com/md-rashed-zaman/tripsaga/libs/otel"
	"github.com/md-rashed-zaman/tripsaga/libs/platform"
	"github.com/md-rashed-zaman/tripsaga/libs/runtime"
	"github.com/md-rashed-zaman/tripsaga/services/booking-service/internal/consumers"
	"github.com/md-rashed-zaman/tripsaga/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/tripsaga/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/tripsaga/services/booking-service/internal/service"
	"github.com/md-rashed-zaman/tripsaga/services/booking-service/internal/storage"
)

func main() {
	_ = config.LoadDotEnv()
	name := config.String("SERVICE_NAME", "booking-service")
	logger := runtime.NewLogger(name)

	if err := run(name, logger); err != nil {
		logger.Error("booking-service stopped", "err", err)
		os.Exit(1)
	}
}

func run(name string, logger *slog.Logger) error {
	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(name))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	settings, err := platform.SettingsFromEnv(name, "8080")
	if err != nil {
		return err
	}
	limit, err := config.Int("BOOKING_RATE_LIMIT", 30)
	if err != nil {
		return err
	}
	window, err := config.Duration("BOOKING_RATE_WINDOW", time.Minute)
	if err != nil {
		return err
	}

	node, err := platform.Open(ctx, settings, migrations.Booking(), logger)
	if err != nil {
		return err
	}
	defer node.Close()

	m := metrics.New(node.Registry)
	repo := storage.NewPostgresRepository(node.Pool)
	compensator := service.NewCompensator(node.Publisher, m)
	svc := service.New(node.Pool, repo, node.Publisher, compensator, m)

	c := consumers.New(repo, compensator, m)
	node.Subscribe(events.TypeBookingStepCompleted, consumers.StepCompletedConsumer, c.StepCompleted)
	node.Subscribe(events.TypeBookingFailed, consumers.BookingFailedConsumer, c.BookingFailed)

	bookingHandler := handlers.NewBookingHandler(svc)
	if rdb := node.Redis(); rdb != nil && limit > 0 {
		rl := httpx.NewRateLimiter(rdb, limit, window, name, config.Bool("BOOKING_RATE_FAIL_OPEN", true))
		bookingHandler.LimitCreate(rl.Limit)
	}

	mux := node.Mux()
	bookingHandler.Register(mux)
	return node.Run(ctx, mux)
}
