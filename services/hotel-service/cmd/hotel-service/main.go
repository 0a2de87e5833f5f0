package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/md-rashed-zaman/tripsaga/libs/config"
	"github.com/md-rashed-zaman/tripsaga/libs/events"
	"github.com/md-rashed-zaman/tripsaga/libs/migrations"
	otelx "github.com/md-rashed-zaman/tripsaga/libs/otel"
	"github.com/md-rashed-zaman/tripsaga/libs/platform"
	"github.com/md-rashed-zaman/tripsaga/libs/reservation"
	"github.com/md-rashed-zaman/tripsaga/libs/runtime"
	"github.com/md-rashed-zaman/tripsaga/services/hotel-service/internal/pricing"
)

func main() {
	_ = config.LoadDotEnv()
	name := config.String("SERVICE_NAME", "hotel-service")
	logger := runtime.NewLogger(name)

	if err := run(name, logger); err != nil {
		logger.Error("hotel-service stopped", "err", err)
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

	settings, err := platform.SettingsFromEnv(name, "8082")
	if err != nil {
		return err
	}
	pricingCfg, err := pricing.ConfigFromEnv()
	if err != nil {
		return err
	}

	node, err := platform.Open(ctx, settings, migrations.Reservation(), logger)
	if err != nil {
		return err
	}
	defer node.Close()

	repo := reservation.NewPostgresRepository(node.Pool)
	leaf := reservation.NewLeaf(events.StepHotel, repo, pricing.New(pricingCfg), node.Publisher, reservation.NewMetrics(node.Registry))
	leaf.Subscribe(node)

	mux := node.Mux()
	reservation.NewHandler(repo).Register(mux)
	return node.Run(ctx, mux)
}
