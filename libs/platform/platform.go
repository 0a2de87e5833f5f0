// Package platform assembles the process every service runs: Postgres with
// its outbox relay, Kafka consumers behind the inbox filter, and an HTTP
// server with health, readiness and metrics endpoints.
package platform

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/tripsaga/libs/config"
	"github.com/md-rashed-zaman/tripsaga/libs/db"
	"github.com/md-rashed-zaman/tripsaga/libs/events"
	"github.com/md-rashed-zaman/tripsaga/libs/httpx"
	"github.com/md-rashed-zaman/tripsaga/libs/inbox"
	"github.com/md-rashed-zaman/tripsaga/libs/kafkax"
	"github.com/md-rashed-zaman/tripsaga/libs/metrics"
	"github.com/md-rashed-zaman/tripsaga/libs/outbox"
	"github.com/md-rashed-zaman/tripsaga/libs/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

// Settings are read from the environment by SettingsFromEnv.
type Settings struct {
	Service        string
	Port           string
	DatabaseURL    string
	MigrateOnStart bool
	Brokers        []string
	GroupID        string
	RedisAddr      string
	Pool           db.PoolOptions
}

func SettingsFromEnv(service, defaultPort string) (Settings, error) {
	port, err := config.Port("PORT", defaultPort)
	if err != nil {
		return Settings{}, err
	}
	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		return Settings{}, err
	}
	maxConns, err := config.Int("DB_MAX_CONNS", 10)
	if err != nil {
		return Settings{}, err
	}
	minConns, err := config.Int("DB_MIN_CONNS", 1)
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		Service:        service,
		Port:           port,
		DatabaseURL:    dbURL,
		MigrateOnStart: config.Bool("MIGRATE_ON_START", true),
		Brokers:        kafkax.SplitBrokers(config.String("KAFKA_BROKERS", "localhost:9092")),
		GroupID:        config.String("KAFKA_GROUP_ID", service),
		RedisAddr:      config.String("REDIS_ADDR", ""),
		Pool:           db.PoolOptions{MaxConns: int32(maxConns), MinConns: int32(minConns)},
	}, nil
}

type subscription struct {
	topic        string
	consumerType string
	handler      inbox.Handler
}

// Node is one running service.
type Node struct {
	Settings  Settings
	Messaging config.Messaging
	Logger    *slog.Logger
	Pool      *db.Pool
	Registry  *prometheus.Registry
	Metrics   *metrics.Messaging
	Publisher *outbox.Publisher

	outboxStore *outbox.PostgresStore
	processor   *outbox.Processor
	filter      *inbox.Filter
	producer    *kafkax.Producer
	redis       *redis.Client
	subs        []subscription
	closers     []func()
}

// Open connects every dependency and, when enabled, migrates schema.
func Open(ctx context.Context, s Settings, schema fs.FS, logger *slog.Logger) (*Node, error) {
	msgCfg, err := config.LoadMessaging(s.Service)
	if err != nil {
		return nil, err
	}

	n := &Node{
		Settings:  s,
		Messaging: msgCfg,
		Logger:    logger,
		Registry:  prometheus.NewRegistry(),
	}
	n.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	n.Metrics = metrics.NewMessaging(n.Registry, s.Service)

	pool, err := db.Open(ctx, s.DatabaseURL, s.Pool)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	n.Pool = pool
	n.closers = append(n.closers, pool.Close)

	if s.MigrateOnStart {
		if err := db.Migrate(pool, schema); err != nil {
			n.Close()
			return nil, err
		}
		logger.Info("database migrated")
	}

	registry := events.NewBookingRegistry()
	n.outboxStore = outbox.NewPostgresStore(pool)
	n.Publisher = outbox.NewPublisher(n.outboxStore, registry, n.Metrics)
	n.producer = kafkax.NewProducer(s.Brokers)
	n.closers = append(n.closers, func() { _ = n.producer.Close() })

	opts := []outbox.Option{outbox.WithMetrics(n.Metrics)}
	if s.RedisAddr != "" {
		n.redis = redis.NewClient(&redis.Options{Addr: s.RedisAddr})
		n.closers = append(n.closers, func() { _ = n.redis.Close() })
		opts = append(opts, outbox.WithLease(outbox.NewRedisLease(n.redis, s.Service, msgCfg.Outbox.LeaseTTL)))
	}
	n.processor = outbox.NewProcessor(pool, n.outboxStore, n.producer, registry, logger.With("component", "outbox"), outbox.Config{
		PollInterval: msgCfg.Outbox.PollInterval,
		BatchSize:    msgCfg.Outbox.BatchSize,
		MaxRetry:     msgCfg.Outbox.MaxRetry,
		CycleTimeout: msgCfg.Outbox.CycleTimeout,
	}, opts...)

	n.filter = inbox.NewFilter(pool, inbox.NewPostgresStore(),
		inbox.WithMetrics(n.Metrics),
		inbox.WithEnabled(msgCfg.Inbox.Enabled),
	)
	if !msgCfg.Inbox.Enabled {
		logger.Warn("inbox deduplication disabled")
	}
	return n, nil
}

// Redis is nil unless REDIS_ADDR is set.
func (n *Node) Redis() *redis.Client { return n.redis }

// Subscribe registers h for topic. Deliveries are deduplicated per
// consumerType when the inbox is enabled.
func (n *Node) Subscribe(topic, consumerType string, h inbox.Handler) {
	n.subs = append(n.subs, subscription{topic: topic, consumerType: consumerType, handler: h})
}

// Mux returns the base mux with this node's readiness checks and the outbox
// admin endpoint already mounted.
func (n *Node) Mux() *http.ServeMux {
	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(n.Pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(n.Settings.Brokers)},
	}
	if n.redis != nil {
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return n.redis.Ping(ctx).Err()
		}})
	}
	mux := runtime.NewBaseMux(n.Registry, checks...)
	mux.Handle("GET /admin/outbox/failed", outbox.FailedHandler(n.outboxStore, n.processor.Config().MaxRetry))
	return mux
}

// Run serves until ctx is cancelled or a component fails.
func (n *Node) Run(ctx context.Context, mux *http.ServeMux) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n.processor.Run(ctx)
		return nil
	})

	for _, sub := range n.subs {
		consumer := kafkax.NewConsumer(n.Logger, kafkax.ConsumerConfig{
			Brokers:        n.Settings.Brokers,
			GroupID:        n.Settings.GroupID,
			Topic:          sub.topic,
			MaxAttempts:    n.Messaging.Consumer.MaxAttempts,
			InitialBackoff: n.Messaging.Consumer.InitialBackoff,
			MaxBackoff:     n.Messaging.Consumer.MaxBackoff,
			DeadLetter:     n.Messaging.Consumer.DeadLetter,
		}, n.filter.Wrap(sub.consumerType, sub.handler), n.Metrics)
		g.Go(func() error {
			consumer.Run(ctx)
			return nil
		})
	}

	handler := httpx.Chain(mux,
		httpx.WithRequestContext(n.Logger),
		httpx.WithRecover,
		httpx.WithAccessLog(httpx.NewMetrics(n.Registry)),
		httpx.WithBodyLimit(1<<20),
	)
	srv := &http.Server{
		Addr:              ":" + n.Settings.Port,
		Handler:           otelhttp.NewHandler(handler, n.Settings.Service),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		return runtime.ServeHTTP(ctx, n.Logger, srv)
	})

	return g.Wait()
}

// Close releases connections in reverse order of acquisition.
func (n *Node) Close() {
	for i := len(n.closers) - 1; i >= 0; i-- {
		n.closers[i]()
	}
}
