package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/tripsaga/libs/db"
	"github.com/md-rashed-zaman/tripsaga/libs/events"
	"github.com/md-rashed-zaman/tripsaga/libs/metrics"
	otelx "github.com/md-rashed-zaman/tripsaga/libs/otel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultBatchSize    = 20
	DefaultMaxRetry     = 5
	DefaultCycleTimeout = 30 * time.Second
)

type Config struct {
	PollInterval time.Duration
	BatchSize    int
	MaxRetry     int
	// CycleTimeout bounds one poll. A cycle keeps running after shutdown is
	// signalled, so this is also the worst-case shutdown delay.
	CycleTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = DefaultMaxRetry
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = DefaultCycleTimeout
	}
	return c
}

// Lease gates polling to one processor per service when several instances
// run. Row locks still apply when no lease is configured.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type Option func(*Processor)

func WithMetrics(m *metrics.Messaging) Option {
	return func(p *Processor) { p.metrics = m }
}

func WithLease(l Lease) Option {
	return func(p *Processor) { p.lease = l }
}

func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// Processor relays committed outbox rows to the broker.
type Processor struct {
	uow      db.UnitOfWork
	store    Store
	broker   Broker
	registry *events.Registry
	logger   *slog.Logger
	cfg      Config
	metrics  *metrics.Messaging
	lease    Lease
	now      func() time.Time
	tracer   trace.Tracer
}

// CycleResult summarises one RunOnce call.
type CycleResult struct {
	Claimed   int
	Published int
	Retrying  int
	Parked    int
}

func NewProcessor(uow db.UnitOfWork, store Store, broker Broker, registry *events.Registry, logger *slog.Logger, cfg Config, opts ...Option) *Processor {
	p := &Processor{
		uow:      uow,
		store:    store,
		broker:   broker,
		registry: registry,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		tracer:   otel.Tracer("outbox"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Processor) Config() Config { return p.cfg }

// Run polls until ctx is cancelled. Cycle errors are logged and never stop
// the loop. Shutdown is observed between cycles only.
func (p *Processor) Run(ctx context.Context) {
	if p.broker == nil {
		p.logger.Warn("outbox processor disabled (no broker configured)")
		return
	}

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	defer p.releaseLease()

	p.logger.Info("outbox processor started",
		"poll_interval", p.cfg.PollInterval.String(),
		"batch_size", p.cfg.BatchSize,
		"max_retry", p.cfg.MaxRetry,
	)
	p.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox processor stopped")
			return
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

func (p *Processor) cycle(ctx context.Context) {
	if p.lease != nil {
		held, err := p.lease.Acquire(ctx)
		switch {
		case err != nil:
			p.logger.Warn("outbox lease unavailable; relying on row locks", "err", err)
		case !held:
			return
		}
	}

	cycleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.CycleTimeout)
	defer cancel()

	res, err := p.RunOnce(cycleCtx)
	if err != nil {
		p.logger.Error("outbox cycle failed", "err", err)
		return
	}
	if res.Claimed > 0 {
		p.logger.Debug("outbox cycle done",
			"claimed", res.Claimed,
			"published", res.Published,
			"retrying", res.Retrying,
			"parked", res.Parked,
		)
	}
}

func (p *Processor) releaseLease() {
	if p.lease == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.lease.Release(ctx); err != nil {
		p.logger.Warn("outbox lease release failed", "err", err)
	}
}

// RunOnce claims one batch, publishes it and stores every outcome in a
// single commit.
func (p *Processor) RunOnce(ctx context.Context) (CycleResult, error) {
	var res CycleResult

	tx, err := p.uow.Begin(ctx)
	if err != nil {
		return res, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	msgs, err := p.store.ClaimPending(ctx, tx, p.cfg.BatchSize, p.cfg.MaxRetry)
	if err != nil {
		return res, err
	}
	res.Claimed = len(msgs)
	if len(msgs) == 0 {
		return res, tx.Commit(ctx)
	}

	for i := range msgs {
		p.process(ctx, &msgs[i], &res)
	}

	if err := p.store.SaveOutcomes(ctx, tx, msgs); err != nil {
		return res, err
	}
	return res, tx.Commit(ctx)
}

func (p *Processor) process(ctx context.Context, msg *Message, res *CycleResult) {
	if _, err := p.registry.Decode(msg.Type, msg.Content); err != nil {
		msg.Error = "unresolvable message: " + err.Error()
		msg.RetryCount = p.cfg.MaxRetry
		res.Parked++
		p.metrics.OutboxPermanentFailure(msg.Type, "unresolvable")
		p.logger.Error("outbox message parked",
			"event_id", msg.ID.String(),
			"event_type", msg.Type,
			"err", err,
		)
		return
	}

	msgCtx := otelx.TraceHeaders{Traceparent: msg.Traceparent, Tracestate: msg.Tracestate}.Restore(ctx)
	msgCtx, span := p.tracer.Start(msgCtx, "outbox.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination", msg.Type),
			attribute.String("messaging.message_id", msg.ID.String()),
			attribute.Int("outbox.retry_count", msg.RetryCount),
		),
	)
	defer span.End()

	start := time.Now()
	err := p.broker.Publish(msgCtx, msg.Envelope())
	took := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		msg.RetryCount++
		msg.Error = err.Error()
		p.metrics.OutboxPublishFailed(msg.Type, took)

		if msg.RetryCount >= p.cfg.MaxRetry {
			res.Parked++
			p.metrics.OutboxPermanentFailure(msg.Type, "retries_exhausted")
			p.logger.Error("outbox message exhausted retries",
				"event_id", msg.ID.String(),
				"event_type", msg.Type,
				"retry_count", msg.RetryCount,
				"err", err,
			)
			return
		}
		res.Retrying++
		p.logger.Warn("outbox publish failed",
			"event_id", msg.ID.String(),
			"event_type", msg.Type,
			"retry_count", msg.RetryCount,
			"err", err,
		)
		return
	}

	processedAt := p.now().UTC()
	msg.ProcessedAt = &processedAt
	msg.Error = ""
	res.Published++
	p.metrics.OutboxPublished(msg.Type, took)
}
