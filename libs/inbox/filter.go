package inbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/tripsaga/libs/db"
	"github.com/md-rashed-zaman/tripsaga/libs/messaging"
	"github.com/md-rashed-zaman/tripsaga/libs/metrics"
	"github.com/md-rashed-zaman/tripsaga/libs/runtime"
)

type Option func(*Filter)

func WithMetrics(m *metrics.Messaging) Option {
	return func(f *Filter) { f.metrics = m }
}

// WithEnabled switches deduplication on or off. A disabled filter still runs
// every handler in a transaction.
func WithEnabled(enabled bool) Option {
	return func(f *Filter) { f.enabled = enabled }
}

type Filter struct {
	uow     db.UnitOfWork
	store   Store
	enabled bool
	metrics *metrics.Messaging
	now     func() time.Time
}

func NewFilter(uow db.UnitOfWork, store Store, opts ...Option) *Filter {
	f := &Filter{
		uow:     uow,
		store:   store,
		enabled: true,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Wrap returns a handler that applies h at most once per message id for
// consumerType. Duplicates are acknowledged without calling h. An error
// from h rolls everything back and is returned so the broker redelivers.
func (f *Filter) Wrap(consumerType string, h Handler) messaging.Handler {
	return func(ctx context.Context, env messaging.Envelope) error {
		logger := runtime.Logger(ctx).With("consumer", consumerType)
		start := time.Now()

		if env.ID == "" {
			logger.Warn("message has no id; handling without deduplication", "message_type", env.Type)
			return f.passthrough(ctx, consumerType, env, h, start)
		}
		if !f.enabled {
			return f.passthrough(ctx, consumerType, env, h, start)
		}

		tx, err := f.uow.Begin(ctx)
		if err != nil {
			return fmt.Errorf("inbox begin: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		seen, err := f.store.Exists(ctx, tx, env.ID, consumerType)
		if err != nil {
			return fmt.Errorf("inbox lookup: %w", err)
		}
		if seen {
			f.duplicate(ctx, consumerType, env)
			return nil
		}

		if err := h(ctx, tx, env); err != nil {
			return err
		}

		err = f.store.Insert(ctx, tx, Message{
			MessageID:    env.ID,
			ConsumerType: consumerType,
			ProcessedAt:  f.now().UTC(),
		})
		if err != nil {
			if errors.Is(err, ErrDuplicate) {
				f.duplicate(ctx, consumerType, env)
				return nil
			}
			return fmt.Errorf("inbox insert: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			if errors.Is(err, ErrDuplicate) || db.IsUniqueViolation(err) {
				f.duplicate(ctx, consumerType, env)
				return nil
			}
			return fmt.Errorf("inbox commit: %w", err)
		}
		f.metrics.InboxConsumed(consumerType, time.Since(start))
		return nil
	}
}

func (f *Filter) passthrough(ctx context.Context, consumerType string, env messaging.Envelope, h Handler, start time.Time) error {
	err := db.WithinTx(ctx, f.uow, func(ctx context.Context, tx db.Tx) error {
		return h(ctx, tx, env)
	})
	if err != nil {
		return err
	}
	f.metrics.InboxConsumed(consumerType, time.Since(start))
	return nil
}

func (f *Filter) duplicate(ctx context.Context, consumerType string, env messaging.Envelope) {
	f.metrics.InboxDuplicate(consumerType)
	runtime.Logger(ctx).Info("duplicate message skipped",
		"consumer", consumerType,
		"message_id", env.ID,
		"message_type", env.Type,
	)
}
