package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/tripsaga/libs/db"
	"github.com/md-rashed-zaman/tripsaga/libs/db/memdb"
	"github.com/md-rashed-zaman/tripsaga/libs/events"
	"github.com/md-rashed-zaman/tripsaga/libs/messaging"
	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	mu       sync.Mutex
	sent     []messaging.Envelope
	attempts int
	fail     error
}

func (b *fakeBroker) Publish(_ context.Context, env messaging.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts++
	if b.fail != nil {
		return b.fail
	}
	b.sent = append(b.sent, env)
	return nil
}

func (b *fakeBroker) setFail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = err
}

type harness struct {
	db        *memdb.DB
	store     *MemoryStore
	publisher *Publisher
	broker    *fakeBroker
	processor *Processor
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	d := memdb.New()
	store := NewMemoryStore(d)
	registry := events.NewBookingRegistry()
	broker := &fakeBroker{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &harness{
		db:        d,
		store:     store,
		publisher: NewPublisher(store, registry, nil),
		broker:    broker,
		processor: NewProcessor(d, store, broker, registry, logger, cfg),
	}
}

func (h *harness) enqueue(t *testing.T, evt events.Event) Message {
	t.Helper()
	var msg Message
	require.NoError(t, db.WithinTx(context.Background(), h.db, func(ctx context.Context, tx db.Tx) error {
		var err error
		msg, err = h.publisher.Publish(ctx, tx, "agg-1", evt)
		return err
	}))
	return msg
}

func failedEvent(reason string) events.BookingFailed {
	return events.BookingFailed{BookingID: uuid.New(), StepType: events.StepCar, Reason: reason}
}

func TestPublish_RowCommitsWithCallerTransaction(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	boom := errors.New("business write failed")
	err := db.WithinTx(ctx, h.db, func(ctx context.Context, tx db.Tx) error {
		if _, err := h.publisher.Publish(ctx, tx, "agg-1", failedEvent("x")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Empty(t, h.store.Messages())

	msg := h.enqueue(t, failedEvent("y"))
	rows := h.store.Messages()
	require.Len(t, rows, 1)
	require.Equal(t, msg.ID, rows[0].ID)
	require.Equal(t, events.TypeBookingFailed, rows[0].Type)
	require.Nil(t, rows[0].ProcessedAt)
	require.Zero(t, rows[0].RetryCount)
}

type unregisteredEvent struct{}

func (unregisteredEvent) EventType() string { return "booking.unregistered.v1" }

func TestPublish_RejectsUnregisteredEventSynchronously(t *testing.T) {
	h := newHarness(t, Config{})
	err := db.WithinTx(context.Background(), h.db, func(ctx context.Context, tx db.Tx) error {
		_, err := h.publisher.Publish(ctx, tx, "agg-1", unregisteredEvent{})
		return err
	})
	require.ErrorIs(t, err, events.ErrUnknownType)
	require.Empty(t, h.store.Messages())
}

func TestRunOnce_PublishesOldestFirstAndMarksProcessed(t *testing.T) {
	h := newHarness(t, Config{})
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, reason := range []string{"first", "second", "third"} {
		offset := time.Duration(i) * time.Second
		h.publisher.now = func() time.Time { return base.Add(offset) }
		h.enqueue(t, failedEvent(reason))
	}

	res, err := h.processor.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, CycleResult{Claimed: 3, Published: 3}, res)

	require.Len(t, h.broker.sent, 3)
	for i, reason := range []string{"first", "second", "third"} {
		evt, err := events.Decode[events.BookingFailed](h.broker.sent[i].Payload)
		require.NoError(t, err)
		require.Equal(t, reason, evt.Reason)
		require.Equal(t, "agg-1", h.broker.sent[i].Key)
	}
	for _, m := range h.store.Messages() {
		require.NotNil(t, m.ProcessedAt)
		require.Empty(t, m.Error)
	}

	// Processed rows are never published again.
	res, err = h.processor.RunOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, res.Claimed)
	require.Len(t, h.broker.sent, 3)
}

func TestRunOnce_PublishFailureIsRetriedOnNextCycle(t *testing.T) {
	h := newHarness(t, Config{})
	h.enqueue(t, failedEvent("retry me"))

	h.broker.setFail(errors.New("broker unreachable"))
	res, err := h.processor.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Retrying)

	row := h.store.Messages()[0]
	require.Equal(t, 1, row.RetryCount)
	require.Equal(t, "broker unreachable", row.Error)
	require.Nil(t, row.ProcessedAt)

	h.broker.setFail(nil)
	res, err = h.processor.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Published)

	row = h.store.Messages()[0]
	require.NotNil(t, row.ProcessedAt)
	require.Empty(t, row.Error)
	require.Equal(t, 1, row.RetryCount)
}

func TestRunOnce_NeverAttemptsPastRetryCeiling(t *testing.T) {
	h := newHarness(t, Config{})
	h.enqueue(t, failedEvent("doomed"))
	h.broker.setFail(errors.New("broker unreachable"))

	for i := 0; i < DefaultMaxRetry+3; i++ {
		_, err := h.processor.RunOnce(context.Background())
		require.NoError(t, err)
	}

	require.Equal(t, DefaultMaxRetry, h.broker.attempts)
	row := h.store.Messages()[0]
	require.True(t, row.Failed(DefaultMaxRetry))

	failed, err := h.store.ListFailed(context.Background(), DefaultMaxRetry, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, row.ID, failed[0].ID)
}

func TestRunOnce_ParksUnresolvableRowsWithoutPublishing(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	require.NoError(t, db.WithinTx(ctx, h.db, func(ctx context.Context, tx db.Tx) error {
		if err := h.store.Insert(ctx, tx, Message{
			ID: uuid.New(), Type: "booking.renamed.v0", AggregateID: "a", Content: []byte(`{}`), CreatedAt: time.Now(),
		}); err != nil {
			return err
		}
		return h.store.Insert(ctx, tx, Message{
			ID: uuid.New(), Type: events.TypeBookingFailed, AggregateID: "b", Content: []byte(`null`), CreatedAt: time.Now(),
		})
	}))

	res, err := h.processor.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, res.Parked)
	require.Zero(t, h.broker.attempts)

	for _, row := range h.store.Messages() {
		require.Equal(t, DefaultMaxRetry, row.RetryCount)
		require.Contains(t, row.Error, "unresolvable message")
		require.Nil(t, row.ProcessedAt)
	}

	res, err = h.processor.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, res.Claimed)
}

func TestRunOnce_RespectsBatchSize(t *testing.T) {
	h := newHarness(t, Config{BatchSize: 2})
	for i := 0; i < 5; i++ {
		h.enqueue(t, failedEvent("bulk"))
	}

	res, err := h.processor.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, res.Claimed)
	require.Len(t, h.broker.sent, 2)
}

func TestRun_ExitsOnShutdown(t *testing.T) {
	h := newHarness(t, Config{PollInterval: 5 * time.Millisecond})
	h.enqueue(t, failedEvent("loop"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.processor.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		h.broker.mu.Lock()
		defer h.broker.mu.Unlock()
		return len(h.broker.sent) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("processor did not stop after cancellation")
	}
}

func TestRun_PublishesBeforeTheFirstTick(t *testing.T) {
	h := newHarness(t, Config{PollInterval: time.Hour})
	h.enqueue(t, failedEvent("startup"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.processor.Run(ctx)

	require.Eventually(t, func() bool {
		h.broker.mu.Lock()
		defer h.broker.mu.Unlock()
		return len(h.broker.sent) == 1
	}, time.Second, 5*time.Millisecond)
}

type stubLease struct{ held bool }

func (l *stubLease) Acquire(context.Context) (bool, error) { return l.held, nil }
func (l *stubLease) Release(context.Context) error         { return nil }

func TestCycle_SkipsWhenLeaseHeldElsewhere(t *testing.T) {
	h := newHarness(t, Config{})
	lease := &stubLease{}
	h.processor.lease = lease
	h.enqueue(t, failedEvent("gated"))

	h.processor.cycle(context.Background())
	require.Zero(t, h.broker.attempts)

	lease.held = true
	h.processor.cycle(context.Background())
	require.Equal(t, 1, h.broker.attempts)
}
