package inbox

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/md-rashed-zaman/tripsaga/libs/db"
	"github.com/md-rashed-zaman/tripsaga/libs/db/memdb"
	"github.com/md-rashed-zaman/tripsaga/libs/messaging"
	"github.com/md-rashed-zaman/tripsaga/libs/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// ledger is a side effect that only lands when the handler's tx commits.
type ledger struct {
	db      *memdb.DB
	applied int
}

func (l *ledger) apply(_ context.Context, tx db.Tx, _ messaging.Envelope) error {
	mt, err := memdb.From(tx)
	if err != nil {
		return err
	}
	mt.Stage(nil, func() { l.applied++ })
	return nil
}

func (l *ledger) count() int {
	var n int
	l.db.View(func() { n = l.applied })
	return n
}

func setup(opts ...Option) (*Filter, *MemoryStore, *ledger) {
	d := memdb.New()
	store := NewMemoryStore(d)
	return NewFilter(d, store, opts...), store, &ledger{db: d}
}

func envelope(id string) messaging.Envelope {
	return messaging.Envelope{ID: id, Type: "booking.created.v1", Key: "booking-1", Payload: []byte(`{}`)}
}

func TestWrap_RedeliveryAppliesOnce(t *testing.T) {
	f, store, l := setup(WithMetrics(metrics.NewMessaging(prometheus.NewRegistry(), "test")))
	h := f.Wrap("hotel-reservation", l.apply)

	for i := 0; i < 3; i++ {
		require.NoError(t, h(context.Background(), envelope("msg-1")))
	}
	require.Equal(t, 1, l.count())
	require.Equal(t, 1, store.Len())
}

func TestWrap_ConsumersDeduplicateIndependently(t *testing.T) {
	f, store, l := setup()
	hotel := f.Wrap("hotel-reservation", l.apply)
	car := f.Wrap("car-reservation", l.apply)

	require.NoError(t, hotel(context.Background(), envelope("msg-1")))
	require.NoError(t, car(context.Background(), envelope("msg-1")))
	require.NoError(t, car(context.Background(), envelope("msg-1")))

	require.Equal(t, 2, l.count())
	require.Equal(t, 2, store.Len())
}

func TestWrap_HandlerErrorLeavesNoTrace(t *testing.T) {
	f, store, l := setup()
	boom := errors.New("downstream unavailable")
	fail := true
	h := f.Wrap("booking-step-completed", func(ctx context.Context, tx db.Tx, env messaging.Envelope) error {
		if err := l.apply(ctx, tx, env); err != nil {
			return err
		}
		if fail {
			return boom
		}
		return nil
	})

	require.ErrorIs(t, h(context.Background(), envelope("msg-1")), boom)
	require.Zero(t, l.count())
	require.Zero(t, store.Len())

	fail = false
	require.NoError(t, h(context.Background(), envelope("msg-1")))
	require.Equal(t, 1, l.count())
	require.Equal(t, 1, store.Len())
}

func TestWrap_PermanentErrorsPassThroughUnchanged(t *testing.T) {
	f, _, _ := setup()
	h := f.Wrap("booking-failed", func(context.Context, db.Tx, messaging.Envelope) error {
		return messaging.Permanent(errors.New("undecodable"))
	})
	require.True(t, messaging.IsPermanent(h(context.Background(), envelope("msg-1"))))
}

func TestWrap_MessageWithoutIDIsNotDeduplicated(t *testing.T) {
	f, store, l := setup()
	h := f.Wrap("hotel-reservation", l.apply)

	require.NoError(t, h(context.Background(), envelope("")))
	require.NoError(t, h(context.Background(), envelope("")))
	require.Equal(t, 2, l.count())
	require.Zero(t, store.Len())
}

func TestWrap_DisabledFilterStillUsesTransactions(t *testing.T) {
	f, store, l := setup(WithEnabled(false))
	h := f.Wrap("hotel-reservation", l.apply)

	require.NoError(t, h(context.Background(), envelope("msg-1")))
	require.NoError(t, h(context.Background(), envelope("msg-1")))
	require.Equal(t, 2, l.count())
	require.Zero(t, store.Len())
}

func TestWrap_ConcurrentDeliveriesApplyOnce(t *testing.T) {
	f, store, l := setup()
	h := f.Wrap("car-reservation", l.apply)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h(context.Background(), envelope("msg-1"))
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 1, l.count())
	require.Equal(t, 1, store.Len())
}

// racingStore misses the existing row on lookup, as a concurrent delivery
// that has not committed yet would.
type racingStore struct {
	*MemoryStore
}

func (racingStore) Exists(context.Context, db.Tx, string, string) (bool, error) {
	return false, nil
}

func TestWrap_DuplicateOnInsertRollsBackHandler(t *testing.T) {
	d := memdb.New()
	mem := NewMemoryStore(d)
	l := &ledger{db: d}

	require.NoError(t, NewFilter(d, mem).Wrap("flight-reservation", l.apply)(context.Background(), envelope("msg-1")))
	require.Equal(t, 1, l.count())

	racing := NewFilter(d, racingStore{mem}).Wrap("flight-reservation", l.apply)
	require.NoError(t, racing(context.Background(), envelope("msg-1")))
	require.Equal(t, 1, l.count())
	require.Equal(t, 1, mem.Len())
}
