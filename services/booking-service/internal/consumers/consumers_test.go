package consumers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/tripsaga/libs/db"
	"github.com/md-rashed-zaman/tripsaga/libs/db/memdb"
	"github.com/md-rashed-zaman/tripsaga/libs/events"
	"github.com/md-rashed-zaman/tripsaga/libs/inbox"
	"github.com/md-rashed-zaman/tripsaga/libs/messaging"
	"github.com/md-rashed-zaman/tripsaga/libs/outbox"
	"github.com/md-rashed-zaman/tripsaga/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/tripsaga/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/tripsaga/services/booking-service/internal/service"
	"github.com/md-rashed-zaman/tripsaga/services/booking-service/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type harness struct {
	db       *memdb.DB
	outbox   *outbox.MemoryStore
	repo     *storage.MemoryRepository
	svc      *service.Service
	c        *Consumers
	registry *prometheus.Registry
}

func newHarness() *harness {
	return newHarnessWithStore(func(s *outbox.MemoryStore) outbox.Store { return s })
}

func newHarnessWithStore(wrap func(*outbox.MemoryStore) outbox.Store) *harness {
	d := memdb.New()
	store := outbox.NewMemoryStore(d)
	pub := outbox.NewPublisher(wrap(store), events.NewBookingRegistry(), nil)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	repo := storage.NewMemoryRepository(d)
	comp := service.NewCompensator(pub, m)
	return &harness{
		db:       d,
		outbox:   store,
		repo:     repo,
		svc:      service.New(d, repo, pub, comp, m),
		c:        New(repo, comp, m),
		registry: reg,
	}
}

func (h *harness) create(t *testing.T, flights, hotel, car bool) *booking.Booking {
	t.Helper()
	in := time.Now().UTC().AddDate(0, 0, 14)
	b, _, err := h.svc.Create(context.Background(), booking.Params{
		UserID:         uuid.New(),
		CheckIn:        in,
		CheckOut:       in.AddDate(0, 0, 2),
		IncludeFlights: flights,
		IncludeHotel:   hotel,
		IncludeCar:     car,
	})
	require.NoError(t, err)
	return b
}

func envelope(t *testing.T, typ string, evt any) messaging.Envelope {
	t.Helper()
	payload, err := json.Marshal(evt)
	require.NoError(t, err)
	return messaging.Envelope{ID: uuid.NewString(), Type: typ, Payload: payload}
}

func completed(t *testing.T, bookingID uuid.UUID, st events.StepType, price int64) messaging.Envelope {
	return envelope(t, events.TypeBookingStepCompleted, events.BookingStepCompleted{
		BookingID:        bookingID,
		StepType:         st,
		ExternalID:       uuid.New(),
		Price:            price,
		ConfirmationCode: "CODE-" + st.String(),
	})
}

func failed(t *testing.T, bookingID uuid.UUID, st events.StepType, reason string) messaging.Envelope {
	return envelope(t, events.TypeBookingFailed, events.BookingFailed{
		BookingID: bookingID,
		StepType:  st,
		Reason:    reason,
	})
}

func (h *harness) apply(t *testing.T, fn inbox.Handler, env messaging.Envelope) error {
	t.Helper()
	return db.WithinTx(context.Background(), h.db, func(ctx context.Context, tx db.Tx) error {
		return fn(ctx, tx, env)
	})
}

func (h *harness) compensationRequests(t *testing.T) []events.StepType {
	t.Helper()
	var out []events.StepType
	for _, msg := range h.outbox.Messages() {
		if msg.Type != events.TypeBookingStepCompensationRequested {
			continue
		}
		evt, err := events.Decode[events.BookingStepCompensationRequested](msg.Content)
		require.NoError(t, err)
		out = append(out, evt.StepType)
	}
	return out
}

func TestStepCompleted_ConfirmsWhenEveryRequestedStepIsRecorded(t *testing.T) {
	h := newHarness()
	b := h.create(t, true, false, true)

	require.NoError(t, h.apply(t, h.c.StepCompleted, completed(t, b.ID, events.StepFlight, 50000)))
	got, err := h.repo.Get(context.Background(), b.ID)
	require.NoError(t, err)
	require.Equal(t, booking.StatusProcessing, got.Status)
	require.Equal(t, booking.PhaseBookingCar, got.Phase())

	require.NoError(t, h.apply(t, h.c.StepCompleted, completed(t, b.ID, events.StepCar, 15000)))
	got, err = h.repo.Get(context.Background(), b.ID)
	require.NoError(t, err)
	require.Equal(t, booking.StatusConfirmed, got.Status)
	require.Equal(t, int64(65000), got.TotalPrice)
	require.Equal(t, "CODE-Car", got.Step(events.StepCar).ConfirmationCode)
	require.Equal(t, float64(1), counter(t, h.registry, "bookings_confirmed_total"))
}

func TestStepCompleted_ReplayWithoutInboxIsIgnored(t *testing.T) {
	h := newHarness()
	b := h.create(t, true, true, false)
	env := completed(t, b.ID, events.StepFlight, 50000)

	require.NoError(t, h.apply(t, h.c.StepCompleted, env))
	env.ID = uuid.NewString()
	require.NoError(t, h.apply(t, h.c.StepCompleted, env))

	got, err := h.repo.Get(context.Background(), b.ID)
	require.NoError(t, err)
	require.Equal(t, int64(50000), got.TotalPrice)
	require.Equal(t, float64(1), counter(t, h.registry, "booking_steps_completed_total"))
}

func TestStepCompleted_UnrequestedStepIsPermanent(t *testing.T) {
	h := newHarness()
	b := h.create(t, true, false, false)

	err := h.apply(t, h.c.StepCompleted, completed(t, b.ID, events.StepHotel, 45000))
	require.ErrorIs(t, err, booking.ErrStepNotRequested)
	require.True(t, messaging.IsPermanent(err))
}

func TestStepCompleted_UnknownBookingIsPermanent(t *testing.T) {
	h := newHarness()

	err := h.apply(t, h.c.StepCompleted, completed(t, uuid.New(), events.StepFlight, 1))
	require.ErrorIs(t, err, booking.ErrNotFound)
	require.True(t, messaging.IsPermanent(err))
}

func TestStepCompleted_MalformedPayloadIsPermanent(t *testing.T) {
	h := newHarness()
	env := messaging.Envelope{ID: uuid.NewString(), Type: events.TypeBookingStepCompleted, Payload: []byte("{")}

	err := h.apply(t, h.c.StepCompleted, env)
	require.Error(t, err)
	require.True(t, messaging.IsPermanent(err))
}

func TestBookingFailed_CompensatesHotelThenFlight(t *testing.T) {
	h := newHarness()
	b := h.create(t, true, true, true)

	require.NoError(t, h.apply(t, h.c.StepCompleted, completed(t, b.ID, events.StepFlight, 50000)))
	require.NoError(t, h.apply(t, h.c.StepCompleted, completed(t, b.ID, events.StepHotel, 45000)))
	require.NoError(t, h.apply(t, h.c.BookingFailed, failed(t, b.ID, events.StepCar, "no cars available")))

	got, err := h.repo.Get(context.Background(), b.ID)
	require.NoError(t, err)
	require.Equal(t, booking.StatusFailed, got.Status)
	require.Equal(t, "no cars available", got.FailureReason)
	require.Equal(t, booking.StepFailed, got.Step(events.StepCar).Status)
	require.Equal(t, []events.StepType{events.StepHotel, events.StepFlight}, got.CompensatedSteps)
	require.Equal(t, []events.StepType{events.StepHotel, events.StepFlight}, h.compensationRequests(t))
	require.Equal(t, float64(1), counter(t, h.registry, "bookings_failed_total"))
	require.Equal(t, float64(2), counter(t, h.registry, "booking_compensations_requested_total"))
}

func TestBookingFailed_SecondFailureDoesNotCompensateAgain(t *testing.T) {
	h := newHarness()
	b := h.create(t, true, true, true)

	require.NoError(t, h.apply(t, h.c.StepCompleted, completed(t, b.ID, events.StepFlight, 50000)))
	require.NoError(t, h.apply(t, h.c.BookingFailed, failed(t, b.ID, events.StepHotel, "sold out")))
	require.NoError(t, h.apply(t, h.c.BookingFailed, failed(t, b.ID, events.StepCar, "no cars")))

	got, err := h.repo.Get(context.Background(), b.ID)
	require.NoError(t, err)
	require.Equal(t, "sold out", got.FailureReason)
	require.Equal(t, []events.StepType{events.StepFlight}, h.compensationRequests(t))
	require.Equal(t, float64(1), counter(t, h.registry, "bookings_failed_total"))
}

func TestBookingFailed_UnknownBookingIsPermanent(t *testing.T) {
	h := newHarness()

	err := h.apply(t, h.c.BookingFailed, failed(t, uuid.New(), events.StepCar, "x"))
	require.True(t, messaging.IsPermanent(err))
}

// flakyOutbox refuses the first compensation request for one step.
type flakyOutbox struct {
	*outbox.MemoryStore
	step   events.StepType
	failed bool
}

func (f *flakyOutbox) Insert(ctx context.Context, tx db.Tx, msg outbox.Message) error {
	if msg.Type == events.TypeBookingStepCompensationRequested && !f.failed {
		evt, err := events.Decode[events.BookingStepCompensationRequested](msg.Content)
		if err == nil && evt.StepType == f.step {
			f.failed = true
			return errors.New("outbox insert refused")
		}
	}
	return f.MemoryStore.Insert(ctx, tx, msg)
}

func TestBookingFailed_CommitsEvenWhenOneCompensationCannotBeRequested(t *testing.T) {
	h := newHarnessWithStore(func(s *outbox.MemoryStore) outbox.Store {
		return &flakyOutbox{MemoryStore: s, step: events.StepHotel}
	})
	b := h.create(t, true, true, true)

	require.NoError(t, h.apply(t, h.c.StepCompleted, completed(t, b.ID, events.StepFlight, 50000)))
	require.NoError(t, h.apply(t, h.c.StepCompleted, completed(t, b.ID, events.StepHotel, 45000)))
	require.NoError(t, h.apply(t, h.c.BookingFailed, failed(t, b.ID, events.StepCar, "no cars")))

	got, err := h.repo.Get(context.Background(), b.ID)
	require.NoError(t, err)
	require.Equal(t, booking.StatusFailed, got.Status)
	require.Equal(t, "no cars", got.FailureReason)
	require.Equal(t, []events.StepType{events.StepFlight}, got.CompensatedSteps)
	require.Equal(t, booking.StepCompleted, got.Step(events.StepHotel).Status)
	require.Contains(t, got.Step(events.StepHotel).Error, "outbox insert refused")
	require.Equal(t, []events.StepType{events.StepFlight}, h.compensationRequests(t))
	require.Equal(t, 1.0, counter(t, h.registry, "bookings_failed_total"))
}

func TestStepCompleted_RejectsReplyWithoutExternalIDOrPrice(t *testing.T) {
	h := newHarness()
	b := h.create(t, true, false, false)

	for name, evt := range map[string]events.BookingStepCompleted{
		"missing external id": {BookingID: b.ID, StepType: events.StepFlight, Price: 50000},
		"zero price":          {BookingID: b.ID, StepType: events.StepFlight, ExternalID: uuid.New()},
	} {
		t.Run(name, func(t *testing.T) {
			env := envelope(t, events.TypeBookingStepCompleted, evt)
			for range 2 {
				err := h.apply(t, h.c.StepCompleted, env)
				require.True(t, messaging.IsPermanent(err))
			}
		})
	}

	got, err := h.repo.Get(context.Background(), b.ID)
	require.NoError(t, err)
	require.Zero(t, got.TotalPrice)
	require.Equal(t, booking.StatusProcessing, got.Status)
	require.Equal(t, booking.StepInProgress, got.Step(events.StepFlight).Status)
}
