package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/tripsaga/libs/db"
	"github.com/md-rashed-zaman/tripsaga/libs/db/memdb"
	"github.com/md-rashed-zaman/tripsaga/libs/events"
	"github.com/md-rashed-zaman/tripsaga/services/booking-service/internal/booking"
	"github.com/stretchr/testify/require"
)

func insert(t *testing.T, d *memdb.DB, repo *MemoryRepository, b *booking.Booking) error {
	t.Helper()
	return db.WithinTx(context.Background(), d, func(ctx context.Context, tx db.Tx) error {
		return repo.Insert(ctx, tx, b)
	})
}

func newBooking(t *testing.T, user uuid.UUID, key string, created time.Time) *booking.Booking {
	t.Helper()
	b, err := booking.New(booking.Params{
		UserID:         user,
		CheckIn:        created.AddDate(0, 0, 7),
		CheckOut:       created.AddDate(0, 0, 9),
		IncludeHotel:   true,
		IdempotencyKey: key,
	}, created)
	require.NoError(t, err)
	return b
}

func TestMemoryRepository_IdempotencyKeyIsUniquePerUser(t *testing.T) {
	d := memdb.New()
	repo := NewMemoryRepository(d)
	user := uuid.New()
	now := time.Now()

	first := newBooking(t, user, "key-1", now)
	require.NoError(t, insert(t, d, repo, first))
	require.ErrorIs(t, insert(t, d, repo, newBooking(t, user, "key-1", now)), booking.ErrDuplicateKey)
	require.NoError(t, insert(t, d, repo, newBooking(t, uuid.New(), "key-1", now)))
	require.NoError(t, insert(t, d, repo, newBooking(t, user, "", now)))
	require.NoError(t, insert(t, d, repo, newBooking(t, user, "", now)))

	got, err := repo.ByIdempotencyKey(context.Background(), user, "key-1")
	require.NoError(t, err)
	require.Equal(t, first.ID, got.ID)
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	d := memdb.New()
	repo := NewMemoryRepository(d)
	b := newBooking(t, uuid.New(), "", time.Now())
	require.NoError(t, insert(t, d, repo, b))

	got, err := repo.Get(context.Background(), b.ID)
	require.NoError(t, err)
	got.Steps[0].Status = booking.StepFailed
	got.CompensatedSteps = append(got.CompensatedSteps, events.StepHotel)

	again, err := repo.Get(context.Background(), b.ID)
	require.NoError(t, err)
	require.Equal(t, booking.StepPending, again.Steps[0].Status)
	require.Empty(t, again.CompensatedSteps)
}

func TestMemoryRepository_UpdateAndList(t *testing.T) {
	d := memdb.New()
	repo := NewMemoryRepository(d)
	user := uuid.New()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		b := newBooking(t, user, "", base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, insert(t, d, repo, b))
		ids = append(ids, b.ID)
	}

	require.NoError(t, db.WithinTx(context.Background(), d, func(ctx context.Context, tx db.Tx) error {
		b, err := repo.ForUpdate(ctx, tx, ids[0])
		if err != nil {
			return err
		}
		b.Start(base)
		return repo.Update(ctx, tx, b)
	}))
	got, err := repo.Get(context.Background(), ids[0])
	require.NoError(t, err)
	require.Equal(t, booking.StatusProcessing, got.Status)

	list, err := repo.ListByUser(context.Background(), user, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, ids[2], list[0].ID)
	require.Equal(t, ids[1], list[1].ID)

	_, err = repo.Get(context.Background(), uuid.New())
	require.ErrorIs(t, err, booking.ErrNotFound)
}
