package storage

import (
	"context"
	"slices"
	"sort"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/tripsaga/libs/db"
	"github.com/md-rashed-zaman/tripsaga/libs/db/memdb"
	"github.com/md-rashed-zaman/tripsaga/services/booking-service/internal/booking"
)

// MemoryRepository keeps bookings in a memdb. Callers always get copies.
type MemoryRepository struct {
	db   *memdb.DB
	rows map[uuid.UUID]booking.Booking
}

func NewMemoryRepository(d *memdb.DB) *MemoryRepository {
	return &MemoryRepository{db: d, rows: make(map[uuid.UUID]booking.Booking)}
}

func (m *MemoryRepository) Insert(_ context.Context, tx db.Tx, b *booking.Booking) error {
	mt, err := memdb.From(tx)
	if err != nil {
		return err
	}
	row := clone(b)
	mt.Stage(func() error {
		if row.IdempotencyKey == "" {
			return nil
		}
		for _, existing := range m.rows {
			if existing.UserID == row.UserID && existing.IdempotencyKey == row.IdempotencyKey {
				return booking.ErrDuplicateKey
			}
		}
		return nil
	}, func() {
		m.rows[row.ID] = row
	})
	return nil
}

func (m *MemoryRepository) Update(_ context.Context, tx db.Tx, b *booking.Booking) error {
	mt, err := memdb.From(tx)
	if err != nil {
		return err
	}
	if _, ok := m.rows[b.ID]; !ok {
		return booking.ErrNotFound
	}
	row := clone(b)
	mt.Stage(nil, func() { m.rows[row.ID] = row })
	return nil
}

func (m *MemoryRepository) ForUpdate(_ context.Context, tx db.Tx, id uuid.UUID) (*booking.Booking, error) {
	if _, err := memdb.From(tx); err != nil {
		return nil, err
	}
	row, ok := m.rows[id]
	if !ok {
		return nil, booking.ErrNotFound
	}
	return ptr(row), nil
}

func (m *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*booking.Booking, error) {
	var (
		row booking.Booking
		ok  bool
	)
	m.db.View(func() { row, ok = m.rows[id] })
	if !ok {
		return nil, booking.ErrNotFound
	}
	return ptr(row), nil
}

func (m *MemoryRepository) ByIdempotencyKey(_ context.Context, userID uuid.UUID, key string) (*booking.Booking, error) {
	var found *booking.Booking
	m.db.View(func() {
		for _, row := range m.rows {
			if row.UserID == userID && row.IdempotencyKey == key {
				found = ptr(row)
				return
			}
		}
	})
	if found == nil {
		return nil, booking.ErrNotFound
	}
	return found, nil
}

func (m *MemoryRepository) ListByUser(_ context.Context, userID uuid.UUID, limit int) ([]*booking.Booking, error) {
	var out []*booking.Booking
	m.db.View(func() {
		for _, row := range m.rows {
			if row.UserID == userID {
				out = append(out, ptr(row))
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clone(b *booking.Booking) booking.Booking {
	row := *b
	row.Steps = slices.Clone(b.Steps)
	row.CompensatedSteps = slices.Clone(b.CompensatedSteps)
	return row
}

func ptr(row booking.Booking) *booking.Booking {
	b := clone(&row)
	return &b
}
