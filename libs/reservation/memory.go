package reservation

import (
	"context"
	"fmt"
	"maps"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/tripsaga/libs/db"
	"github.com/md-rashed-zaman/tripsaga/libs/db/memdb"
)

type MemoryRepository struct {
	db   *memdb.DB
	rows map[uuid.UUID]Reservation
}

func NewMemoryRepository(d *memdb.DB) *MemoryRepository {
	return &MemoryRepository{db: d, rows: make(map[uuid.UUID]Reservation)}
}

func (m *MemoryRepository) Insert(_ context.Context, tx db.Tx, res Reservation) error {
	mt, err := memdb.From(tx)
	if err != nil {
		return err
	}
	res.Details = maps.Clone(res.Details)
	mt.Stage(func() error {
		for _, existing := range m.rows {
			if existing.ID == res.ID || existing.BookingID == res.BookingID {
				return fmt.Errorf("insert reservation: booking %s already reserved", res.BookingID)
			}
		}
		return nil
	}, func() {
		m.rows[res.ID] = res
	})
	return nil
}

func (m *MemoryRepository) Update(_ context.Context, tx db.Tx, res Reservation) error {
	mt, err := memdb.From(tx)
	if err != nil {
		return err
	}
	if _, ok := m.rows[res.ID]; !ok {
		return ErrNotFound
	}
	mt.Stage(nil, func() { m.rows[res.ID] = res })
	return nil
}

func (m *MemoryRepository) ForBooking(_ context.Context, tx db.Tx, bookingID uuid.UUID) (Reservation, error) {
	if _, err := memdb.From(tx); err != nil {
		return Reservation{}, err
	}
	return m.byBooking(bookingID)
}

func (m *MemoryRepository) Get(_ context.Context, id uuid.UUID) (Reservation, error) {
	var (
		res Reservation
		ok  bool
	)
	m.db.View(func() { res, ok = m.rows[id] })
	if !ok {
		return Reservation{}, ErrNotFound
	}
	return res, nil
}

func (m *MemoryRepository) GetByBooking(_ context.Context, bookingID uuid.UUID) (Reservation, error) {
	var (
		res Reservation
		err error
	)
	m.db.View(func() { res, err = m.byBooking(bookingID) })
	return res, err
}

func (m *MemoryRepository) byBooking(bookingID uuid.UUID) (Reservation, error) {
	for _, res := range m.rows {
		if res.BookingID == bookingID {
			return res, nil
		}
	}
	return Reservation{}, ErrNotFound
}
