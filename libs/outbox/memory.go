package outbox

import (
	"context"
	"fmt"
	"sort"

	"github.com/md-rashed-zaman/tripsaga/libs/db"
	"github.com/md-rashed-zaman/tripsaga/libs/db/memdb"
)

// MemoryStore is a Store over memdb, used by tests and local wiring that
// runs without Postgres.
type MemoryStore struct {
	db   *memdb.DB
	rows []memoryRow
	seq  int64
}

type memoryRow struct {
	seq int64
	msg Message
}

func NewMemoryStore(d *memdb.DB) *MemoryStore {
	return &MemoryStore{db: d}
}

func (s *MemoryStore) Insert(_ context.Context, tx db.Tx, msg Message) error {
	mt, err := memdb.From(tx)
	if err != nil {
		return err
	}
	msg.Content = append([]byte(nil), msg.Content...)
	mt.Stage(func() error {
		for _, r := range s.rows {
			if r.msg.ID == msg.ID {
				return fmt.Errorf("outbox message %s already exists", msg.ID)
			}
		}
		return nil
	}, func() {
		s.seq++
		s.rows = append(s.rows, memoryRow{seq: s.seq, msg: msg})
	})
	return nil
}

func (s *MemoryStore) ClaimPending(_ context.Context, tx db.Tx, limit, maxRetry int) ([]Message, error) {
	if _, err := memdb.From(tx); err != nil {
		return nil, err
	}
	pending := make([]memoryRow, 0, len(s.rows))
	for _, r := range s.rows {
		if r.msg.Pending(maxRetry) {
			pending = append(pending, r)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		a, b := pending[i], pending[j]
		if !a.msg.CreatedAt.Equal(b.msg.CreatedAt) {
			return a.msg.CreatedAt.Before(b.msg.CreatedAt)
		}
		return a.seq < b.seq
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}
	out := make([]Message, len(pending))
	for i, r := range pending {
		out[i] = r.msg
	}
	return out, nil
}

func (s *MemoryStore) SaveOutcomes(_ context.Context, tx db.Tx, msgs []Message) error {
	mt, err := memdb.From(tx)
	if err != nil {
		return err
	}
	updates := append([]Message(nil), msgs...)
	mt.Stage(nil, func() {
		for _, u := range updates {
			for i := range s.rows {
				if s.rows[i].msg.ID == u.ID {
					s.rows[i].msg.ProcessedAt = u.ProcessedAt
					s.rows[i].msg.Error = u.Error
					s.rows[i].msg.RetryCount = u.RetryCount
				}
			}
		}
	})
	return nil
}

func (s *MemoryStore) ListFailed(_ context.Context, maxRetry, limit int) ([]Message, error) {
	var out []Message
	s.db.View(func() {
		for i := len(s.rows) - 1; i >= 0 && len(out) < limit; i-- {
			if s.rows[i].msg.Failed(maxRetry) {
				out = append(out, s.rows[i].msg)
			}
		}
	})
	return out, nil
}

// Messages returns every committed row in insertion order.
func (s *MemoryStore) Messages() []Message {
	var out []Message
	s.db.View(func() {
		out = make([]Message, len(s.rows))
		for i, r := range s.rows {
			out[i] = r.msg
		}
	})
	return out
}
