package inbox

import (
	"context"

	"github.com/md-rashed-zaman/tripsaga/libs/db"
	"github.com/md-rashed-zaman/tripsaga/libs/db/memdb"
)

type memoryKey struct {
	messageID    string
	consumerType string
}

// MemoryStore is a Store over memdb. Uniqueness is checked again at commit,
// where a clash surfaces as ErrDuplicate.
type MemoryStore struct {
	db   *memdb.DB
	rows map[memoryKey]Message
}

func NewMemoryStore(d *memdb.DB) *MemoryStore {
	return &MemoryStore{db: d, rows: make(map[memoryKey]Message)}
}

func (s *MemoryStore) Exists(_ context.Context, tx db.Tx, messageID, consumerType string) (bool, error) {
	if _, err := memdb.From(tx); err != nil {
		return false, err
	}
	_, ok := s.rows[memoryKey{messageID, consumerType}]
	return ok, nil
}

func (s *MemoryStore) Insert(_ context.Context, tx db.Tx, msg Message) error {
	mt, err := memdb.From(tx)
	if err != nil {
		return err
	}
	key := memoryKey{msg.MessageID, msg.ConsumerType}
	mt.Stage(func() error {
		if _, ok := s.rows[key]; ok {
			return ErrDuplicate
		}
		return nil
	}, func() {
		s.rows[key] = msg
	})
	return nil
}

// Len returns the number of committed inbox rows.
func (s *MemoryStore) Len() int {
	var n int
	s.db.View(func() { n = len(s.rows) })
	return n
}
