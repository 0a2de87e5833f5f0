package inbox

import (
	"context"

	"github.com/md-rashed-zaman/tripsaga/libs/db"
)

type PostgresStore struct{}

func NewPostgresStore() *PostgresStore {
	return &PostgresStore{}
}

func (s *PostgresStore) Exists(ctx context.Context, tx db.Tx, messageID, consumerType string) (bool, error) {
	ptx, err := db.PgxTx(tx)
	if err != nil {
		return false, err
	}
	var exists bool
	err = ptx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM inbox_messages
			WHERE message_id = $1 AND consumer_type = $2
		)
	`, messageID, consumerType).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) Insert(ctx context.Context, tx db.Tx, msg Message) error {
	ptx, err := db.PgxTx(tx)
	if err != nil {
		return err
	}
	_, err = ptx.Exec(ctx, `
		INSERT INTO inbox_messages (message_id, consumer_type, processed_at)
		VALUES ($1, $2, $3)
	`, msg.MessageID, msg.ConsumerType, msg.ProcessedAt)
	if db.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}
