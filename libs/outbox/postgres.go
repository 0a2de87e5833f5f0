package outbox

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/tripsaga/libs/db"
)

const selectColumns = `id, type, aggregate_id, content, created_at, processed_at,
	COALESCE(error, ''), retry_count, COALESCE(traceparent, ''), COALESCE(tracestate, '')`

type PostgresStore struct {
	pool *db.Pool
}

func NewPostgresStore(pool *db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Insert(ctx context.Context, tx db.Tx, msg Message) error {
	ptx, err := db.PgxTx(tx)
	if err != nil {
		return err
	}
	_, err = ptx.Exec(ctx, `
		INSERT INTO outbox_messages
			(id, type, aggregate_id, content, created_at, retry_count, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, 0, NULLIF($6, ''), NULLIF($7, ''))
	`, msg.ID, msg.Type, msg.AggregateID, msg.Content, msg.CreatedAt, msg.Traceparent, msg.Tracestate)
	return err
}

func (s *PostgresStore) ClaimPending(ctx context.Context, tx db.Tx, limit, maxRetry int) ([]Message, error) {
	ptx, err := db.PgxTx(tx)
	if err != nil {
		return nil, err
	}
	rows, err := ptx.Query(ctx, `
		SELECT `+selectColumns+`
		FROM outbox_messages
		WHERE processed_at IS NULL AND retry_count < $2
		ORDER BY created_at, seq
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit, maxRetry)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (s *PostgresStore) SaveOutcomes(ctx context.Context, tx db.Tx, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ptx, err := db.PgxTx(tx)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, m := range msgs {
		batch.Queue(`
			UPDATE outbox_messages
			SET processed_at = $2, error = NULLIF($3, ''), retry_count = $4
			WHERE id = $1
		`, m.ID, m.ProcessedAt, m.Error, m.RetryCount)
	}
	br := ptx.SendBatch(ctx, batch)
	for _, m := range msgs {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("update outbox message %s: %w", m.ID, err)
		}
	}
	return br.Close()
}

func (s *PostgresStore) ListFailed(ctx context.Context, maxRetry, limit int) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+selectColumns+`
		FROM outbox_messages
		WHERE processed_at IS NULL AND retry_count >= $1
		ORDER BY created_at DESC
		LIMIT $2
	`, maxRetry, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]Message, error) {
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(
			&m.ID,
			&m.Type,
			&m.AggregateID,
			&m.Content,
			&m.CreatedAt,
			&m.ProcessedAt,
			&m.Error,
			&m.RetryCount,
			&m.Traceparent,
			&m.Tracestate,
		); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
