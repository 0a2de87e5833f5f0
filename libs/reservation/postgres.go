package reservation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/tripsaga/libs/db"
	"github.com/md-rashed-zaman/tripsaga/libs/events"
)

const selectColumns = `id, booking_id, user_id, step, code, status, price, start_date, end_date,
	details, COALESCE(cancel_reason, ''), created_at, updated_at`

type PostgresRepository struct {
	pool *db.Pool
}

func NewPostgresRepository(pool *db.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Insert(ctx context.Context, tx db.Tx, res Reservation) error {
	ptx, err := db.PgxTx(tx)
	if err != nil {
		return err
	}
	details, err := json.Marshal(res.Details)
	if err != nil {
		return err
	}
	_, err = ptx.Exec(ctx, `
		INSERT INTO reservations
			(id, booking_id, user_id, step, code, status, price, start_date, end_date,
			 details, cancel_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12, $13)
	`, res.ID, res.BookingID, res.UserID, res.Step.String(), res.Code, string(res.Status), res.Price,
		res.StartDate, res.EndDate, details, res.CancelReason, res.CreatedAt, res.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, tx db.Tx, res Reservation) error {
	ptx, err := db.PgxTx(tx)
	if err != nil {
		return err
	}
	tag, err := ptx.Exec(ctx, `
		UPDATE reservations
		SET status = $2, cancel_reason = NULLIF($3, ''), updated_at = $4
		WHERE id = $1
	`, res.ID, string(res.Status), res.CancelReason, res.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update reservation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) ForBooking(ctx context.Context, tx db.Tx, bookingID uuid.UUID) (Reservation, error) {
	ptx, err := db.PgxTx(tx)
	if err != nil {
		return Reservation{}, err
	}
	return scanOne(ptx.QueryRow(ctx, `
		SELECT `+selectColumns+`
		FROM reservations
		WHERE booking_id = $1
		FOR UPDATE
	`, bookingID))
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (Reservation, error) {
	return scanOne(r.pool.QueryRow(ctx, `
		SELECT `+selectColumns+`
		FROM reservations
		WHERE id = $1
	`, id))
}

func (r *PostgresRepository) GetByBooking(ctx context.Context, bookingID uuid.UUID) (Reservation, error) {
	return scanOne(r.pool.QueryRow(ctx, `
		SELECT `+selectColumns+`
		FROM reservations
		WHERE booking_id = $1
	`, bookingID))
}

func scanOne(row pgx.Row) (Reservation, error) {
	var (
		res     Reservation
		step    string
		status  string
		details []byte
	)
	err := row.Scan(
		&res.ID,
		&res.BookingID,
		&res.UserID,
		&step,
		&res.Code,
		&status,
		&res.Price,
		&res.StartDate,
		&res.EndDate,
		&details,
		&res.CancelReason,
		&res.CreatedAt,
		&res.UpdatedAt,
	)
	if err != nil {
		if db.IsNotFound(err) {
			return Reservation{}, ErrNotFound
		}
		return Reservation{}, err
	}
	if res.Step, err = events.ParseStepType(step); err != nil {
		return Reservation{}, err
	}
	res.Status = Status(status)
	if len(details) > 0 {
		if err := json.Unmarshal(details, &res.Details); err != nil {
			return Reservation{}, fmt.Errorf("decode reservation details: %w", err)
		}
	}
	return res, nil
}
