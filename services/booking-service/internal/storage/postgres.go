package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/tripsaga/libs/db"
	"github.com/md-rashed-zaman/tripsaga/libs/events"
	"github.com/md-rashed-zaman/tripsaga/services/booking-service/internal/booking"
)

const selectColumns = `id, user_id, reference_number, status, check_in, check_out,
	include_flights, include_hotel, include_car, steps, total_price,
	COALESCE(failure_reason, ''), compensated_steps, COALESCE(idempotency_key, ''),
	created_at, updated_at`

type PostgresRepository struct {
	pool *db.Pool
}

func NewPostgresRepository(pool *db.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Insert(ctx context.Context, tx db.Tx, b *booking.Booking) error {
	ptx, err := db.PgxTx(tx)
	if err != nil {
		return err
	}
	steps, err := json.Marshal(b.Steps)
	if err != nil {
		return err
	}
	_, err = ptx.Exec(ctx, `
		INSERT INTO bookings
			(id, user_id, reference_number, status, check_in, check_out,
			 include_flights, include_hotel, include_car, steps, total_price,
			 failure_reason, compensated_steps, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, ''), $13, NULLIF($14, ''), $15, $16)
	`, b.ID, b.UserID, b.ReferenceNumber, string(b.Status), b.CheckIn, b.CheckOut,
		b.IncludeFlights, b.IncludeHotel, b.IncludeCar, steps, b.TotalPrice,
		b.FailureReason, stepNames(b.CompensatedSteps), b.IdempotencyKey, b.CreatedAt, b.UpdatedAt)
	if db.IsUniqueViolation(err) && b.IdempotencyKey != "" {
		return booking.ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, tx db.Tx, b *booking.Booking) error {
	ptx, err := db.PgxTx(tx)
	if err != nil {
		return err
	}
	steps, err := json.Marshal(b.Steps)
	if err != nil {
		return err
	}
	tag, err := ptx.Exec(ctx, `
		UPDATE bookings
		SET status = $2,
			steps = $3,
			total_price = $4,
			failure_reason = NULLIF($5, ''),
			compensated_steps = $6,
			updated_at = $7
		WHERE id = $1
	`, b.ID, string(b.Status), steps, b.TotalPrice, b.FailureReason, stepNames(b.CompensatedSteps), b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return booking.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) ForUpdate(ctx context.Context, tx db.Tx, id uuid.UUID) (*booking.Booking, error) {
	ptx, err := db.PgxTx(tx)
	if err != nil {
		return nil, err
	}
	return scanBooking(ptx.QueryRow(ctx, `
		SELECT `+selectColumns+`
		FROM bookings
		WHERE id = $1
		FOR UPDATE
	`, id))
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*booking.Booking, error) {
	return scanBooking(r.pool.QueryRow(ctx, `
		SELECT `+selectColumns+`
		FROM bookings
		WHERE id = $1
	`, id))
}

func (r *PostgresRepository) ByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*booking.Booking, error) {
	return scanBooking(r.pool.QueryRow(ctx, `
		SELECT `+selectColumns+`
		FROM bookings
		WHERE user_id = $1 AND idempotency_key = $2
	`, userID, key))
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*booking.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+selectColumns+`
		FROM bookings
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*booking.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBooking(row pgx.Row) (*booking.Booking, error) {
	var (
		b           booking.Booking
		status      string
		steps       []byte
		compensated []string
	)
	err := row.Scan(
		&b.ID,
		&b.UserID,
		&b.ReferenceNumber,
		&status,
		&b.CheckIn,
		&b.CheckOut,
		&b.IncludeFlights,
		&b.IncludeHotel,
		&b.IncludeCar,
		&steps,
		&b.TotalPrice,
		&b.FailureReason,
		&compensated,
		&b.IdempotencyKey,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, booking.ErrNotFound
		}
		return nil, err
	}
	b.Status = booking.Status(status)
	if err := json.Unmarshal(steps, &b.Steps); err != nil {
		return nil, fmt.Errorf("decode booking steps: %w", err)
	}
	for _, name := range compensated {
		st, err := events.ParseStepType(name)
		if err != nil {
			return nil, err
		}
		b.CompensatedSteps = append(b.CompensatedSteps, st)
	}
	return &b, nil
}

func stepNames(steps []events.StepType) []string {
	names := make([]string, len(steps))
	for i, st := range steps {
		names[i] = st.String()
	}
	return names
}
