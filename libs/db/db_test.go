package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type recordingTx struct {
	name  string
	calls *[]string
}

func (t recordingTx) Commit(context.Context) error {
	*t.calls = append(*t.calls, t.name+".commit")
	return nil
}

func (t recordingTx) Rollback(context.Context) error {
	*t.calls = append(*t.calls, t.name+".rollback")
	return nil
}

func (t recordingTx) Savepoint(context.Context) (Tx, error) {
	*t.calls = append(*t.calls, t.name+".savepoint")
	return recordingTx{name: "sp", calls: t.calls}, nil
}

type recordingUoW struct{ calls []string }

func (u *recordingUoW) Begin(context.Context) (Tx, error) {
	u.calls = append(u.calls, "begin")
	return recordingTx{name: "tx", calls: &u.calls}, nil
}

func TestWithinTx_CommitsOnSuccess(t *testing.T) {
	uow := &recordingUoW{}
	require.NoError(t, WithinTx(context.Background(), uow, func(context.Context, Tx) error { return nil }))
	// The deferred rollback after commit is a no-op on real drivers.
	require.Equal(t, []string{"begin", "tx.commit", "tx.rollback"}, uow.calls)
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	uow := &recordingUoW{}
	boom := errors.New("boom")
	err := WithinTx(context.Background(), uow, func(context.Context, Tx) error { return boom })
	require.ErrorIs(t, err, boom)
	require.Equal(t, []string{"begin", "tx.rollback"}, uow.calls)
}

func TestInSavepoint(t *testing.T) {
	var calls []string
	tx := recordingTx{name: "tx", calls: &calls}

	require.NoError(t, InSavepoint(context.Background(), tx, func(context.Context, Tx) error { return nil }))
	require.Equal(t, []string{"tx.savepoint", "sp.commit"}, calls)

	calls = nil
	refused := errors.New("no seats")
	err := InSavepoint(context.Background(), tx, func(context.Context, Tx) error { return refused })
	require.ErrorIs(t, err, refused)
	require.Equal(t, []string{"tx.savepoint", "sp.rollback"}, calls)
}

func TestPoolOptionsDefaults(t *testing.T) {
	o := PoolOptions{}.withDefaults()
	require.Equal(t, PoolOptions{
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: 30 * time.Minute,
		MaxConnIdleTime: 5 * time.Minute,
	}, o)

	o = PoolOptions{MaxConns: 4, MinConns: 8}.withDefaults()
	require.Equal(t, int32(4), o.MinConns)
}

func TestErrorClassification(t *testing.T) {
	dup := fmt.Errorf("insert inbox: %w", &pgconn.PgError{Code: "23505"})
	require.True(t, IsUniqueViolation(dup))
	require.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	require.False(t, IsUniqueViolation(errors.New("23505")))

	require.True(t, IsNotFound(fmt.Errorf("load booking: %w", pgx.ErrNoRows)))
	require.False(t, IsNotFound(dup))
}

func TestPgxTxRejectsOtherBackends(t *testing.T) {
	var calls []string
	_, err := PgxTx(recordingTx{name: "tx", calls: &calls})
	require.Error(t, err)
}
