package db

import (
	"context"
	"errors"
)

// Tx is one local transaction. Stores accept it so that a business mutation,
// its outbox row and its inbox row commit or roll back together.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	// Savepoint opens a nested transaction. Committing it folds its writes
	// into the parent; rolling it back discards only them.
	Savepoint(ctx context.Context) (Tx, error)
}

// UnitOfWork starts local transactions.
type UnitOfWork interface {
	Begin(ctx context.Context) (Tx, error)
}

// WithinTx runs fn in a new transaction and commits when fn returns nil.
func WithinTx(ctx context.Context, uow UnitOfWork, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := uow.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// InSavepoint runs fn inside a savepoint of tx. When fn fails the savepoint
// is rolled back and tx stays usable; the error from fn is returned.
func InSavepoint(ctx context.Context, tx Tx, fn func(ctx context.Context, sp Tx) error) error {
	sp, err := tx.Savepoint(ctx)
	if err != nil {
		return err
	}
	if err := fn(ctx, sp); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return sp.Commit(ctx)
}
