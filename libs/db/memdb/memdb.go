// Package memdb is an in-memory db.UnitOfWork. Stores built on it stage
// their writes on a Tx; Commit validates every staged check and then applies
// every staged write, so a transaction is all-or-nothing like its Postgres
// counterpart.
//
// Transactions are serialized: Begin blocks until the running transaction
// commits or rolls back. Reads inside a transaction see committed state.
package memdb

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/md-rashed-zaman/tripsaga/libs/db"
)

var ErrTxDone = errors.New("memdb: transaction already finished")

type DB struct {
	sem chan struct{}
	mu  sync.RWMutex
}

func New() *DB {
	return &DB{sem: make(chan struct{}, 1)}
}

func (d *DB) Begin(ctx context.Context) (db.Tx, error) {
	select {
	case d.sem <- struct{}{}:
		return &Tx{db: d}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// View runs fn with committed state locked for reading. Use it for reads
// outside a transaction.
func (d *DB) View(fn func()) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn()
}

type Tx struct {
	db     *DB
	parent *Tx
	checks []func() error
	writes []func()
	done   bool
}

// Stage registers a write. check, when non-nil, runs at commit before any
// write is applied; an error aborts the whole transaction.
func (t *Tx) Stage(check func() error, write func()) {
	if check != nil {
		t.checks = append(t.checks, check)
	}
	if write != nil {
		t.writes = append(t.writes, write)
	}
}

func (t *Tx) Commit(context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	if t.parent != nil {
		t.parent.checks = append(t.parent.checks, t.checks...)
		t.parent.writes = append(t.parent.writes, t.writes...)
		return nil
	}
	defer t.release()

	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	for _, check := range t.checks {
		if err := check(); err != nil {
			return err
		}
	}
	for _, write := range t.writes {
		write()
	}
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	if t.parent == nil {
		t.release()
	}
	return nil
}

func (t *Tx) Savepoint(context.Context) (db.Tx, error) {
	if t.done {
		return nil, ErrTxDone
	}
	return &Tx{db: t.db, parent: t}, nil
}

func (t *Tx) release() {
	<-t.db.sem
}

// From returns the memdb transaction behind tx.
func From(tx db.Tx) (*Tx, error) {
	mt, ok := tx.(*Tx)
	if !ok {
		return nil, fmt.Errorf("memdb: %T is not an in-memory transaction", tx)
	}
	if mt.done {
		return nil, ErrTxDone
	}
	return mt, nil
}
