package db

import (
	"context"
	"sync"
)

const memTxKey contextKey = "mem_tx"

type memTx struct {
	mu   sync.Mutex
	undo []func()
}

func (t *memTx) rollback() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

// MemoryTransactor gives the in-memory stores all-or-nothing semantics.
// Each store applies its writes immediately and registers an undo step with
// OnRollback; the steps run in reverse order when fn fails or ctx expires
// before the unit finishes.
type MemoryTransactor struct{}

func NewMemoryTransactor() *MemoryTransactor {
	return &MemoryTransactor{}
}

func (MemoryTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(memTxKey).(*memTx); ok {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{}
	err := fn(context.WithValue(ctx, memTxKey, tx))
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// OnRollback registers undo to run if the unit bound to ctx aborts. Outside
// a unit it does nothing.
func OnRollback(ctx context.Context, undo func()) {
	tx, ok := ctx.Value(memTxKey).(*memTx)
	if !ok {
		return
	}
	tx.mu.Lock()
	tx.undo = append(tx.undo, undo)
	tx.mu.Unlock()
}
