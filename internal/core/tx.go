package core

import (
	"context"
	"fmt"
	"sync"
)

// Tx is one transaction scope. The outermost scope owns a real
// database transaction; nested scopes are savepoints on the same
// connection. Statements of one scope never run concurrently.
type Tx struct {
	client    *Client
	exec      TxExecutor
	parent    *Tx
	depth     int
	savepoint string // empty for the outermost scope

	mu   sync.Mutex
	done bool
}

// withTx derives a client bound to the transaction's executor. The
// derived client shares the parent's configuration and pipeline.
func (c *Client) withTx(tx *Tx, exec Executor) *Client {
	derived := *c
	derived.exec = exec
	derived.tx = tx
	return &derived
}

// Begin opens a transaction scope. Called on a client already inside a
// transaction it opens a savepoint instead, so scopes nest: rolling
// back an inner scope keeps the outer scope's work.
func (c *Client) Begin(ctx context.Context, opts *TxOptions) (*Tx, error) {
	if c.tx != nil {
		return c.beginSavepoint(ctx)
	}
	beginner, ok := c.exec.(Beginner)
	if !ok {
		return nil, &TransactionStateError{Reason: "executor does not support transactions"}
	}
	txExec, err := beginner.Begin(ctx, opts)
	if err != nil {
		return nil, err
	}
	tx := &Tx{exec: txExec}
	tx.client = c.withTx(tx, txExec)
	return tx, nil
}

func (c *Client) beginSavepoint(ctx context.Context) (*Tx, error) {
	parent := c.tx
	parent.mu.Lock()
	if parent.done {
		parent.mu.Unlock()
		return nil, &TransactionStateError{Reason: "parent transaction already finished"}
	}
	depth := parent.depth + 1
	parent.mu.Unlock()

	name := fmt.Sprintf("recora_sp_%d", depth)
	tx := &Tx{exec: parent.exec, parent: parent, depth: depth, savepoint: name}
	tx.client = c.withTx(tx, parent.exec)

	if _, err := tx.client.runExec(ctx, &Statement{SQL: "SAVEPOINT " + name}); err != nil {
		return nil, err
	}
	return tx, nil
}

// Client returns the client bound to this scope. All statements issued
// through it run inside the transaction.
func (tx *Tx) Client() *Client { return tx.client }

// Depth returns the savepoint nesting depth; zero is the outermost
// scope.
func (tx *Tx) Depth() int { return tx.depth }

func (tx *Tx) finish() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	return nil
}

// Commit finishes the scope: the outermost scope commits, a nested
// scope releases its savepoint into the parent.
func (tx *Tx) Commit(ctx context.Context) error {
	if err := tx.finish(); err != nil {
		return err
	}
	if tx.savepoint == "" {
		return tx.exec.Commit()
	}
	_, err := tx.client.runExec(ctx, &Statement{SQL: "RELEASE SAVEPOINT " + tx.savepoint})
	return err
}

// Rollback discards the scope's work: the outermost scope aborts the
// transaction, a nested scope rolls back to its savepoint and leaves
// the parent intact.
func (tx *Tx) Rollback(ctx context.Context) error {
	if err := tx.finish(); err != nil {
		return err
	}
	if tx.savepoint == "" {
		return tx.exec.Rollback()
	}
	if _, err := tx.client.runExec(ctx, &Statement{SQL: "ROLLBACK TO SAVEPOINT " + tx.savepoint}); err != nil {
		return err
	}
	_, err := tx.client.runExec(ctx, &Statement{SQL: "RELEASE SAVEPOINT " + tx.savepoint})
	return err
}

// RunInTransaction opens a scope, runs fn with the scoped client, and
// commits on success or rolls back on error or panic. Calling it on a
// client already inside a transaction nests through a savepoint, so a
// failing inner unit of work undoes only its own statements.
func (c *Client) RunInTransaction(ctx context.Context, fn func(tc *Client) error) error {
	tx, err := c.Begin(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(ctx)
			panic(r)
		}
	}()
	if err := fn(tx.Client()); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && rbErr != ErrTxDone {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit(ctx)
}
