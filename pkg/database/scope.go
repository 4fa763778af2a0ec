package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Scope pins one pooled connection for the duration of an operation.
// Repositories read the scope from context and run every statement on the
// pinned connection, so a transaction begun on it encloses all repository
// calls made while it is open. The merge executor depends on that: repoint,
// finalize, and the candidate status swap all share one transaction.
type Scope struct {
	Conn *pgxpool.Conn
}

// Close releases the pinned connection back to the pool. It MUST be called.
func (s *Scope) Close() {
	if s.Conn == nil {
		return
	}
	s.Conn.Release()
}

// WithinTx runs fn inside a transaction on the pinned connection. The
// transaction is rolled back when fn returns an error or panics, committed
// otherwise. No partial state ever escapes the connection.
func (s *Scope) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	// A scope without a pinned connection runs fn directly. Only tests
	// construct such scopes.
	if s.Conn == nil {
		return fn(ctx)
	}

	tx, err := s.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(ctx); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// AcquireScope pins a connection from the pool. The returned Scope MUST be
// closed with defer scope.Close().
func (db *DB) AcquireScope(ctx context.Context) (*Scope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return &Scope{Conn: conn}, nil
}

// RunScoped acquires a scope, stores it in context, runs fn, and releases
// the connection. Background jobs use this where HTTP requests use the
// middleware.
func RunScoped(ctx context.Context, db *DB, fn func(ctx context.Context) error) error {
	scope, err := db.AcquireScope(ctx)
	if err != nil {
		return err
	}
	defer scope.Close()
	return fn(SetScope(ctx, scope))
}
