package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Session roles that do not correspond to a profile role.
const (
	RoleAnon   = "anon"
	RoleSystem = "system"
)

// Querier is the common interface between pgxpool.Conn, pgx.Tx and pgxpool.Pool.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Session identifies who a query runs as. RLS policies read it back through
// app_user_id() and app_role().
type Session struct {
	UserID string
	Role   string
}

// Anonymous is the session used for unauthenticated requests.
func Anonymous() Session { return Session{Role: RoleAnon} }

// System is the session used by background workers.
func System() Session { return Session{Role: RoleSystem} }

func (s Session) role() string {
	if s.Role == "" {
		return RoleAnon
	}
	return s.Role
}

// WithSession acquires a connection, installs the session for RLS and runs fn.
// The settings are cleared before the connection goes back to the pool.
func WithSession(ctx context.Context, pool *pgxpool.Pool, s Session, fn func(ctx context.Context, q Querier) error) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx,
		"SELECT set_config('app.current_user_id', $1, false), set_config('app.current_role', $2, false)",
		s.UserID, s.role())
	if err != nil {
		return fmt.Errorf("setting session: %w", err)
	}

	defer func() {
		// Use background context so reset runs even if ctx is cancelled.
		_, _ = conn.Exec(context.Background(), "RESET app.current_user_id; RESET app.current_role")
	}()

	return fn(ctx, conn)
}

// WithSessionTx runs fn in a transaction with the session installed locally.
// fn's error rolls the transaction back.
func WithSessionTx(ctx context.Context, pool *pgxpool.Pool, s Session, fn func(ctx context.Context, q Querier) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	_, err = tx.Exec(ctx,
		"SELECT set_config('app.current_user_id', $1, true), set_config('app.current_role', $2, true)",
		s.UserID, s.role())
	if err != nil {
		return fmt.Errorf("setting session: %w", err)
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
