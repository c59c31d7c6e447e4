package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// SerializationFailure is the SQLSTATE Postgres reports when a serializable
// transaction loses a conflict and must be re-run.
const SerializationFailure = "40001"

var ErrRetriesExhausted = errors.New("transaction retries exhausted")

// RetryPolicy bounds how many times a conflicting transaction is re-run and
// which SQLSTATE counts as a conflict.
type RetryPolicy struct {
	MaxAttempts int
	Code        string
}

var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Code: SerializationFailure}

// IsSQLState reports whether err wraps a Postgres error with the given code.
func IsSQLState(err error, code string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.SQLState() == code
}

// Retry runs fn until it succeeds, fails with a non-conflict error, or the
// policy runs out of attempts.
func (p RetryPolicy) Retry(ctx context.Context, fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsSQLState(err, p.Code) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, attempts, lastErr)
}

// RunSerializable executes fn inside a SERIALIZABLE transaction, retrying the
// whole transaction on serialization failures.
func RunSerializable(ctx context.Context, db *sql.DB, policy RetryPolicy, fn func(context.Context, *sql.Tx) error) error {
	return policy.Retry(ctx, func(ctx context.Context) error {
		tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return fmt.Errorf("begin serializable tx: %w", err)
		}
		if err := fn(ctx, tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit serializable tx: %w", err)
		}
		return nil
	})
}

// RunInTx executes fn inside a default-isolation transaction.
func RunInTx(ctx context.Context, db *sql.DB, fn func(context.Context, *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
