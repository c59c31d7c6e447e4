package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := DefaultRetryPolicy.Retry(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return fmt.Errorf("exec: %w", &pgconn.PgError{Code: SerializationFailure})
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestRetryExhaustsOnRepeatedConflict(t *testing.T) {
	calls := 0
	err := DefaultRetryPolicy.Retry(context.Background(), func(context.Context) error {
		calls++
		return &pgconn.PgError{Code: SerializationFailure}
	})
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryPropagatesOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := DefaultRetryPolicy.Retry(context.Background(), func(context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestRetryIgnoresOtherSQLStates(t *testing.T) {
	calls := 0
	err := DefaultRetryPolicy.Retry(context.Background(), func(context.Context) error {
		calls++
		return &pgconn.PgError{Code: "23505"}
	})
	if !IsSQLState(err, "23505") {
		t.Fatalf("expected unique violation to surface, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestRetryHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := DefaultRetryPolicy.Retry(ctx, func(context.Context) error {
		t.Fatal("fn must not run with a cancelled context")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
