package store

import (
	"context"
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

var domainTables = []string{"comments", "comment_reactions", "user_suspensions", "uploads", "upload_pendings", "description_edits"}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("COURSETALK_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("COURSETALK_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn, PoolConfig{MaxOpenConns: 2})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	migrationsDir := filepath.Join("..", "..", "db", "migrations")

	applied, err := ApplyMigrations(ctx, db, migrationsDir, logger)
	if err != nil {
		t.Fatalf("apply up migrations (pass 1): %v", err)
	}
	if len(applied) != 4 {
		t.Fatalf("expected 4 applied migrations, got %v", applied)
	}
	assertTables(t, ctx, db, true)

	again, err := ApplyMigrations(ctx, db, migrationsDir, logger)
	if err != nil || len(again) != 0 {
		t.Fatalf("expected re-apply to be a no-op, got %v %v", again, err)
	}

	reverted, err := RollbackMigrations(ctx, db, migrationsDir, 1, logger)
	if err != nil {
		t.Fatalf("rollback one step: %v", err)
	}
	if len(reverted) != 1 || reverted[0] != "0004_descriptions.up.sql" {
		t.Fatalf("expected descriptions rolled back first, got %v", reverted)
	}
	if tableExists(t, ctx, db, "description_edits") || !tableExists(t, ctx, db, "comments") {
		t.Fatal("single-step rollback removed the wrong tables")
	}

	if _, err := RollbackMigrations(ctx, db, migrationsDir, 0, logger); err != nil {
		t.Fatalf("rollback all: %v", err)
	}
	assertTables(t, ctx, db, false)

	applied, err = ApplyMigrations(ctx, db, migrationsDir, logger)
	if err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}
	if len(applied) != 4 {
		t.Fatalf("expected full re-apply, got %v", applied)
	}
	assertTables(t, ctx, db, true)
}

func assertTables(t *testing.T, ctx context.Context, db *sql.DB, want bool) {
	t.Helper()
	for _, table := range domainTables {
		if got := tableExists(t, ctx, db, table); got != want {
			t.Fatalf("table %s: exists=%v, want %v", table, got, want)
		}
	}
}

func tableExists(t *testing.T, ctx context.Context, db *sql.DB, table string) bool {
	t.Helper()
	var exists bool
	if err := db.QueryRowContext(ctx, `SELECT to_regclass('public.' || $1) IS NOT NULL`, table).Scan(&exists); err != nil {
		t.Fatalf("check table %s: %v", table, err)
	}
	return exists
}

func resetPublicSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	return err
}
