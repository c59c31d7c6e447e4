package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

var migrationFilePattern = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.(up|down)\.sql$`)

// Migration is one numbered schema step with its paired rollback.
type Migration struct {
	Version  string
	Name     string
	UpPath   string
	DownPath string
}

// ID is the key recorded in schema_migrations.
func (m Migration) ID() string {
	return filepath.Base(m.UpPath)
}

// LoadMigrations reads dir and returns migrations in ascending version order.
// Every version needs exactly one up and one down file.
func LoadMigrations(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	byVersion := map[string]*Migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationFilePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		version, name, direction := match[1], match[2], match[3]
		item := byVersion[version]
		if item == nil {
			item = &Migration{Version: version, Name: name}
			byVersion[version] = item
		}
		if item.Name != name {
			return nil, fmt.Errorf("migration %s has mismatched names %q and %q", version, item.Name, name)
		}
		path := filepath.Join(dir, entry.Name())
		switch direction {
		case "up":
			if item.UpPath != "" {
				return nil, fmt.Errorf("duplicate up migration for version %s", version)
			}
			item.UpPath = path
		case "down":
			if item.DownPath != "" {
				return nil, fmt.Errorf("duplicate down migration for version %s", version)
			}
			item.DownPath = path
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for version, item := range byVersion {
		if item.UpPath == "" || item.DownPath == "" {
			return nil, fmt.Errorf("migration %s needs both up and down files", version)
		}
		migrations = append(migrations, *item)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// ApplyMigrations runs every pending up migration in its own transaction and
// returns the IDs it applied.
func ApplyMigrations(ctx context.Context, db *sql.DB, dir string, logger logrus.FieldLogger) ([]string, error) {
	migrations, err := LoadMigrations(dir)
	if err != nil {
		return nil, err
	}
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return nil, err
	}

	var applied []string
	for _, migration := range migrations {
		id := migration.ID()
		done, err := isMigrated(ctx, db, id)
		if err != nil {
			return applied, err
		}
		if done {
			continue
		}

		contents, err := os.ReadFile(migration.UpPath)
		if err != nil {
			return applied, fmt.Errorf("read migration %s: %w", id, err)
		}
		err = RunInTx(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
				return fmt.Errorf("execute migration %s: %w", id, err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, id); err != nil {
				return fmt.Errorf("record migration %s: %w", id, err)
			}
			return nil
		})
		if err != nil {
			return applied, err
		}
		logger.WithFields(logrus.Fields{"version": migration.Version, "name": migration.Name}).Info("migration applied")
		applied = append(applied, id)
	}
	return applied, nil
}

// RollbackMigrations reverts up to steps applied migrations, newest first.
// steps <= 0 reverts all of them.
func RollbackMigrations(ctx context.Context, db *sql.DB, dir string, steps int, logger logrus.FieldLogger) ([]string, error) {
	migrations, err := LoadMigrations(dir)
	if err != nil {
		return nil, err
	}
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return nil, err
	}

	var reverted []string
	for i := len(migrations) - 1; i >= 0; i-- {
		if steps > 0 && len(reverted) == steps {
			break
		}
		migration := migrations[i]
		id := migration.ID()
		done, err := isMigrated(ctx, db, id)
		if err != nil {
			return reverted, err
		}
		if !done {
			continue
		}

		contents, err := os.ReadFile(migration.DownPath)
		if err != nil {
			return reverted, fmt.Errorf("read rollback %s: %w", id, err)
		}
		err = RunInTx(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
			if sqlText := strings.TrimSpace(string(contents)); sqlText != "" {
				if _, err := tx.ExecContext(ctx, sqlText); err != nil {
					return fmt.Errorf("execute rollback %s: %w", id, err)
				}
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version=$1`, id); err != nil {
				return fmt.Errorf("forget migration %s: %w", id, err)
			}
			return nil
		})
		if err != nil {
			return reverted, err
		}
		logger.WithFields(logrus.Fields{"version": migration.Version, "name": migration.Name}).Info("migration rolled back")
		reverted = append(reverted, id)
	}
	return reverted, nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func isMigrated(ctx context.Context, db *sql.DB, id string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", id, err)
	}
	return exists, nil
}
