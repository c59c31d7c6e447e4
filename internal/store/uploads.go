package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"coursetalk/api/internal/uploads"
)

// PostgresUploads is the uploads.Repository backed by the uploads and
// upload_pendings tables.
type PostgresUploads struct {
	db     *sql.DB
	policy RetryPolicy
}

func NewPostgresUploads(db *sql.DB) *PostgresUploads {
	return &PostgresUploads{db: db, policy: DefaultRetryPolicy}
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *PostgresUploads) Serializable(ctx context.Context, fn func(context.Context, uploads.Tx) error) error {
	return RunSerializable(ctx, r.db, r.policy, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, uploadTx{q: tx})
	})
}

func (r *PostgresUploads) DeleteExpiredPending(ctx context.Context, userID string, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM upload_pendings WHERE user_id=$1 AND expires_at <= $2
	`, userID, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired reservations: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired reservations rows: %w", err)
	}
	return affected, nil
}

func (r *PostgresUploads) DeletePending(ctx context.Context, key string) error {
	return uploadTx{q: r.db}.DeletePending(ctx, key)
}

func (r *PostgresUploads) UsageBytes(ctx context.Context, userID string, now time.Time) (int64, error) {
	return uploadTx{q: r.db}.UsageBytes(ctx, userID, now, "")
}

func (r *PostgresUploads) FindUploadByKey(ctx context.Context, key string) (uploads.Upload, bool, error) {
	return uploadTx{q: r.db}.UploadByKey(ctx, key)
}

const uploadColumns = `id, key, filename, size, content_type, user_id, created_at`

func scanUpload(row interface{ Scan(...any) error }) (uploads.Upload, error) {
	var item uploads.Upload
	err := row.Scan(&item.ID, &item.Key, &item.Filename, &item.Size, &item.ContentType, &item.UserID, &item.CreatedAt)
	return item, err
}

func (r *PostgresUploads) GetUpload(ctx context.Context, id string) (uploads.Upload, error) {
	item, err := scanUpload(r.db.QueryRowContext(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return uploads.Upload{}, uploads.ErrNotFound
	}
	if err != nil {
		return uploads.Upload{}, fmt.Errorf("get upload: %w", err)
	}
	return item, nil
}

func (r *PostgresUploads) ListUploads(ctx context.Context, userID string) ([]uploads.Upload, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+uploadColumns+`
		FROM uploads
		WHERE user_id=$1
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer rows.Close()

	items := make([]uploads.Upload, 0)
	for rows.Next() {
		item, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate uploads: %w", err)
	}
	return items, nil
}

func (r *PostgresUploads) RenameUpload(ctx context.Context, id, filename string) (uploads.Upload, error) {
	item, err := scanUpload(r.db.QueryRowContext(ctx, `
		UPDATE uploads SET filename=$2 WHERE id=$1
		RETURNING `+uploadColumns, id, filename))
	if errors.Is(err, sql.ErrNoRows) {
		return uploads.Upload{}, uploads.ErrNotFound
	}
	if err != nil {
		return uploads.Upload{}, fmt.Errorf("rename upload: %w", err)
	}
	return item, nil
}

// DeleteUpload removes the row; comment attachment links cascade.
func (r *PostgresUploads) DeleteUpload(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM uploads WHERE id=$1`, id); err != nil {
		return fmt.Errorf("delete upload: %w", err)
	}
	return nil
}

func (r *PostgresUploads) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]uploads.Pending, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT key, user_id, filename, content_type, size, expires_at
		FROM upload_pendings
		WHERE expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired reservations: %w", err)
	}
	defer rows.Close()

	items := make([]uploads.Pending, 0)
	for rows.Next() {
		var item uploads.Pending
		if err := rows.Scan(&item.Key, &item.UserID, &item.Filename, &item.ContentType, &item.Size, &item.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservations: %w", err)
	}
	return items, nil
}

type uploadTx struct {
	q queryer
}

func (t uploadTx) UsageBytes(ctx context.Context, userID string, now time.Time, excludeKey string) (int64, error) {
	var used int64
	err := t.q.QueryRowContext(ctx, `
		SELECT
			(SELECT COALESCE(SUM(size), 0) FROM uploads WHERE user_id=$1)::BIGINT +
			(SELECT COALESCE(SUM(size), 0) FROM upload_pendings
			 WHERE user_id=$1 AND expires_at > $2 AND key <> $3)::BIGINT
	`, userID, now, excludeKey).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("sum upload usage: %w", err)
	}
	return used, nil
}

func (t uploadTx) InsertPending(ctx context.Context, pending uploads.Pending) error {
	if _, err := t.q.ExecContext(ctx, `
		INSERT INTO upload_pendings (key, user_id, filename, content_type, size, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, pending.Key, pending.UserID, pending.Filename, pending.ContentType, pending.Size, pending.ExpiresAt); err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

func (t uploadTx) GetPending(ctx context.Context, key string) (uploads.Pending, bool, error) {
	var item uploads.Pending
	err := t.q.QueryRowContext(ctx, `
		SELECT key, user_id, filename, content_type, size, expires_at
		FROM upload_pendings WHERE key=$1
	`, key).Scan(&item.Key, &item.UserID, &item.Filename, &item.ContentType, &item.Size, &item.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return uploads.Pending{}, false, nil
	}
	if err != nil {
		return uploads.Pending{}, false, fmt.Errorf("get reservation: %w", err)
	}
	return item, true, nil
}

func (t uploadTx) DeletePending(ctx context.Context, key string) error {
	if _, err := t.q.ExecContext(ctx, `DELETE FROM upload_pendings WHERE key=$1`, key); err != nil {
		return fmt.Errorf("delete reservation: %w", err)
	}
	return nil
}

func (t uploadTx) InsertUpload(ctx context.Context, upload uploads.Upload) error {
	if _, err := t.q.ExecContext(ctx, `
		INSERT INTO uploads (id, key, filename, size, content_type, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, upload.ID, upload.Key, upload.Filename, upload.Size, upload.ContentType, upload.UserID, upload.CreatedAt); err != nil {
		return fmt.Errorf("insert upload: %w", err)
	}
	return nil
}

func (t uploadTx) UploadByKey(ctx context.Context, key string) (uploads.Upload, bool, error) {
	item, err := scanUpload(t.q.QueryRowContext(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE key=$1`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return uploads.Upload{}, false, nil
	}
	if err != nil {
		return uploads.Upload{}, false, fmt.Errorf("get upload by key: %w", err)
	}
	return item, true, nil
}
