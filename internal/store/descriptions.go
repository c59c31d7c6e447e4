package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"coursetalk/api/internal/comments"
	"coursetalk/api/internal/util"
)

// ErrUnsupportedTarget is returned for targets that cannot carry a
// description.
var ErrUnsupportedTarget = errors.New("target does not support descriptions")

func descriptionColumn(target comments.Target) (string, error) {
	switch target.(type) {
	case comments.SectionTarget, comments.CourseTarget, comments.TeacherTarget, comments.HomeworkTarget:
		return target.Column(), nil
	default:
		return "", ErrUnsupportedTarget
	}
}

// GetDescription reports false when the target has no description yet.
func (s *PostgresStore) GetDescription(ctx context.Context, target comments.Target) (Description, bool, error) {
	column, err := descriptionColumn(target)
	if err != nil {
		return Description{}, false, err
	}
	var item Description
	err = s.db.QueryRowContext(ctx, `
		SELECT d.id, d.content, d.last_edited_at, COALESCE(d.last_edited_by_id, ''), COALESCE(u.name, ''), d.updated_at
		FROM descriptions d
		LEFT JOIN users u ON u.id = d.last_edited_by_id
		WHERE d.`+column+`=$1
	`, target.Key()).Scan(&item.ID, &item.Content, &item.LastEditedAt, &item.LastEditedByID, &item.LastEditedBy, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Description{}, false, nil
	}
	if err != nil {
		return Description{}, false, fmt.Errorf("get description: %w", err)
	}
	return item, true, nil
}

// ListDescriptionEdits returns the newest edits first.
func (s *PostgresStore) ListDescriptionEdits(ctx context.Context, descriptionID string, limit int) ([]DescriptionEdit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.description_id, COALESCE(e.editor_id, ''), COALESCE(u.name, ''),
		       COALESCE(e.previous_content, ''), e.next_content, e.created_at
		FROM description_edits e
		LEFT JOIN users u ON u.id = e.editor_id
		WHERE e.description_id=$1
		ORDER BY e.created_at DESC, e.id DESC
		LIMIT $2
	`, descriptionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list description edits: %w", err)
	}
	defer rows.Close()

	items := make([]DescriptionEdit, 0)
	for rows.Next() {
		var item DescriptionEdit
		if err := rows.Scan(&item.ID, &item.DescriptionID, &item.EditorID, &item.EditorName,
			&item.PreviousContent, &item.NextContent, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan description edit: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate description edits: %w", err)
	}
	return items, nil
}

// UpsertDescription writes content for target and appends a history row.
// Unchanged content is a no-op reported with updated=false.
func (s *PostgresStore) UpsertDescription(ctx context.Context, target comments.Target, content, editorID string, at time.Time) (id string, updated bool, err error) {
	column, err := descriptionColumn(target)
	if err != nil {
		return "", false, err
	}
	err = RunSerializable(ctx, s.db, DefaultRetryPolicy, func(ctx context.Context, tx *sql.Tx) error {
		updated = false
		var (
			previous sql.NullString
			current  string
		)
		err := tx.QueryRowContext(ctx, `
			SELECT id, content FROM descriptions WHERE `+column+`=$1
		`, target.Key()).Scan(&id, &current)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			id = util.NewID("")
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO descriptions (id, content, `+column+`, last_edited_at, last_edited_by_id, created_at, updated_at)
				VALUES ($1, $2, $3, $4, NULLIF($5, ''), $4, $4)
			`, id, content, target.Key(), at, editorID); err != nil {
				return fmt.Errorf("insert description: %w", err)
			}
		case err != nil:
			return fmt.Errorf("get description: %w", err)
		default:
			if current == content {
				return nil
			}
			previous = sql.NullString{String: current, Valid: true}
			if _, err := tx.ExecContext(ctx, `
				UPDATE descriptions
				SET content=$2, last_edited_at=$3, last_edited_by_id=NULLIF($4, ''), updated_at=$3
				WHERE id=$1
			`, id, content, at, editorID); err != nil {
				return fmt.Errorf("update description: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO description_edits (id, description_id, editor_id, previous_content, next_content, created_at)
			VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)
		`, util.NewID(""), id, editorID, previous, content, at); err != nil {
			return fmt.Errorf("insert description edit: %w", err)
		}
		updated = true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return id, updated, nil
}
