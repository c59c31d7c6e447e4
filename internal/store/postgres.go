package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"coursetalk/api/internal/comments"
	"coursetalk/api/internal/util"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, image, is_admin, is_verified, created_at
		FROM users WHERE id=$1
	`, id).Scan(&user.ID, &user.Name, &user.Image, &user.IsAdmin, &user.IsVerified, &user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

const suspensionColumns = `
	us.id, us.user_id, COALESCE(u.name, ''), us.reason, us.note, COALESCE(us.created_by_id, ''),
	us.created_at, us.expires_at, us.lifted_at, COALESCE(us.lifted_by_id, '')
`

func scanSuspension(row interface{ Scan(...any) error }) (Suspension, error) {
	var item Suspension
	err := row.Scan(&item.ID, &item.UserID, &item.UserName, &item.Reason, &item.Note, &item.CreatedByID,
		&item.CreatedAt, &item.ExpiresAt, &item.LiftedAt, &item.LiftedByID)
	return item, err
}

// ActiveSuspension returns nil when the user is not suspended at now.
func (s *PostgresStore) ActiveSuspension(ctx context.Context, userID string, now time.Time) (*Suspension, error) {
	item, err := scanSuspension(s.db.QueryRowContext(ctx, `
		SELECT `+suspensionColumns+`
		FROM user_suspensions us
		LEFT JOIN users u ON u.id = us.user_id
		WHERE us.user_id=$1
		  AND us.lifted_at IS NULL
		  AND (us.expires_at IS NULL OR us.expires_at > $2)
		ORDER BY us.created_at DESC
		LIMIT 1
	`, userID, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active suspension: %w", err)
	}
	return &item, nil
}

func (s *PostgresStore) ListSuspensions(ctx context.Context, limit int) ([]Suspension, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+suspensionColumns+`
		FROM user_suspensions us
		LEFT JOIN users u ON u.id = us.user_id
		ORDER BY us.created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list suspensions: %w", err)
	}
	defer rows.Close()

	items := make([]Suspension, 0)
	for rows.Next() {
		item, err := scanSuspension(rows)
		if err != nil {
			return nil, fmt.Errorf("scan suspension: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate suspensions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CreateSuspension(ctx context.Context, item Suspension) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_suspensions (id, user_id, reason, note, created_by_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
	`, item.ID, item.UserID, item.Reason, item.Note, item.CreatedByID, item.CreatedAt, item.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert suspension: %w", err)
	}
	return nil
}

// LiftSuspension is idempotent: lifting twice keeps the first lift.
func (s *PostgresStore) LiftSuspension(ctx context.Context, id, adminID string, at time.Time) (Suspension, error) {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE user_suspensions
		SET lifted_at = COALESCE(lifted_at, $2),
		    lifted_by_id = COALESCE(lifted_by_id, NULLIF($3, ''))
		WHERE id=$1
	`, id, at, adminID); err != nil {
		return Suspension{}, fmt.Errorf("lift suspension: %w", err)
	}
	item, err := scanSuspension(s.db.QueryRowContext(ctx, `
		SELECT `+suspensionColumns+`
		FROM user_suspensions us
		LEFT JOIN users u ON u.id = us.user_id
		WHERE us.id=$1
	`, id))
	if err != nil {
		return Suspension{}, fmt.Errorf("get suspension: %w", err)
	}
	return item, nil
}

var targetTables = map[comments.TargetKind]string{
	comments.KindSection:        "sections",
	comments.KindCourse:         "courses",
	comments.KindTeacher:        "teachers",
	comments.KindSectionTeacher: "section_teachers",
	comments.KindHomework:       "homeworks",
}

func (s *PostgresStore) TargetExists(ctx context.Context, target comments.Target) (bool, error) {
	table, ok := targetTables[target.Kind()]
	if !ok {
		return false, comments.ErrInvalidTarget
	}
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM `+table+` WHERE id=$1)`, target.Key()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check %s target: %w", target.Kind(), err)
	}
	return exists, nil
}

// ResolveSectionTeacher maps a (section, teacher) pair to its section_teachers
// row. With create set, a missing row is inserted when the catalog links the
// teacher to the section. sql.ErrNoRows means no such pairing exists.
func (s *PostgresStore) ResolveSectionTeacher(ctx context.Context, pair comments.SectionTeacherPair, create bool) (comments.SectionTeacherTarget, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM section_teachers WHERE section_id=$1 AND teacher_id=$2
	`, pair.SectionID, pair.TeacherID).Scan(&id)
	if err == nil {
		return comments.SectionTeacherTarget{SectionTeacherID: id}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) || !create {
		return comments.SectionTeacherTarget{}, fmt.Errorf("lookup section teacher: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO section_teachers (section_id, teacher_id)
		SELECT m.section_id, m.teacher_id
		FROM section_teacher_members m
		WHERE m.section_id=$1 AND m.teacher_id=$2
		ON CONFLICT (section_id, teacher_id) DO UPDATE SET section_id = EXCLUDED.section_id
		RETURNING id
	`, pair.SectionID, pair.TeacherID).Scan(&id)
	if err != nil {
		return comments.SectionTeacherTarget{}, fmt.Errorf("upsert section teacher: %w", err)
	}
	return comments.SectionTeacherTarget{SectionTeacherID: id}, nil
}

const commentRecordColumns = `
	c.id, c.body, c.visibility, c.status, COALESCE(c.author_id, ''), c.author_name, c.is_anonymous,
	COALESCE(c.parent_id, ''), c.root_id, c.created_at, c.updated_at,
	u.id, COALESCE(u.name, ''), COALESCE(u.image, ''), COALESCE(u.is_verified, FALSE), COALESCE(u.is_admin, FALSE)
`

// ListCommentRecords loads every comment on target, oldest first, with
// authors, attachments and reactions.
func (s *PostgresStore) ListCommentRecords(ctx context.Context, target comments.Target) ([]comments.Record, error) {
	return s.queryCommentRecords(ctx, `
		SELECT `+commentRecordColumns+`
		FROM comments c
		LEFT JOIN users u ON u.id = c.author_id
		WHERE c.`+target.Column()+`=$1
		ORDER BY c.created_at ASC, c.id ASC
	`, target.Key())
}

// ListThreadRecords loads a root comment and all of its descendants.
func (s *PostgresStore) ListThreadRecords(ctx context.Context, rootID string) ([]comments.Record, error) {
	return s.queryCommentRecords(ctx, `
		SELECT `+commentRecordColumns+`
		FROM comments c
		LEFT JOIN users u ON u.id = c.author_id
		WHERE c.id=$1 OR c.root_id=$1
		ORDER BY c.created_at ASC, c.id ASC
	`, rootID)
}

func (s *PostgresStore) queryCommentRecords(ctx context.Context, query string, args ...any) ([]comments.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	records := make([]comments.Record, 0)
	for rows.Next() {
		var (
			rec      comments.Record
			authorID sql.NullString
			author   comments.Author
		)
		if err := rows.Scan(&rec.ID, &rec.Body, &rec.Visibility, &rec.Status, &rec.AuthorID, &rec.AuthorName, &rec.IsAnonymous,
			&rec.ParentID, &rec.RootID, &rec.CreatedAt, &rec.UpdatedAt,
			&authorID, &author.Name, &author.Image, &author.IsVerified, &author.IsAdmin); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		if authorID.Valid {
			author.ID = authorID.String
			rec.Author = &author
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	if len(records) == 0 {
		return records, nil
	}

	ids := make([]string, len(records))
	index := make(map[string]int, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
		index[rec.ID] = i
	}

	var (
		attachments map[string][]comments.Attachment
		reactions   map[string][]comments.ReactionRow
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		attachments, err = s.listAttachments(egCtx, ids)
		return err
	})
	eg.Go(func() error {
		var err error
		reactions, err = s.listReactionRows(egCtx, ids)
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	for id, i := range index {
		records[i].Attachments = attachments[id]
		records[i].Reactions = reactions[id]
	}
	return records, nil
}

func (s *PostgresStore) listAttachments(ctx context.Context, commentIDs []string) (map[string][]comments.Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ca.comment_id, ca.id, ca.upload_id, u.filename, u.content_type, u.size
		FROM comment_attachments ca
		JOIN uploads u ON u.id = ca.upload_id
		WHERE ca.comment_id = ANY($1)
		ORDER BY ca.created_at ASC, ca.id ASC
	`, commentIDs)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]comments.Attachment)
	for rows.Next() {
		var commentID string
		var item comments.Attachment
		if err := rows.Scan(&commentID, &item.ID, &item.UploadID, &item.Filename, &item.ContentType, &item.Size); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		out[commentID] = append(out[commentID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) listReactionRows(ctx context.Context, commentIDs []string) (map[string][]comments.ReactionRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT comment_id, type, user_id
		FROM comment_reactions
		WHERE comment_id = ANY($1)
		ORDER BY created_at ASC, user_id ASC
	`, commentIDs)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]comments.ReactionRow)
	for rows.Next() {
		var commentID string
		var row comments.ReactionRow
		if err := rows.Scan(&commentID, &row.Type, &row.UserID); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		out[commentID] = append(out[commentID], row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reactions: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListReactionRows(ctx context.Context, commentID string) ([]comments.ReactionRow, error) {
	byComment, err := s.listReactionRows(ctx, []string{commentID})
	if err != nil {
		return nil, err
	}
	return byComment[commentID], nil
}

func (s *PostgresStore) GetComment(ctx context.Context, id string) (Comment, error) {
	var (
		item                                             Comment
		sectionID, courseID, teacherID, sectionTeacherID *int64
		homeworkID                                       *string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, body, visibility, status, COALESCE(author_id, ''), is_anonymous, COALESCE(parent_id, ''), root_id,
		       section_id, course_id, teacher_id, section_teacher_id, homework_id, created_at, updated_at
		FROM comments WHERE id=$1
	`, id).Scan(&item.ID, &item.Body, &item.Visibility, &item.Status, &item.AuthorID, &item.IsAnonymous, &item.ParentID, &item.RootID,
		&sectionID, &courseID, &teacherID, &sectionTeacherID, &homeworkID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Comment{}, fmt.Errorf("get comment: %w", err)
	}
	target, err := comments.TargetFromColumns(sectionID, courseID, teacherID, sectionTeacherID, homeworkID)
	if err != nil {
		return Comment{}, fmt.Errorf("comment %s target: %w", id, err)
	}
	item.Target = target
	return item, nil
}

// CreateComment inserts the comment and its attachment links atomically.
func (s *PostgresStore) CreateComment(ctx context.Context, item NewComment) error {
	return RunInTx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := checkUploadOwnership(ctx, tx, item.AuthorID, item.AttachmentIDs); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO comments (id, body, visibility, status, author_id, is_anonymous, parent_id, root_id, `+item.Target.Column()+`, created_at, updated_at)
			VALUES ($1, $2, $3, 'active', NULLIF($4, ''), $5, NULLIF($6, ''), $7, $8, $9, $9)
		`, item.ID, item.Body, item.Visibility, item.AuthorID, item.IsAnonymous, item.ParentID, item.RootID, item.Target.Key(), item.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert comment: %w", err)
		}
		return insertAttachments(ctx, tx, item.ID, item.AttachmentIDs, item.CreatedAt)
	})
}

// EditComment rewrites an active comment's content and, when requested,
// replaces its attachment links in the same transaction.
func (s *PostgresStore) EditComment(ctx context.Context, edit CommentEdit) error {
	return RunInTx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE comments
			SET body=$2, visibility=$3, is_anonymous=$4, updated_at=$5
			WHERE id=$1 AND status='active'
		`, edit.ID, edit.Body, edit.Visibility, edit.IsAnonymous, edit.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update comment: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("update comment rows: %w", err)
		}
		if affected == 0 {
			return comments.ErrCommentLocked
		}

		if edit.AttachmentIDs == nil {
			return nil
		}
		current, err := linkedUploadIDs(ctx, tx, edit.ID)
		if err != nil {
			return err
		}
		plan := comments.PlanAttachments(current, edit.AttachmentIDs)
		if plan.Empty() {
			return nil
		}
		if err := checkUploadOwnership(ctx, tx, edit.AuthorID, plan.Add); err != nil {
			return err
		}
		if len(plan.Remove) > 0 {
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM comment_attachments WHERE comment_id=$1 AND upload_id = ANY($2)
			`, edit.ID, plan.Remove); err != nil {
				return fmt.Errorf("delete attachments: %w", err)
			}
		}
		return insertAttachments(ctx, tx, edit.ID, plan.Add, edit.UpdatedAt)
	})
}

func linkedUploadIDs(ctx context.Context, tx *sql.Tx, commentID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT upload_id FROM comment_attachments WHERE comment_id=$1 ORDER BY created_at ASC, id ASC
	`, commentID)
	if err != nil {
		return nil, fmt.Errorf("list linked uploads: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan linked upload: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate linked uploads: %w", err)
	}
	return ids, nil
}

// checkUploadOwnership fails with ErrInvalidAttachments unless every id is a
// committed upload owned by userID.
func checkUploadOwnership(ctx context.Context, tx *sql.Tx, userID string, uploadIDs []string) error {
	if len(uploadIDs) == 0 {
		return nil
	}
	var owned int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM uploads WHERE id = ANY($1) AND user_id=$2
	`, uploadIDs, userID).Scan(&owned); err != nil {
		return fmt.Errorf("check upload ownership: %w", err)
	}
	if owned != len(uploadIDs) {
		return comments.ErrInvalidAttachments
	}
	return nil
}

func insertAttachments(ctx context.Context, tx *sql.Tx, commentID string, uploadIDs []string, at time.Time) error {
	for _, uploadID := range uploadIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO comment_attachments (id, comment_id, upload_id, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (comment_id, upload_id) DO NOTHING
		`, util.NewID(""), commentID, uploadID, at); err != nil {
			return fmt.Errorf("insert attachment: %w", err)
		}
	}
	return nil
}

// ApplyStatusChange persists a transition planned by comments.PlanTransition.
// Deleted comments are never updated again.
func (s *PostgresStore) ApplyStatusChange(ctx context.Context, change StatusChange) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE comments
		SET status=$2,
		    updated_at=$3,
		    deleted_at = CASE WHEN $4::boolean THEN $3 ELSE deleted_at END,
		    moderated_at = CASE WHEN $5::boolean THEN $3 ELSE moderated_at END,
		    moderated_by_id = CASE WHEN $5::boolean THEN NULLIF($6, '') ELSE moderated_by_id END,
		    moderation_note = CASE WHEN $5::boolean THEN $7 ELSE moderation_note END
		WHERE id=$1 AND status <> 'deleted'
	`, change.CommentID, change.Change.Status, change.At, change.Change.Deleted, change.Change.Moderated, change.ActorID, change.Note)
	if err != nil {
		return fmt.Errorf("update comment status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update comment status rows: %w", err)
	}
	if affected == 0 {
		return comments.ErrInvalidTransition
	}
	return nil
}

// ToggleReaction removes the viewer's reaction when present and adds it
// otherwise. It reports whether the reaction now exists.
func (s *PostgresStore) ToggleReaction(ctx context.Context, commentID, userID string, reaction comments.ReactionType) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM comment_reactions
		WHERE comment_id=$1 AND user_id=$2 AND type=$3
	`, commentID, userID, reaction)
	if err != nil {
		return false, fmt.Errorf("delete reaction: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete reaction rows: %w", err)
	}
	if affected > 0 {
		return false, nil
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO comment_reactions (comment_id, user_id, type)
		VALUES ($1, $2, $3)
		ON CONFLICT (comment_id, user_id, type) DO NOTHING
	`, commentID, userID, reaction); err != nil {
		return false, fmt.Errorf("insert reaction: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) RemoveReaction(ctx context.Context, commentID, userID string, reaction comments.ReactionType) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM comment_reactions
		WHERE comment_id=$1 AND user_id=$2 AND type=$3
	`, commentID, userID, reaction); err != nil {
		return fmt.Errorf("delete reaction: %w", err)
	}
	return nil
}

// ListModerationItems returns the newest comments, optionally filtered by
// status.
func (s *PostgresStore) ListModerationItems(ctx context.Context, status string, limit int) ([]ModerationItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.body, c.status, c.visibility, COALESCE(c.author_id, ''),
		       COALESCE(NULLIF(u.name, ''), c.author_name),
		       c.section_id, c.course_id, c.teacher_id, c.section_teacher_id, c.homework_id,
		       c.created_at, c.updated_at, c.moderated_at, COALESCE(c.moderated_by_id, ''), c.moderation_note
		FROM comments c
		LEFT JOIN users u ON u.id = c.author_id
		WHERE ($1 = '' OR c.status = $1)
		ORDER BY c.created_at DESC, c.id DESC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list moderation items: %w", err)
	}
	defer rows.Close()

	items := make([]ModerationItem, 0)
	for rows.Next() {
		var (
			item                                             ModerationItem
			sectionID, courseID, teacherID, sectionTeacherID *int64
			homeworkID                                       *string
		)
		if err := rows.Scan(&item.ID, &item.Body, &item.Status, &item.Visibility, &item.AuthorID, &item.AuthorName,
			&sectionID, &courseID, &teacherID, &sectionTeacherID, &homeworkID,
			&item.CreatedAt, &item.UpdatedAt, &item.ModeratedAt, &item.ModeratedByID, &item.ModerationNote); err != nil {
			return nil, fmt.Errorf("scan moderation item: %w", err)
		}
		target, err := comments.TargetFromColumns(sectionID, courseID, teacherID, sectionTeacherID, homeworkID)
		if err != nil {
			return nil, fmt.Errorf("comment %s target: %w", item.ID, err)
		}
		item.Target = target
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate moderation items: %w", err)
	}
	return items, nil
}
