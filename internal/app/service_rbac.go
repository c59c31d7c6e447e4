package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"coursetalk/api/internal/auth"
	"coursetalk/api/internal/comments"
	"coursetalk/api/internal/rbac"
	"coursetalk/api/internal/store"
)

const (
	defaultModerationLimit = 50
	maxModerationLimit     = 200
	maxSuspensionListLimit = 500
)

// ViewerFromToken verifies an access token and resolves the caller's viewer
// context.
func (s *Service) ViewerFromToken(ctx context.Context, token string) (comments.Viewer, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return comments.Viewer{}, err
	}
	return s.resolveViewer(ctx, claims.Subject)
}

func (s *Service) resolveViewer(ctx context.Context, userID string) (comments.Viewer, error) {
	if s.viewers != nil {
		viewer, ok, err := s.viewers.Get(ctx, userID)
		if err != nil {
			s.log.WithError(err).WithField("user_id", userID).Warn("viewer cache read failed")
		} else if ok {
			return viewer, nil
		}
	}

	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return comments.Viewer{}, auth.ErrInvalidToken
	}
	if err != nil {
		return comments.Viewer{}, err
	}
	suspension, err := s.store.ActiveSuspension(ctx, userID, s.now())
	if err != nil {
		return comments.Viewer{}, err
	}

	viewer := comments.Viewer{
		UserID:  user.ID,
		Name:    user.Name,
		Image:   user.Image,
		IsAdmin: user.IsAdmin,
	}
	if suspension != nil {
		viewer.IsSuspended = true
		viewer.SuspensionReason = suspension.Reason
	}

	if s.viewers != nil {
		if err := s.viewers.Set(ctx, viewer); err != nil {
			s.log.WithError(err).WithField("user_id", userID).Warn("viewer cache write failed")
		}
	}
	return viewer, nil
}

func (s *Service) invalidateViewer(ctx context.Context, userID string) {
	if s.viewers == nil {
		return
	}
	if err := s.viewers.Invalidate(ctx, userID); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("viewer cache invalidation failed")
	}
}

// authorize maps a role denial to the error the caller should see.
func (s *Service) authorize(viewer comments.Viewer, action rbac.Action) error {
	role := rbac.RoleFor(viewer)
	if rbac.Can(role, action) {
		return nil
	}
	switch role {
	case rbac.RoleGuest:
		return errUnauthorized
	case rbac.RoleSuspended:
		return suspendedError(viewer.SuspensionReason)
	default:
		return errForbidden
	}
}

// ListModerationQueue returns the newest comments, optionally filtered by
// status.
func (s *Service) ListModerationQueue(ctx context.Context, viewer comments.Viewer, status, limitParam string) (map[string]any, error) {
	if err := s.authorize(viewer, rbac.ActionModerate); err != nil {
		return nil, err
	}
	filter := ""
	if parsed, ok := comments.ParseStatus(strings.TrimSpace(status)); ok {
		filter = string(parsed)
	}
	limit := clampLimit(limitParam, defaultModerationLimit, maxModerationLimit)

	items, err := s.store.ListModerationItems(ctx, filter, limit)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, moderationItemPayload(item))
	}
	return map[string]any{"comments": payload}, nil
}

type ModerateCommentInput struct {
	Status         string `json:"status" validate:"required,oneof=active softbanned deleted"`
	ModerationNote string `json:"moderationNote" validate:"max=2000"`
}

func (s *Service) ModerateComment(ctx context.Context, viewer comments.Viewer, commentID string, input ModerateCommentInput) (map[string]any, error) {
	if err := s.authorize(viewer, rbac.ActionModerate); err != nil {
		return nil, err
	}
	if err := s.validateInput(input); err != nil {
		return nil, err
	}

	current, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return nil, err
	}
	change, err := comments.PlanTransition(current.Status, comments.Status(input.Status), viewer, current.AuthorID)
	if err != nil {
		return nil, err
	}
	note := strings.TrimSpace(input.ModerationNote)
	if change.Noop {
		return map[string]any{"comment": moderatedCommentPayload(current, nil, ""), "unchanged": true}, nil
	}
	if err := s.store.ApplyStatusChange(ctx, store.StatusChange{
		CommentID: commentID,
		Change:    change,
		ActorID:   viewer.UserID,
		Note:      note,
		At:        s.now(),
	}); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"comment_id": commentID,
		"admin_id":   viewer.UserID,
		"from":       current.Status,
		"to":         change.Status,
	}).Info("comment moderated")

	updated, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"comment": moderatedCommentPayload(updated, &viewer.UserID, note), "unchanged": false}, nil
}

func moderatedCommentPayload(item store.Comment, moderatedByID *string, note string) map[string]any {
	return map[string]any{
		"id":             item.ID,
		"status":         item.Status,
		"visibility":     item.Visibility,
		"authorId":       nullableString(item.AuthorID),
		"updatedAt":      item.UpdatedAt,
		"moderatedById":  moderatedByID,
		"moderationNote": note,
	}
}

type CreateSuspensionInput struct {
	UserID    string `json:"userId" validate:"required"`
	Reason    string `json:"reason" validate:"max=500"`
	Note      string `json:"note" validate:"max=2000"`
	ExpiresAt string `json:"expiresAt"`
}

func (s *Service) ListSuspensions(ctx context.Context, viewer comments.Viewer) (map[string]any, error) {
	if err := s.authorize(viewer, rbac.ActionModerate); err != nil {
		return nil, err
	}
	items, err := s.store.ListSuspensions(ctx, maxSuspensionListLimit)
	if err != nil {
		return nil, err
	}
	now := s.now()
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, suspensionPayload(item, now))
	}
	return map[string]any{"suspensions": payload}, nil
}

func (s *Service) CreateSuspension(ctx context.Context, viewer comments.Viewer, input CreateSuspensionInput) (map[string]any, error) {
	if err := s.authorize(viewer, rbac.ActionModerate); err != nil {
		return nil, err
	}
	input.UserID = strings.TrimSpace(input.UserID)
	if err := s.validateInput(input); err != nil {
		return nil, err
	}

	now := s.now()
	var expiresAt *time.Time
	if raw := strings.TrimSpace(input.ExpiresAt); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, validationError("Invalid expiresAt format", nil)
		}
		parsed = parsed.UTC()
		expiresAt = &parsed
	}

	user, err := s.store.GetUser(ctx, input.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(errNotFound.Status, errNotFound.Code, "User not found", nil)
		}
		return nil, err
	}

	suspension := store.Suspension{
		ID:          s.newID(),
		UserID:      user.ID,
		UserName:    user.Name,
		Reason:      strings.TrimSpace(input.Reason),
		Note:        strings.TrimSpace(input.Note),
		CreatedByID: viewer.UserID,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
	}
	if err := s.store.CreateSuspension(ctx, suspension); err != nil {
		return nil, fmt.Errorf("create suspension: %w", err)
	}
	s.invalidateViewer(ctx, user.ID)

	s.log.WithFields(logrus.Fields{"user_id": user.ID, "admin_id": viewer.UserID}).Info("user suspended")
	return map[string]any{"suspension": suspensionPayload(suspension, now)}, nil
}

func (s *Service) LiftSuspension(ctx context.Context, viewer comments.Viewer, suspensionID string) (map[string]any, error) {
	if err := s.authorize(viewer, rbac.ActionModerate); err != nil {
		return nil, err
	}
	now := s.now()
	suspension, err := s.store.LiftSuspension(ctx, suspensionID, viewer.UserID, now)
	if err != nil {
		return nil, err
	}
	s.invalidateViewer(ctx, suspension.UserID)

	s.log.WithFields(logrus.Fields{"user_id": suspension.UserID, "admin_id": viewer.UserID}).Info("suspension lifted")
	return map[string]any{"suspension": suspensionPayload(suspension, now)}, nil
}

func moderationItemPayload(item store.ModerationItem) map[string]any {
	payload := map[string]any{
		"id":             item.ID,
		"body":           item.Body,
		"status":         item.Status,
		"visibility":     item.Visibility,
		"authorId":       nullableString(item.AuthorID),
		"authorName":     item.AuthorName,
		"createdAt":      item.CreatedAt,
		"updatedAt":      item.UpdatedAt,
		"moderatedAt":    item.ModeratedAt,
		"moderatedById":  nullableString(item.ModeratedByID),
		"moderationNote": item.ModerationNote,
	}
	if item.Target != nil {
		payload["target"] = map[string]any{
			"type": item.Target.Kind(),
			"id":   item.Target.Key(),
		}
	}
	return payload
}

func suspensionPayload(item store.Suspension, now time.Time) map[string]any {
	return map[string]any{
		"id":          item.ID,
		"userId":      item.UserID,
		"userName":    item.UserName,
		"reason":      item.Reason,
		"note":        item.Note,
		"createdById": nullableString(item.CreatedByID),
		"createdAt":   item.CreatedAt,
		"expiresAt":   item.ExpiresAt,
		"liftedAt":    item.LiftedAt,
		"liftedById":  nullableString(item.LiftedByID),
		"active":      item.Active(now),
	}
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
