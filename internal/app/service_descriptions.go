package app

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"coursetalk/api/internal/comments"
	"coursetalk/api/internal/rbac"
	"coursetalk/api/internal/store"
)

const descriptionHistoryLimit = 20

type UpsertDescriptionInput struct {
	TargetType string     `json:"targetType" validate:"required,oneof=section course teacher homework"`
	TargetID   flexibleID `json:"targetId" validate:"required"`
	Content    string     `json:"content" validate:"max=4000"`
}

func descriptionTarget(targetType, targetID string) (comments.Target, error) {
	switch comments.TargetKind(strings.TrimSpace(targetType)) {
	case comments.KindSection, comments.KindCourse, comments.KindTeacher, comments.KindHomework:
	default:
		return nil, errInvalidTarget
	}
	ref, err := comments.ParseTarget(comments.TargetQuery{TargetType: targetType, TargetID: targetID})
	if err != nil || ref.Target == nil {
		return nil, errInvalidTarget
	}
	return ref.Target, nil
}

func (s *Service) GetDescription(ctx context.Context, viewer comments.Viewer, targetType, targetID string) (map[string]any, error) {
	target, err := descriptionTarget(targetType, targetID)
	if err != nil {
		return nil, err
	}
	description, found, err := s.store.GetDescription(ctx, target)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"description": map[string]any{
			"id":           nil,
			"content":      "",
			"updatedAt":    nil,
			"lastEditedAt": nil,
			"lastEditedBy": nil,
		},
		"history": []map[string]any{},
		"viewer":  viewer,
	}
	if !found {
		return payload, nil
	}

	edits, err := s.store.ListDescriptionEdits(ctx, description.ID, descriptionHistoryLimit)
	if err != nil {
		return nil, err
	}
	payload["description"] = map[string]any{
		"id":           description.ID,
		"content":      description.Content,
		"contentHtml":  s.markdown.Render(description.Content),
		"updatedAt":    description.UpdatedAt,
		"lastEditedAt": description.LastEditedAt,
		"lastEditedBy": userRef(description.LastEditedByID, description.LastEditedBy),
	}
	history := make([]map[string]any, 0, len(edits))
	for _, edit := range edits {
		history = append(history, descriptionEditPayload(edit))
	}
	payload["history"] = history
	return payload, nil
}

func (s *Service) UpsertDescription(ctx context.Context, viewer comments.Viewer, input UpsertDescriptionInput) (map[string]any, error) {
	input.Content = strings.TrimSpace(input.Content)
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	target, err := descriptionTarget(input.TargetType, string(input.TargetID))
	if err != nil {
		return nil, err
	}
	if err := s.authorize(viewer, rbac.ActionDescribe); err != nil {
		return nil, err
	}

	exists, err := s.store.TargetExists(ctx, target)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domainError(errNotFound.Status, errNotFound.Code, "Target not found", nil)
	}

	id, updated, err := s.store.UpsertDescription(ctx, target, input.Content, viewer.UserID, s.now())
	if err != nil {
		return nil, err
	}
	if updated {
		s.log.WithFields(logrus.Fields{
			"description_id": id,
			"user_id":        viewer.UserID,
			"target":         target.String(),
		}).Info("description updated")
	}
	return map[string]any{"id": id, "updated": updated}, nil
}

func descriptionEditPayload(edit store.DescriptionEdit) map[string]any {
	return map[string]any{
		"id":              edit.ID,
		"createdAt":       edit.CreatedAt,
		"previousContent": edit.PreviousContent,
		"nextContent":     edit.NextContent,
		"editor":          userRef(edit.EditorID, edit.EditorName),
	}
}

func userRef(id, name string) any {
	if id == "" {
		return nil
	}
	return map[string]any{"id": id, "name": name}
}
