package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"coursetalk/api/internal/comments"
	"coursetalk/api/internal/rbac"
	"coursetalk/api/internal/store"
)

// flexibleID accepts a JSON string or number and keeps its decimal text.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		*f = flexibleID(strings.TrimSpace(value))
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return err
	}
	if value, err := number.Int64(); err == nil {
		*f = flexibleID(strconv.FormatInt(value, 10))
		return nil
	}
	*f = flexibleID(number.String())
	return nil
}

type CreateCommentInput struct {
	TargetType    string     `json:"targetType" validate:"required,oneof=section course teacher section-teacher homework"`
	TargetID      flexibleID `json:"targetId"`
	SectionID     flexibleID `json:"sectionId"`
	TeacherID     flexibleID `json:"teacherId"`
	Body          string     `json:"body" validate:"required,max=8000"`
	Visibility    string     `json:"visibility" validate:"omitempty,oneof=public logged_in_only anonymous"`
	IsAnonymous   bool       `json:"isAnonymous"`
	ParentID      string     `json:"parentId"`
	AttachmentIDs []string   `json:"attachmentIds" validate:"max=20"`
}

func (in CreateCommentInput) targetQuery() comments.TargetQuery {
	return comments.TargetQuery{
		TargetType: in.TargetType,
		TargetID:   string(in.TargetID),
		SectionID:  string(in.SectionID),
		TeacherID:  string(in.TeacherID),
	}
}

type EditCommentInput struct {
	Body          string    `json:"body" validate:"required,max=8000"`
	Visibility    *string   `json:"visibility" validate:"omitempty,oneof=public logged_in_only anonymous"`
	IsAnonymous   *bool     `json:"isAnonymous"`
	AttachmentIDs *[]string `json:"attachmentIds" validate:"omitempty,max=20"`
}

// resolveTarget parses target parameters and resolves a section-teacher pair
// to its row, creating the row when the catalog links the two.
func (s *Service) resolveTarget(ctx context.Context, query comments.TargetQuery) (comments.Target, error) {
	ref, err := comments.ParseTarget(query)
	if err != nil {
		return nil, errInvalidTarget
	}
	if ref.Pair == nil {
		return ref.Target, nil
	}
	target, err := s.store.ResolveSectionTeacher(ctx, *ref.Pair, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errInvalidTarget
	}
	if err != nil {
		return nil, err
	}
	return target, nil
}

func targetPayload(target comments.Target) map[string]any {
	payload := map[string]any{
		"type":             target.Kind(),
		"targetId":         nil,
		"sectionId":        nil,
		"courseId":         nil,
		"teacherId":        nil,
		"sectionTeacherId": nil,
		"homeworkId":       nil,
	}
	switch t := target.(type) {
	case comments.SectionTarget:
		payload["targetId"], payload["sectionId"] = t.SectionID, t.SectionID
	case comments.CourseTarget:
		payload["targetId"], payload["courseId"] = t.CourseID, t.CourseID
	case comments.TeacherTarget:
		payload["targetId"], payload["teacherId"] = t.TeacherID, t.TeacherID
	case comments.SectionTeacherTarget:
		payload["targetId"], payload["sectionTeacherId"] = t.SectionTeacherID, t.SectionTeacherID
	case comments.HomeworkTarget:
		payload["targetId"], payload["homeworkId"] = t.HomeworkID, t.HomeworkID
	}
	return payload
}

// ListComments returns the comment forest of one target as seen by viewer.
func (s *Service) ListComments(ctx context.Context, viewer comments.Viewer, query comments.TargetQuery) (map[string]any, error) {
	target, err := s.resolveTarget(ctx, query)
	if err != nil {
		return nil, err
	}
	records, err := s.store.ListCommentRecords(ctx, target)
	if err != nil {
		return nil, err
	}
	tree := comments.BuildTree(records, viewer)
	s.render(tree.Roots)

	return map[string]any{
		"comments":    tree.Roots,
		"hiddenCount": tree.HiddenCount,
		"viewer":      viewer,
		"target":      targetPayload(target),
	}, nil
}

// GetThread returns the whole thread containing commentID.
func (s *Service) GetThread(ctx context.Context, viewer comments.Viewer, commentID string) (map[string]any, error) {
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return nil, err
	}
	rootID := comment.RootID
	if rootID == "" {
		rootID = comment.ID
	}
	records, err := s.store.ListThreadRecords(ctx, rootID)
	if err != nil {
		return nil, err
	}
	tree := comments.BuildTree(records, viewer)
	if comments.FindNode(tree.Roots, commentID) == nil {
		return nil, errFocusHidden
	}
	s.render(tree.Roots)

	return map[string]any{
		"thread":      tree.Roots,
		"focusId":     commentID,
		"hiddenCount": tree.HiddenCount,
		"viewer":      viewer,
		"target":      targetPayload(comment.Target),
	}, nil
}

func (s *Service) CreateComment(ctx context.Context, viewer comments.Viewer, input CreateCommentInput) (map[string]any, error) {
	input.Body = strings.TrimSpace(input.Body)
	input.ParentID = strings.TrimSpace(input.ParentID)
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	if err := s.authorize(viewer, rbac.ActionComment); err != nil {
		return nil, err
	}

	target, err := s.resolveTarget(ctx, input.targetQuery())
	if err != nil {
		return nil, err
	}
	exists, err := s.store.TargetExists(ctx, target)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domainError(errNotFound.Status, errNotFound.Code, "Target not found", nil)
	}

	visibility, _ := comments.ParseVisibility(input.Visibility)
	item := store.NewComment{
		ID:            s.newID(),
		Body:          input.Body,
		Visibility:    visibility,
		AuthorID:      viewer.UserID,
		IsAnonymous:   input.IsAnonymous,
		Target:        target,
		AttachmentIDs: comments.DedupeIDs(input.AttachmentIDs),
		CreatedAt:     s.now(),
	}
	item.RootID = item.ID

	if input.ParentID != "" {
		parent, err := s.store.GetComment(ctx, input.ParentID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(errNotFound.Status, errNotFound.Code, "Parent not found", nil)
		}
		if err != nil {
			return nil, err
		}
		if !comments.SameTarget(parent.Target, target) {
			return nil, errInvalidParent
		}
		item.ParentID = parent.ID
		item.RootID = parent.RootID
		if item.RootID == "" {
			item.RootID = parent.ID
		}
	}

	if err := s.store.CreateComment(ctx, item); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"comment_id": item.ID,
		"user_id":    viewer.UserID,
		"target":     target.String(),
	}).Info("comment created")
	return map[string]any{"id": item.ID}, nil
}

func (s *Service) EditComment(ctx context.Context, viewer comments.Viewer, commentID string, input EditCommentInput) (map[string]any, error) {
	input.Body = strings.TrimSpace(input.Body)
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	if err := s.authorize(viewer, rbac.ActionRead); err != nil {
		return nil, err
	}

	current, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return nil, err
	}
	if err := comments.CheckContentEdit(current.Status, viewer, current.AuthorID); err != nil {
		return nil, err
	}

	edit := store.CommentEdit{
		ID:          commentID,
		AuthorID:    viewer.UserID,
		Body:        input.Body,
		Visibility:  current.Visibility,
		IsAnonymous: current.IsAnonymous,
		UpdatedAt:   s.now(),
	}
	if input.Visibility != nil {
		edit.Visibility, _ = comments.ParseVisibility(*input.Visibility)
	}
	if input.IsAnonymous != nil {
		edit.IsAnonymous = *input.IsAnonymous
	}
	if input.AttachmentIDs != nil {
		edit.AttachmentIDs = comments.DedupeIDs(*input.AttachmentIDs)
	}
	if err := s.store.EditComment(ctx, edit); err != nil {
		return nil, err
	}

	node, err := s.presentOne(ctx, viewer, current.RootID, commentID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "comment": node}, nil
}

// presentOne renders a single comment without its replies.
func (s *Service) presentOne(ctx context.Context, viewer comments.Viewer, rootID, commentID string) (*comments.Node, error) {
	if rootID == "" {
		rootID = commentID
	}
	records, err := s.store.ListThreadRecords(ctx, rootID)
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		if record.ID != commentID {
			continue
		}
		tree := comments.BuildTree([]comments.Record{record}, viewer)
		if len(tree.Roots) == 0 {
			return nil, errFocusHidden
		}
		s.render(tree.Roots)
		return tree.Roots[0], nil
	}
	return nil, errNotFound
}

// DeleteComment soft-deletes a comment on behalf of its author.
func (s *Service) DeleteComment(ctx context.Context, viewer comments.Viewer, commentID string) (map[string]any, error) {
	if err := s.authorize(viewer, rbac.ActionRead); err != nil {
		return nil, err
	}
	current, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return nil, err
	}
	change, err := comments.PlanTransition(current.Status, comments.StatusDeleted, viewer, current.AuthorID)
	if err != nil {
		return nil, err
	}
	if err := s.store.ApplyStatusChange(ctx, store.StatusChange{
		CommentID: commentID,
		Change:    change,
		ActorID:   viewer.UserID,
		At:        s.now(),
	}); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"comment_id": commentID, "user_id": viewer.UserID}).Info("comment deleted")
	return map[string]any{"success": true}, nil
}

func (s *Service) ToggleReaction(ctx context.Context, viewer comments.Viewer, commentID, rawType string) (map[string]any, error) {
	if err := s.authorize(viewer, rbac.ActionReact); err != nil {
		return nil, err
	}
	reaction, ok := comments.ParseReactionType(rawType)
	if !ok {
		return nil, errInvalidReaction
	}
	if _, err := s.store.GetComment(ctx, commentID); err != nil {
		return nil, err
	}
	added, err := s.store.ToggleReaction(ctx, commentID, viewer.UserID, reaction)
	if err != nil {
		return nil, err
	}
	return s.reactionPayload(ctx, viewer, commentID, added)
}

// RemoveReaction withdraws the viewer's own reaction. Suspended users may
// still retract reactions they left before the suspension.
func (s *Service) RemoveReaction(ctx context.Context, viewer comments.Viewer, commentID, rawType string) (map[string]any, error) {
	if !viewer.IsAuthenticated() {
		return nil, errUnauthorized
	}
	if err := s.authorize(viewer, rbac.ActionRead); err != nil {
		return nil, err
	}
	reaction, ok := comments.ParseReactionType(rawType)
	if !ok {
		return nil, errInvalidReaction
	}
	if _, err := s.store.GetComment(ctx, commentID); err != nil {
		return nil, err
	}
	if err := s.store.RemoveReaction(ctx, commentID, viewer.UserID, reaction); err != nil {
		return nil, err
	}
	return s.reactionPayload(ctx, viewer, commentID, false)
}

func (s *Service) reactionPayload(ctx context.Context, viewer comments.Viewer, commentID string, added bool) (map[string]any, error) {
	rows, err := s.store.ListReactionRows(ctx, commentID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":   true,
		"added":     added,
		"reactions": comments.AggregateReactions(rows, viewer.UserID),
	}, nil
}
