package comments

import (
	"errors"
	"time"
)

type Status string

const (
	StatusActive     Status = "active"
	StatusSoftbanned Status = "softbanned"
	StatusDeleted    Status = "deleted"
)

func ParseStatus(raw string) (Status, bool) {
	switch Status(raw) {
	case StatusActive, StatusSoftbanned, StatusDeleted:
		return Status(raw), true
	default:
		return "", false
	}
}

type Visibility string

const (
	VisibilityPublic       Visibility = "public"
	VisibilityLoggedInOnly Visibility = "logged_in_only"
	VisibilityAnonymous    Visibility = "anonymous"
)

// ParseVisibility maps an empty value to public.
func ParseVisibility(raw string) (Visibility, bool) {
	switch Visibility(raw) {
	case "":
		return VisibilityPublic, true
	case VisibilityPublic, VisibilityLoggedInOnly, VisibilityAnonymous:
		return Visibility(raw), true
	default:
		return "", false
	}
}

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrCommentLocked     = errors.New("comment locked")
	ErrNotAuthor         = errors.New("not the comment author")
	ErrNotAdmin          = errors.New("admin privileges required")
)

// editedThreshold separates a genuine edit from the write that created the row.
const editedThreshold = time.Second

func IsEdited(createdAt, updatedAt time.Time) bool {
	return updatedAt.Sub(createdAt) > editedThreshold
}

// Change describes the column updates a permitted transition requires.
type Change struct {
	Status Status
	// Deleted is set when the transition moves the comment to deleted.
	Deleted bool
	// Moderated is set when an admin performed the transition.
	Moderated bool
	// Noop means the comment is already in the requested state.
	Noop bool
}

// PlanTransition validates a status change requested by viewer on a comment
// owned by authorID.
func PlanTransition(current, next Status, viewer Viewer, authorID string) (Change, error) {
	if _, ok := ParseStatus(string(next)); !ok {
		return Change{}, ErrInvalidTransition
	}
	isAuthor := viewer.owns(authorID)

	if current == StatusDeleted {
		if viewer.IsAdmin {
			return Change{}, ErrInvalidTransition
		}
		if isAuthor {
			return Change{}, ErrCommentLocked
		}
		return Change{}, ErrNotAuthor
	}

	if next == StatusDeleted {
		switch {
		case viewer.IsAdmin:
			return Change{Status: StatusDeleted, Deleted: true, Moderated: true}, nil
		case isAuthor:
			return Change{Status: StatusDeleted, Deleted: true}, nil
		default:
			return Change{}, ErrNotAuthor
		}
	}

	if !viewer.IsAdmin {
		return Change{}, ErrNotAdmin
	}
	if current == next {
		return Change{Status: next, Moderated: true, Noop: true}, nil
	}
	return Change{Status: next, Moderated: true}, nil
}

// CheckContentEdit reports whether viewer may change the body, visibility,
// anonymity or attachments of a comment.
func CheckContentEdit(current Status, viewer Viewer, authorID string) error {
	if !viewer.owns(authorID) {
		return ErrNotAuthor
	}
	if current != StatusActive {
		return ErrCommentLocked
	}
	return nil
}
