package store

import (
	"time"

	"coursetalk/api/internal/comments"
)

type User struct {
	ID         string
	Name       string
	Image      string
	IsAdmin    bool
	IsVerified bool
	CreatedAt  time.Time
}

type Suspension struct {
	ID          string
	UserID      string
	UserName    string
	Reason      string
	Note        string
	CreatedByID string
	CreatedAt   time.Time
	ExpiresAt   *time.Time
	LiftedAt    *time.Time
	LiftedByID  string
}

// Active reports whether the suspension is in force at now.
func (s Suspension) Active(now time.Time) bool {
	if s.LiftedAt != nil {
		return false
	}
	return s.ExpiresAt == nil || s.ExpiresAt.After(now)
}

// Comment is the mutable state of a single comment row.
type Comment struct {
	ID          string
	Body        string
	Visibility  comments.Visibility
	Status      comments.Status
	AuthorID    string
	IsAnonymous bool
	ParentID    string
	RootID      string
	Target      comments.Target
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type NewComment struct {
	ID            string
	Body          string
	Visibility    comments.Visibility
	AuthorID      string
	IsAnonymous   bool
	ParentID      string
	RootID        string
	Target        comments.Target
	AttachmentIDs []string
	CreatedAt     time.Time
}

// CommentEdit carries an author's content change. A nil AttachmentIDs keeps
// the current links.
type CommentEdit struct {
	ID            string
	AuthorID      string
	Body          string
	Visibility    comments.Visibility
	IsAnonymous   bool
	AttachmentIDs []string
	UpdatedAt     time.Time
}

type StatusChange struct {
	CommentID string
	Change    comments.Change
	ActorID   string
	Note      string
	At        time.Time
}

type ModerationItem struct {
	ID             string
	Body           string
	Status         comments.Status
	Visibility     comments.Visibility
	AuthorID       string
	AuthorName     string
	Target         comments.Target
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ModeratedAt    *time.Time
	ModeratedByID  string
	ModerationNote string
}

type Description struct {
	ID             string
	Content        string
	LastEditedAt   *time.Time
	LastEditedByID string
	LastEditedBy   string
	UpdatedAt      time.Time
}

type DescriptionEdit struct {
	ID              string
	DescriptionID   string
	EditorID        string
	EditorName      string
	PreviousContent string
	NextContent     string
	CreatedAt       time.Time
}
