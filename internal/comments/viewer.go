package comments

// Viewer is the resolved identity a request is evaluated against. The zero
// value is an unauthenticated visitor.
type Viewer struct {
	UserID           string `json:"userId,omitempty"`
	Name             string `json:"name,omitempty"`
	Image            string `json:"image,omitempty"`
	IsAdmin          bool   `json:"isAdmin"`
	IsSuspended      bool   `json:"isSuspended"`
	SuspensionReason string `json:"suspensionReason,omitempty"`
}

func (v Viewer) IsAuthenticated() bool {
	return v.UserID != ""
}

func (v Viewer) owns(authorID string) bool {
	return v.UserID != "" && authorID == v.UserID
}
