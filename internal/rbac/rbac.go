package rbac

import "coursetalk/api/internal/comments"

type Role string
type Action string

const (
	RoleGuest     Role = "guest"
	RoleSuspended Role = "suspended"
	RoleMember    Role = "member"
	RoleAdmin     Role = "admin"
)

const (
	ActionRead     Action = "read"
	ActionComment  Action = "comment"
	ActionReact    Action = "react"
	ActionDescribe Action = "describe"
	ActionUpload   Action = "upload"
	ActionModerate Action = "moderate"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleMember:
		return action != ActionModerate
	case RoleSuspended:
		return action == ActionRead || action == ActionUpload
	case RoleGuest:
		return action == ActionRead
	default:
		return false
	}
}

// RoleFor derives the role of a resolved viewer.
func RoleFor(viewer comments.Viewer) Role {
	switch {
	case !viewer.IsAuthenticated():
		return RoleGuest
	case viewer.IsAdmin:
		return RoleAdmin
	case viewer.IsSuspended:
		return RoleSuspended
	default:
		return RoleMember
	}
}
