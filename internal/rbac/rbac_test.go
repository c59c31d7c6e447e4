package rbac

import (
	"testing"

	"coursetalk/api/internal/comments"
)

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "guest read", role: RoleGuest, action: ActionRead, allow: true},
		{name: "guest comment", role: RoleGuest, action: ActionComment, allow: false},
		{name: "guest upload", role: RoleGuest, action: ActionUpload, allow: false},
		{name: "member comment", role: RoleMember, action: ActionComment, allow: true},
		{name: "member react", role: RoleMember, action: ActionReact, allow: true},
		{name: "member describe", role: RoleMember, action: ActionDescribe, allow: true},
		{name: "member moderate", role: RoleMember, action: ActionModerate, allow: false},
		{name: "suspended read", role: RoleSuspended, action: ActionRead, allow: true},
		{name: "suspended upload", role: RoleSuspended, action: ActionUpload, allow: true},
		{name: "suspended comment", role: RoleSuspended, action: ActionComment, allow: false},
		{name: "suspended react", role: RoleSuspended, action: ActionReact, allow: false},
		{name: "suspended describe", role: RoleSuspended, action: ActionDescribe, allow: false},
		{name: "admin moderate", role: RoleAdmin, action: ActionModerate, allow: true},
		{name: "unknown role", role: Role("root"), action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestRoleFor(t *testing.T) {
	cases := []struct {
		name   string
		viewer comments.Viewer
		want   Role
	}{
		{name: "anonymous", viewer: comments.Viewer{}, want: RoleGuest},
		{name: "member", viewer: comments.Viewer{UserID: "u1"}, want: RoleMember},
		{name: "suspended", viewer: comments.Viewer{UserID: "u1", IsSuspended: true}, want: RoleSuspended},
		{name: "admin", viewer: comments.Viewer{UserID: "u1", IsAdmin: true}, want: RoleAdmin},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := RoleFor(tc.viewer); got != tc.want {
				t.Fatalf("RoleFor(%+v) = %q, want %q", tc.viewer, got, tc.want)
			}
		})
	}
}
