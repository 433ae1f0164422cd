// Package userdir is the boundary to the external user directory. The auth
// core never owns user records; it only asks whether a subject exists and
// what role it carries.
package userdir

import "context"

// Role is the coarse role claim stamped into issued tokens.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Directory answers subject-existence and role questions.
type Directory interface {
	UserExists(ctx context.Context, id string) (bool, error)
	GetRole(ctx context.Context, id string) (Role, error)
}
