package domain

import "slices"

// Role names carried in access tokens. RoleAdmin holders are exempt from the
// sticky lock and from visibility redaction, and may delete geotags and
// positions.
const (
	RoleUser  = "user"
	RoleAdmin = "tags-admin"
)

// User is the resolved identity of the caller: who they are and which roles
// they hold. The zero value is the anonymous caller, which holds no roles.
type User struct {
	ID          string
	DisplayName string
	Email       string
	Roles       []string
}

// Anonymous reports whether the caller is unauthenticated.
func (u User) Anonymous() bool { return u.ID == "" }

// HasRole is the capability check injected into the lifecycle service.
// It is a plain function value so tests can substitute their own policy.
func HasRole(u User, role string) bool {
	return slices.Contains(u.Roles, role)
}
