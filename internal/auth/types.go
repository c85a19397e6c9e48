package auth

import "errors"

// Role represents an authorisation tier.
type Role string

const (
	// RoleViewer reads devices, states, command history and events.
	RoleViewer Role = "viewer"

	// RoleOperator can also dispatch commands.
	RoleOperator Role = "operator"

	// RoleAdmin can also trigger maintenance such as expiry sweeps.
	RoleAdmin Role = "admin"
)

// ValidRoles lists every role a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleAdmin}

// IsValidRole reports whether r is a known role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Sentinel errors.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrInvalidRole  = errors.New("invalid role")
	ErrForbidden    = errors.New("insufficient permissions")
)
