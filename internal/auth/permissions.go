package auth

import "slices"

// Permission represents a named capability.
type Permission string

// Permission constants.
const (
	PermDeviceRead      Permission = "device:read"
	PermCommandDispatch Permission = "command:dispatch"
	PermCommandExpire   Permission = "command:expire"

	PermAutomationRead    Permission = "automation:read"
	PermAutomationExecute Permission = "automation:execute"
	PermAutomationWrite   Permission = "automation:write"

	PermAuditRead Permission = "audit:read"
)

// rolePermissions is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermDeviceRead,
		PermAutomationRead,
	},
	RoleOperator: {
		PermDeviceRead,
		PermCommandDispatch,
		PermAutomationRead,
		PermAutomationExecute,
	},
	RoleAdmin: {
		PermDeviceRead,
		PermCommandDispatch,
		PermCommandExpire,
		PermAutomationRead,
		PermAutomationExecute,
		PermAutomationWrite,
		PermAuditRead,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(rolePermissions[role], perm)
}

// PermissionsForRole returns a copy of the permissions granted to a role,
// or nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	return slices.Clone(rolePermissions[role])
}
