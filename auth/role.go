package auth

import "fmt"

// Role is a user's access level.  The integer values are stable and appear
// on the wire.  Each role's permission set is a superset of the previous
// role's.
type Role int

const (
	RoleGuest Role = iota
	RoleUser
	RoleOperator
	RoleAdmin
	RoleSuperAdmin
)

var roleNames = map[Role]string{
	RoleGuest:      "GUEST",
	RoleUser:       "USER",
	RoleOperator:   "OPERATOR",
	RoleAdmin:      "ADMIN",
	RoleSuperAdmin: "SUPER_ADMIN",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}

	return fmt.Sprintf("Role(%d)", int(r))
}

// Permissions recognized by the gateway.
const (
	PermDeviceRead    = "device:read"
	PermDeviceControl = "device:control"
	PermDeviceManage  = "device:manage"
	PermGroupManage   = "group:manage"
	PermUserManage    = "user:manage"
	PermSystemManage  = "system:manage"
)

// rolePermissions is cumulative: each role carries every permission of the
// roles below it.
var rolePermissions = map[Role][]string{
	RoleGuest:      {PermDeviceRead},
	RoleUser:       {PermDeviceRead, PermDeviceControl},
	RoleOperator:   {PermDeviceRead, PermDeviceControl, PermDeviceManage, PermGroupManage},
	RoleAdmin:      {PermDeviceRead, PermDeviceControl, PermDeviceManage, PermGroupManage, PermUserManage},
	RoleSuperAdmin: {PermDeviceRead, PermDeviceControl, PermDeviceManage, PermGroupManage, PermUserManage, PermSystemManage},
}

// PermissionsFor returns the permission set granted by a role.
func PermissionsFor(role Role) []string {
	return append([]string{}, rolePermissions[role]...)
}

// roleGrants tests whether the role alone grants the permission.
func roleGrants(role Role, permission string) bool {
	for _, candidate := range rolePermissions[role] {
		if candidate == permission {
			return true
		}
	}

	return false
}
