package model

// Role is a staff role. Each role maps to a fixed permission set.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleTeacher    Role = "teacher"
	RoleSupervisor Role = "supervisor"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := rolePermissions[r]
	return ok
}

var rolePermissions = map[Role][]Permission{
	RoleAdmin: AllPermissions,
	RoleTeacher: {
		PermissionMediaUpload,
		PermissionStudentsRead,
		PermissionExamsRead,
		PermissionExamsWriteOwn,
		PermissionExamsPublish,
		PermissionGradingWrite,
		PermissionResultsRead,
	},
	RoleSupervisor: {
		PermissionStudentsRead,
		PermissionStudentsResetSession,
		PermissionExamsRead,
		PermissionMonitorRead,
		PermissionProctoringRead,
		PermissionAttemptsControl,
		PermissionResultsRead,
	},
}

// Permissions returns the permission codes granted to r.
func (r Role) Permissions() []string {
	perms := rolePermissions[r]
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}

// Has reports whether r grants p.
func (r Role) Has(p Permission) bool {
	for _, rp := range rolePermissions[r] {
		if rp == p {
			return true
		}
	}
	return false
}
