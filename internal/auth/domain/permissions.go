package domain

import "slices"

// PermissionAll grants every capability.
const PermissionAll = "*"

const (
	PermUsersRead     = "users:read"
	PermUsersWrite    = "users:write"
	PermUsersDelete   = "users:delete"
	PermReportsRead   = "reports:read"
	PermProfileRead   = "profile:read"
	PermProfileWrite  = "profile:write"
	PermCompaniesRead = "companies:read"
)

// ReadPermission is the capability to view a department's module, e.g.
// "finance:read".
func ReadPermission(d Department) string { return string(d) + ":read" }

// WritePermission is the capability to change a department's module.
func WritePermission(d Department) string { return string(d) + ":write" }

// HasPermission reports whether perms contains the wildcard or p literally.
func HasPermission(perms []string, p string) bool {
	return slices.Contains(perms, PermissionAll) || slices.Contains(perms, p)
}

// DefaultPermissions is the capability set assigned to a new user who was
// not given an explicit one.
func DefaultPermissions(role Role, dept Department) []string {
	switch role {
	case RoleSuperAdmin:
		return []string{PermissionAll}
	case RoleAdmin:
		perms := []string{PermUsersRead, PermUsersWrite, PermUsersDelete, PermCompaniesRead, PermReportsRead}
		for _, d := range Departments {
			perms = append(perms, ReadPermission(d), WritePermission(d))
		}
		return perms
	case RoleManager:
		return []string{PermUsersRead, PermReportsRead, PermProfileRead, PermProfileWrite, ReadPermission(dept), WritePermission(dept)}
	case RoleEmployee:
		return []string{PermProfileRead, PermProfileWrite, ReadPermission(dept), WritePermission(dept)}
	case RoleViewer:
		return []string{PermProfileRead, ReadPermission(dept)}
	default:
		return []string{}
	}
}
