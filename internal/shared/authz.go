package shared

// Core platform permissions used by the management API.
const (
	PermUserRead   = "user:read"
	PermUserManage = "user:manage"

	PermRoleRead   = "role:read"
	PermRoleManage = "role:manage"

	PermPermissionRead   = "permission:read"
	PermPermissionManage = "permission:manage"
)

// CoreScopes lists all permissions related to the core platform.
func CoreScopes() []string {
	return []string{
		PermUserRead,
		PermUserManage,
		PermRoleRead,
		PermRoleManage,
		PermPermissionRead,
		PermPermissionManage,
	}
}
