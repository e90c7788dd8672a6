package rbac

import "context"

// Repository defines the storage collaborator for the permission engine. The
// data store is the single source of truth; the cache is strictly derived.
type Repository interface {
	UserExists(ctx context.Context, userID int64) (bool, error)

	ListPermissions(ctx context.Context, wildcardOnly bool) ([]Permission, error)
	GetPermission(ctx context.Context, id int64) (Permission, error)
	GetPermissionByIdentifier(ctx context.Context, identifier string) (Permission, error)
	CreatePermission(ctx context.Context, p Permission) (Permission, error)
	UpdatePermissionMeta(ctx context.Context, id int64, label, description string, sortOrder int) (Permission, error)
	DeletePermission(ctx context.Context, id int64) error

	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	CreateRole(ctx context.Context, r Role) (Role, error)
	UpdateRole(ctx context.Context, r Role) (Role, error)
	DeleteRole(ctx context.Context, id int64) error
	RolePermissions(ctx context.Context, roleID int64) ([]Permission, error)
	SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64, grantedBy int64) error

	InsertUserRole(ctx context.Context, userID, roleID, assignedBy int64) error
	RevokeUserRole(ctx context.Context, userID, roleID, revokedBy int64) (bool, error)
	HasActiveUserRole(ctx context.Context, userID, roleID int64) (bool, error)

	// UserPatterns returns the union of permission identifiers reachable
	// through the user's active memberships in active roles.
	UserPatterns(ctx context.Context, userID int64) ([]string, error)
	ActiveRoleIDs(ctx context.Context, userID int64) ([]int64, error)
	RolePatterns(ctx context.Context, roleID int64) ([]string, error)
	RoleUserIDs(ctx context.Context, roleID int64) ([]int64, error)
	UsersWithActiveRoles(ctx context.Context) ([]int64, error)
}
