package rbac

import "time"

// Permission is a catalog entry naming a capability, concrete or wildcard.
type Permission struct {
	ID          int64
	Identifier  string
	Label       string
	Description string
	Module      string
	Action      string
	Resource    string
	IsSystem    bool
	IsWildcard  bool
	SortOrder   int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Role groups permissions for assignment to users. Permissions reach a role
// only through the role_permissions association, never through a field on the
// role row.
type Role struct {
	ID          int64
	Name        string
	Label       string
	Description string
	IsSystem    bool
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RolePermission associates a permission with a role.
type RolePermission struct {
	RoleID         int64
	PermissionID   int64
	GrantedBy      int64
	GrantedAt      time.Time
	MigrationRunID string
}

// UserRole associates a role with a user. Revocation is logical: revoked rows
// stay in place with IsActive=false and a revocation timestamp, and
// re-assignment creates a fresh row.
type UserRole struct {
	ID         int64
	UserID     int64
	RoleID     int64
	AssignedBy int64
	AssignedAt time.Time
	RevokedBy  int64
	RevokedAt  *time.Time
	IsActive   bool
}

// LegacyRole is a role together with the permission identifiers embedded in
// its legacy JSON column, the denormalized shape the migration moves away
// from.
type LegacyRole struct {
	ID          int64
	Name        string
	Identifiers []string
}
