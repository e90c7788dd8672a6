package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mehaotian/hshs-server-sub001/internal/platform/db"
	"github.com/mehaotian/hshs-server-sub001/internal/shared"
)

const uniqueViolation = "23505"

// PGRepository provides PostgreSQL backed persistence.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

const permissionColumns = `id, identifier, label, description, module, action, resource, is_system, is_wildcard, sort_order, created_at, updated_at`

func scanPermission(row pgx.Row) (Permission, error) {
	var p Permission
	err := row.Scan(&p.ID, &p.Identifier, &p.Label, &p.Description, &p.Module, &p.Action, &p.Resource, &p.IsSystem, &p.IsWildcard, &p.SortOrder, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// UserExists reports whether an active user account exists.
func (r *PGRepository) UserExists(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("rbac: user exists: %w", err)
	}
	return exists, nil
}

// ListPermissions returns catalog entries ordered by sort order then identifier.
func (r *PGRepository) ListPermissions(ctx context.Context, wildcardOnly bool) ([]Permission, error) {
	query := `SELECT ` + permissionColumns + ` FROM permissions`
	if wildcardOnly {
		query += ` WHERE is_wildcard`
	}
	query += ` ORDER BY sort_order, identifier`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rbac: list permissions: %w", err)
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// GetPermission fetches a catalog entry by id.
func (r *PGRepository) GetPermission(ctx context.Context, id int64) (Permission, error) {
	p, err := scanPermission(r.pool.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, fmt.Errorf("rbac: permission %d: %w", id, shared.ErrNotFound)
	}
	return p, err
}

// GetPermissionByIdentifier fetches a catalog entry by identifier string.
func (r *PGRepository) GetPermissionByIdentifier(ctx context.Context, identifier string) (Permission, error) {
	p, err := scanPermission(r.pool.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE identifier = $1`, identifier))
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, fmt.Errorf("rbac: permission %q: %w", identifier, shared.ErrNotFound)
	}
	return p, err
}

// CreatePermission inserts a catalog entry.
func (r *PGRepository) CreatePermission(ctx context.Context, p Permission) (Permission, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO permissions (identifier, label, description, module, action, resource, is_system, is_wildcard, sort_order, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING `+permissionColumns,
		p.Identifier, p.Label, p.Description, p.Module, p.Action, p.Resource, p.IsSystem, p.IsWildcard, p.SortOrder)
	created, err := scanPermission(row)
	if isUniqueViolation(err) {
		return Permission{}, fmt.Errorf("rbac: permission %q already exists: %w", p.Identifier, shared.ErrConflict)
	}
	return created, err
}

// UpdatePermissionMeta updates display metadata only; the identifier and its
// parsed segments are immutable once created.
func (r *PGRepository) UpdatePermissionMeta(ctx context.Context, id int64, label, description string, sortOrder int) (Permission, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE permissions SET label = $2, description = $3, sort_order = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING `+permissionColumns, id, label, description, sortOrder)
	p, err := scanPermission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, fmt.Errorf("rbac: permission %d: %w", id, shared.ErrNotFound)
	}
	return p, err
}

// DeletePermission removes a non-system catalog entry. Associations cascade.
func (r *PGRepository) DeletePermission(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM permissions WHERE id = $1 AND NOT is_system`, id)
	if err != nil {
		return fmt.Errorf("rbac: delete permission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rbac: permission %d missing or protected: %w", id, shared.ErrNotFound)
	}
	return nil
}

const roleColumns = `id, name, label, description, is_system, is_active, created_at, updated_at`

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.Label, &role.Description, &role.IsSystem, &role.IsActive, &role.CreatedAt, &role.UpdatedAt)
	return role, err
}

// ListRoles returns all roles.
func (r *PGRepository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("rbac: list roles: %w", err)
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GetRole fetches a role by id.
func (r *PGRepository) GetRole(ctx context.Context, id int64) (Role, error) {
	role, err := scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, fmt.Errorf("rbac: role %d: %w", id, shared.ErrNotFound)
	}
	return role, err
}

// CreateRole inserts a new role.
func (r *PGRepository) CreateRole(ctx context.Context, role Role) (Role, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO roles (name, label, description, is_system, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING `+roleColumns,
		role.Name, role.Label, role.Description, role.IsSystem, role.IsActive)
	created, err := scanRole(row)
	if isUniqueViolation(err) {
		return Role{}, fmt.Errorf("rbac: role %q already exists: %w", role.Name, shared.ErrConflict)
	}
	return created, err
}

// UpdateRole updates role metadata and the active flag.
func (r *PGRepository) UpdateRole(ctx context.Context, role Role) (Role, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE roles SET label = $2, description = $3, is_active = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING `+roleColumns,
		role.ID, role.Label, role.Description, role.IsActive)
	updated, err := scanRole(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, fmt.Errorf("rbac: role %d: %w", role.ID, shared.ErrNotFound)
	}
	return updated, err
}

// DeleteRole removes a non-system role. Associations cascade.
func (r *PGRepository) DeleteRole(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1 AND NOT is_system`, id)
	if err != nil {
		return fmt.Errorf("rbac: delete role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rbac: role %d missing or protected: %w", id, shared.ErrNotFound)
	}
	return nil
}

// RolePermissions returns the catalog entries granted to a role.
func (r *PGRepository) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+prefixedPermissionColumns("p")+`
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.sort_order, p.identifier`, roleID)
	if err != nil {
		return nil, fmt.Errorf("rbac: role permissions: %w", err)
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// SetRolePermissions replaces the association set of a role with the given
// permission ids, attaching and detaching the difference inside one
// transaction.
func (r *PGRepository) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64, grantedBy int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT permission_id FROM role_permissions WHERE role_id = $1`, roleID)
		if err != nil {
			return fmt.Errorf("rbac: load existing grants: %w", err)
		}
		existing := make(map[int64]struct{})
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			existing[id] = struct{}{}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		keep := make(map[int64]struct{}, len(permissionIDs))
		for _, id := range permissionIDs {
			keep[id] = struct{}{}
			if _, ok := existing[id]; ok {
				continue
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO role_permissions (role_id, permission_id, granted_by, granted_at)
				VALUES ($1, $2, $3, NOW())`, roleID, id, grantedBy); err != nil {
				if isUniqueViolation(err) {
					continue
				}
				return fmt.Errorf("rbac: attach permission %d: %w", id, err)
			}
		}
		for id := range existing {
			if _, ok := keep[id]; ok {
				continue
			}
			if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, id); err != nil {
				return fmt.Errorf("rbac: detach permission %d: %w", id, err)
			}
		}
		return nil
	})
}

// InsertUserRole records a new assignment. The partial unique index on active
// pairs rejects duplicates.
func (r *PGRepository) InsertUserRole(ctx context.Context, userID, roleID, assignedBy int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_roles (user_id, role_id, assigned_by, assigned_at, is_active)
		VALUES ($1, $2, $3, NOW(), TRUE)`, userID, roleID, assignedBy)
	if isUniqueViolation(err) {
		return fmt.Errorf("rbac: user %d already holds role %d: %w", userID, roleID, shared.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("rbac: insert user role: %w", err)
	}
	return nil
}

// RevokeUserRole marks the active assignment revoked with a timestamp. The row
// is kept for audit history. Returns false when nothing was active.
func (r *PGRepository) RevokeUserRole(ctx context.Context, userID, roleID, revokedBy int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE user_roles SET is_active = FALSE, revoked_by = $3, revoked_at = NOW()
		WHERE user_id = $1 AND role_id = $2 AND is_active`, userID, roleID, revokedBy)
	if err != nil {
		return false, fmt.Errorf("rbac: revoke user role: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// HasActiveUserRole reports whether an active assignment exists.
func (r *PGRepository) HasActiveUserRole(ctx context.Context, userID, roleID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM user_roles WHERE user_id = $1 AND role_id = $2 AND is_active)`,
		userID, roleID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("rbac: has active user role: %w", err)
	}
	return exists, nil
}

// UserPatterns returns the deduplicated identifier union across all active
// memberships in active roles.
func (r *PGRepository) UserPatterns(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT p.identifier
		FROM user_roles ur
		JOIN roles ro ON ro.id = ur.role_id AND ro.is_active
		JOIN role_permissions rp ON rp.role_id = ur.role_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = $1 AND ur.is_active
		ORDER BY p.identifier`, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: user patterns: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// ActiveRoleIDs returns the ids of active roles the user actively holds.
func (r *PGRepository) ActiveRoleIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ur.role_id
		FROM user_roles ur
		JOIN roles ro ON ro.id = ur.role_id AND ro.is_active
		WHERE ur.user_id = $1 AND ur.is_active
		ORDER BY ur.role_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: active role ids: %w", err)
	}
	defer rows.Close()
	return scanInt64s(rows)
}

// RolePatterns returns the identifiers granted to a role.
func (r *PGRepository) RolePatterns(ctx context.Context, roleID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.identifier
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.identifier`, roleID)
	if err != nil {
		return nil, fmt.Errorf("rbac: role patterns: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// RoleUserIDs returns the users actively holding a role, for targeted cache
// invalidation.
func (r *PGRepository) RoleUserIDs(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT user_id FROM user_roles WHERE role_id = $1 AND is_active ORDER BY user_id`, roleID)
	if err != nil {
		return nil, fmt.Errorf("rbac: role user ids: %w", err)
	}
	defer rows.Close()
	return scanInt64s(rows)
}

// UsersWithActiveRoles returns every user id with at least one active
// assignment, used by the cache warmup job.
func (r *PGRepository) UsersWithActiveRoles(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT ur.user_id
		FROM user_roles ur
		JOIN roles ro ON ro.id = ur.role_id AND ro.is_active
		WHERE ur.is_active
		ORDER BY ur.user_id`)
	if err != nil {
		return nil, fmt.Errorf("rbac: users with active roles: %w", err)
	}
	defer rows.Close()
	return scanInt64s(rows)
}

func prefixedPermissionColumns(alias string) string {
	return alias + ".id, " + alias + ".identifier, " + alias + ".label, " + alias + ".description, " +
		alias + ".module, " + alias + ".action, " + alias + ".resource, " + alias + ".is_system, " +
		alias + ".is_wildcard, " + alias + ".sort_order, " + alias + ".created_at, " + alias + ".updated_at"
}

func scanStrings(rows pgx.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanInt64s(rows pgx.Rows) ([]int64, error) {
	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
