package rbac

import (
	"context"
	"encoding/json"
	"fmt"
)

// LegacyRoles returns every role together with the permission identifiers
// decoded from its legacy JSON column.
func (r *PGRepository) LegacyRoles(ctx context.Context) ([]LegacyRole, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, COALESCE(legacy_permissions, '[]'::jsonb)
		FROM roles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("rbac: legacy roles: %w", err)
	}
	defer rows.Close()
	var roles []LegacyRole
	for rows.Next() {
		var role LegacyRole
		var raw []byte
		if err := rows.Scan(&role.ID, &role.Name, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &role.Identifiers); err != nil {
			return nil, fmt.Errorf("rbac: role %q legacy permissions: %w", role.Name, err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// InsertMigratedGrant records one association created by a migration run. The
// unique constraint is the safety net for re-runs: existing pairs are left in
// place and reported as not inserted.
func (r *PGRepository) InsertMigratedGrant(ctx context.Context, roleID, permissionID int64, runID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO role_permissions (role_id, permission_id, granted_by, granted_at, migration_run_id)
		VALUES ($1, $2, 0, NOW(), $3)
		ON CONFLICT (role_id, permission_id) DO NOTHING`, roleID, permissionID, runID)
	if err != nil {
		return false, fmt.Errorf("rbac: insert migrated grant: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteMigratedGrants removes only the associations stamped with the given
// run id, leaving hand-authored grants untouched.
func (r *PGRepository) DeleteMigratedGrants(ctx context.Context, runID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM role_permissions WHERE migration_run_id = $1`, runID)
	if err != nil {
		return 0, fmt.Errorf("rbac: delete migrated grants: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CreateMigrationRun opens a migration run record.
func (r *PGRepository) CreateMigrationRun(ctx context.Context, runID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO rbac_migration_runs (id, started_at) VALUES ($1, NOW())`, runID)
	if err != nil {
		return fmt.Errorf("rbac: create migration run: %w", err)
	}
	return nil
}

// FinishMigrationRun closes a run record with its tally.
func (r *PGRepository) FinishMigrationRun(ctx context.Context, runID string, created, failed int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE rbac_migration_runs
		SET finished_at = NOW(), grants_created = $2, failures = $3
		WHERE id = $1`, runID, created, failed)
	if err != nil {
		return fmt.Errorf("rbac: finish migration run: %w", err)
	}
	return nil
}
