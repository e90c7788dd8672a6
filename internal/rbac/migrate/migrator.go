// Package migrate carries role permissions from the legacy denormalized
// storage, a JSON identifier list embedded on the role record, into the
// normalized role_permissions association table.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/mehaotian/hshs-server-sub001/internal/rbac"
	"github.com/mehaotian/hshs-server-sub001/internal/shared"
)

// Store defines the persistence operations the migrator needs.
type Store interface {
	LegacyRoles(ctx context.Context) ([]rbac.LegacyRole, error)
	GetPermissionByIdentifier(ctx context.Context, identifier string) (rbac.Permission, error)
	RolePatterns(ctx context.Context, roleID int64) ([]string, error)
	InsertMigratedGrant(ctx context.Context, roleID, permissionID int64, runID string) (bool, error)
	DeleteMigratedGrants(ctx context.Context, runID string) (int64, error)
	CreateMigrationRun(ctx context.Context, runID string) error
	FinishMigrationRun(ctx context.Context, runID string, created, failed int) error
}

// Outcome summarises a run.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailure Outcome = "failure"
)

// RoleReport describes the migration plan or result for one role.
type RoleReport struct {
	RoleID   int64    `json:"role_id"`
	RoleName string   `json:"role_name"`
	Created  []string `json:"created,omitempty"`
	Skipped  []string `json:"skipped,omitempty"`
	Missing  []string `json:"missing,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// Report is the overall tally of a dry run or execute pass.
type Report struct {
	RunID   string       `json:"run_id,omitempty"`
	Roles   []RoleReport `json:"roles"`
	Created int          `json:"created"`
	Skipped int          `json:"skipped"`
	Missing int          `json:"missing"`
	Failed  int          `json:"failed"`
	Outcome Outcome      `json:"outcome"`
}

// VerifyRole lists the discrepancies found for one role.
type VerifyRole struct {
	RoleID   int64    `json:"role_id"`
	RoleName string   `json:"role_name"`
	Missing  []string `json:"missing,omitempty"`
	Extra    []string `json:"extra,omitempty"`
}

// VerifyReport is the result of comparing the association table against the
// legacy JSON for every role.
type VerifyReport struct {
	Roles         []VerifyRole `json:"roles,omitempty"`
	Discrepancies int          `json:"discrepancies"`
}

// RollbackReport tallies a rollback pass.
type RollbackReport struct {
	RunID   string `json:"run_id"`
	Deleted int64  `json:"deleted"`
}

// Migrator transforms legacy embedded permission lists into association rows.
// Execute is idempotent: pairs that already exist are skipped, and the unique
// constraint backs that up.
type Migrator struct {
	store  Store
	cache  *rbac.PermissionCache
	logger *slog.Logger
}

// New wires a Migrator. The cache may be nil outside the running service.
func New(store Store, cache *rbac.PermissionCache, logger *slog.Logger) *Migrator {
	return &Migrator{store: store, cache: cache, logger: logger}
}

// DryRun computes the association rows Execute would create, without writing.
func (m *Migrator) DryRun(ctx context.Context) (Report, error) {
	return m.run(ctx, "")
}

// Execute migrates role by role. Row-level failures are collected into the
// report instead of aborting the run; the final outcome is success, partial
// or failure.
func (m *Migrator) Execute(ctx context.Context) (Report, error) {
	runID := uuid.NewString()
	if err := m.store.CreateMigrationRun(ctx, runID); err != nil {
		return Report{}, err
	}
	report, err := m.run(ctx, runID)
	if err != nil {
		return Report{}, err
	}
	if err := m.store.FinishMigrationRun(ctx, runID, report.Created, report.Failed); err != nil {
		return Report{}, err
	}
	if err := m.invalidate(ctx); err != nil {
		return Report{}, err
	}
	return report, nil
}

// Verify compares, for every role, the identifiers reachable through the
// association table with the set encoded in the legacy JSON field. It reports
// discrepancies without fixing them.
func (m *Migrator) Verify(ctx context.Context) (VerifyReport, error) {
	roles, err := m.store.LegacyRoles(ctx)
	if err != nil {
		return VerifyReport{}, err
	}
	var report VerifyReport
	for _, role := range roles {
		current, err := m.store.RolePatterns(ctx, role.ID)
		if err != nil {
			return VerifyReport{}, err
		}
		currentSet := toSet(current)
		legacySet := toSet(role.Identifiers)

		var vr VerifyRole
		for id := range legacySet {
			if _, ok := currentSet[id]; !ok {
				vr.Missing = append(vr.Missing, id)
			}
		}
		for id := range currentSet {
			if _, ok := legacySet[id]; !ok {
				vr.Extra = append(vr.Extra, id)
			}
		}
		if len(vr.Missing) == 0 && len(vr.Extra) == 0 {
			continue
		}
		sort.Strings(vr.Missing)
		sort.Strings(vr.Extra)
		vr.RoleID = role.ID
		vr.RoleName = role.Name
		report.Roles = append(report.Roles, vr)
		report.Discrepancies += len(vr.Missing) + len(vr.Extra)
	}
	return report, nil
}

// Rollback removes only the associations stamped with the given run id,
// restoring the pre-migration state while preserving hand-authored grants.
func (m *Migrator) Rollback(ctx context.Context, runID string) (RollbackReport, error) {
	if _, err := uuid.Parse(runID); err != nil {
		return RollbackReport{}, fmt.Errorf("migrate: run id %q: %w", runID, shared.ErrValidation)
	}
	deleted, err := m.store.DeleteMigratedGrants(ctx, runID)
	if err != nil {
		return RollbackReport{}, err
	}
	if err := m.invalidate(ctx); err != nil {
		return RollbackReport{}, err
	}
	return RollbackReport{RunID: runID, Deleted: deleted}, nil
}

// run walks every role. With an empty runID it only plans; otherwise it
// inserts the missing associations.
func (m *Migrator) run(ctx context.Context, runID string) (Report, error) {
	roles, err := m.store.LegacyRoles(ctx)
	if err != nil {
		return Report{}, err
	}
	report := Report{RunID: runID}
	for _, role := range roles {
		rr := m.migrateRole(ctx, role, runID)
		report.Created += len(rr.Created)
		report.Skipped += len(rr.Skipped)
		report.Missing += len(rr.Missing)
		report.Failed += len(rr.Errors)
		report.Roles = append(report.Roles, rr)
	}
	switch {
	case report.Failed == 0:
		report.Outcome = OutcomeSuccess
	case report.Created > 0:
		report.Outcome = OutcomePartial
	default:
		report.Outcome = OutcomeFailure
	}
	return report, nil
}

func (m *Migrator) migrateRole(ctx context.Context, role rbac.LegacyRole, runID string) RoleReport {
	rr := RoleReport{RoleID: role.ID, RoleName: role.Name}

	existing, err := m.store.RolePatterns(ctx, role.ID)
	if err != nil {
		rr.Errors = append(rr.Errors, fmt.Sprintf("load existing grants: %v", err))
		return rr
	}
	existingSet := toSet(existing)

	seen := make(map[string]struct{}, len(role.Identifiers))
	for _, identifier := range role.Identifiers {
		if _, ok := seen[identifier]; ok {
			continue
		}
		seen[identifier] = struct{}{}

		if _, ok := existingSet[identifier]; ok {
			rr.Skipped = append(rr.Skipped, identifier)
			continue
		}
		perm, err := m.store.GetPermissionByIdentifier(ctx, identifier)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				rr.Missing = append(rr.Missing, identifier)
			} else {
				rr.Errors = append(rr.Errors, fmt.Sprintf("%s: %v", identifier, err))
			}
			continue
		}
		if runID == "" {
			rr.Created = append(rr.Created, identifier)
			continue
		}
		inserted, err := m.store.InsertMigratedGrant(ctx, role.ID, perm.ID, runID)
		if err != nil {
			rr.Errors = append(rr.Errors, fmt.Sprintf("%s: %v", identifier, err))
			m.log().Error("migrate grant",
				slog.String("role", role.Name),
				slog.String("identifier", identifier),
				slog.Any("error", err))
			continue
		}
		if inserted {
			rr.Created = append(rr.Created, identifier)
		} else {
			rr.Skipped = append(rr.Skipped, identifier)
		}
	}
	return rr
}

func (m *Migrator) invalidate(ctx context.Context) error {
	if m.cache == nil {
		return nil
	}
	if err := m.cache.InvalidateAll(ctx); err != nil {
		return fmt.Errorf("migrate: invalidate cache: %w", err)
	}
	return nil
}

func (m *Migrator) log() *slog.Logger {
	if m.logger != nil {
		return m.logger
	}
	return slog.Default()
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}
