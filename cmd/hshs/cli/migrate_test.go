package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mehaotian/hshs-server-sub001/internal/rbac"
	"github.com/mehaotian/hshs-server-sub001/internal/rbac/migrate"
	"github.com/mehaotian/hshs-server-sub001/internal/shared"
)

type stubGrant struct {
	roleID int64
	permID int64
	runID  string
}

type stubStore struct {
	legacy []rbac.LegacyRole
	perms  map[string]rbac.Permission
	grants []stubGrant
}

func newStubStore() *stubStore {
	return &stubStore{perms: make(map[string]rbac.Permission)}
}

func (s *stubStore) LegacyRoles(context.Context) ([]rbac.LegacyRole, error) {
	return s.legacy, nil
}

func (s *stubStore) GetPermissionByIdentifier(_ context.Context, identifier string) (rbac.Permission, error) {
	p, ok := s.perms[identifier]
	if !ok {
		return rbac.Permission{}, fmt.Errorf("permission %q: %w", identifier, shared.ErrNotFound)
	}
	return p, nil
}

func (s *stubStore) RolePatterns(_ context.Context, roleID int64) ([]string, error) {
	var out []string
	for _, g := range s.grants {
		for identifier, p := range s.perms {
			if p.ID == g.permID && g.roleID == roleID {
				out = append(out, identifier)
			}
		}
	}
	return out, nil
}

func (s *stubStore) InsertMigratedGrant(_ context.Context, roleID, permissionID int64, runID string) (bool, error) {
	for _, g := range s.grants {
		if g.roleID == roleID && g.permID == permissionID {
			return false, nil
		}
	}
	s.grants = append(s.grants, stubGrant{roleID: roleID, permID: permissionID, runID: runID})
	return true, nil
}

func (s *stubStore) DeleteMigratedGrants(_ context.Context, runID string) (int64, error) {
	var kept []stubGrant
	var deleted int64
	for _, g := range s.grants {
		if g.runID == runID {
			deleted++
			continue
		}
		kept = append(kept, g)
	}
	s.grants = kept
	return deleted, nil
}

func (s *stubStore) CreateMigrationRun(context.Context, string) error { return nil }

func (s *stubStore) FinishMigrationRun(context.Context, string, int, int) error { return nil }

var _ migrate.Store = (*stubStore)(nil)

func seededStore() *stubStore {
	store := newStubStore()
	store.perms["script:read"] = rbac.Permission{ID: 1, Identifier: "script:read"}
	store.perms["audio:read"] = rbac.Permission{ID: 2, Identifier: "audio:read"}
	store.legacy = []rbac.LegacyRole{
		{ID: 1, Name: "editor", Identifiers: []string{"script:read", "audio:read"}},
	}
	return store
}

func confirmYes(io.Reader, io.Writer) (bool, error) { return true, nil }

func TestDryRunJSONReportsPlan(t *testing.T) {
	cli := NewMigrateCLI(migrate.New(seededStore(), nil, nil))

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	code := cli.Run(context.Background(), MigrateOptions{
		Mode:       MigrateModeDry,
		JSONOutput: true,
		Stdout:     stdout,
		Stderr:     stderr,
	})
	require.Equal(t, 10, code, "pending work exits 10")
	require.Empty(t, stderr.String())

	var report migrate.Report
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &report))
	require.Equal(t, 2, report.Created)
	require.Empty(t, report.RunID)
}

func TestExecuteThenDryRunIsClean(t *testing.T) {
	store := seededStore()
	cli := NewMigrateCLI(migrate.New(store, nil, nil))
	ctx := context.Background()

	code := cli.Run(ctx, MigrateOptions{
		Mode:       MigrateModeExecute,
		JSONOutput: true,
		Stdout:     new(bytes.Buffer),
		Stderr:     new(bytes.Buffer),
		Confirm:    confirmYes,
	})
	require.Zero(t, code)
	require.Len(t, store.grants, 2)

	code = cli.Run(ctx, MigrateOptions{
		Mode:       MigrateModeDry,
		JSONOutput: true,
		Stdout:     new(bytes.Buffer),
		Stderr:     new(bytes.Buffer),
	})
	require.Zero(t, code, "nothing left to migrate")
}

func TestExecuteCancelledByUser(t *testing.T) {
	store := seededStore()
	cli := NewMigrateCLI(migrate.New(store, nil, nil))

	stderr := new(bytes.Buffer)
	code := cli.Run(context.Background(), MigrateOptions{
		Mode:   MigrateModeExecute,
		Stdout: new(bytes.Buffer),
		Stderr: stderr,
		Stdin:  strings.NewReader("no\n"),
	})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "cancelled")
	require.Empty(t, store.grants)
}

func TestVerifyExitCodes(t *testing.T) {
	store := seededStore()
	cli := NewMigrateCLI(migrate.New(store, nil, nil))
	ctx := context.Background()

	code := cli.Run(ctx, MigrateOptions{
		Mode:       MigrateModeVerify,
		JSONOutput: true,
		Stdout:     new(bytes.Buffer),
		Stderr:     new(bytes.Buffer),
	})
	require.Equal(t, 10, code, "unmigrated grants are discrepancies")

	require.Zero(t, cli.Run(ctx, MigrateOptions{
		Mode:    MigrateModeExecute,
		Stdout:  new(bytes.Buffer),
		Stderr:  new(bytes.Buffer),
		Confirm: confirmYes,
	}))

	require.Zero(t, cli.Run(ctx, MigrateOptions{
		Mode:   MigrateModeVerify,
		Stdout: new(bytes.Buffer),
		Stderr: new(bytes.Buffer),
	}))
}

func TestRollbackRequiresRunID(t *testing.T) {
	cli := NewMigrateCLI(migrate.New(seededStore(), nil, nil))

	stderr := new(bytes.Buffer)
	code := cli.Run(context.Background(), MigrateOptions{
		Mode:   MigrateModeRollback,
		Stdout: new(bytes.Buffer),
		Stderr: stderr,
	})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "--run-id")
}

func TestRollbackRemovesRunGrants(t *testing.T) {
	store := seededStore()
	cli := NewMigrateCLI(migrate.New(store, nil, nil))
	ctx := context.Background()

	stdout := new(bytes.Buffer)
	require.Zero(t, cli.Run(ctx, MigrateOptions{
		Mode:       MigrateModeExecute,
		JSONOutput: true,
		Stdout:     stdout,
		Stderr:     new(bytes.Buffer),
		Confirm:    confirmYes,
	}))
	var report migrate.Report
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &report))

	code := cli.Run(ctx, MigrateOptions{
		Mode:    MigrateModeRollback,
		RunID:   report.RunID,
		Stdout:  new(bytes.Buffer),
		Stderr:  new(bytes.Buffer),
		Confirm: confirmYes,
	})
	require.Zero(t, code)
	require.Empty(t, store.grants)
}

func TestInvalidMode(t *testing.T) {
	cli := NewMigrateCLI(migrate.New(newStubStore(), nil, nil))
	stderr := new(bytes.Buffer)
	code := cli.Run(context.Background(), MigrateOptions{
		Mode:   "bogus",
		Stdout: new(bytes.Buffer),
		Stderr: stderr,
	})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "invalid mode")
}
