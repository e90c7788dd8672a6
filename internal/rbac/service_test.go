package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mehaotian/hshs-server-sub001/internal/shared"
)

func TestCreatePermissionDerivesMetadata(t *testing.T) {
	repo := newMemoryRepo()
	service := NewService(repo, newTestCache(t), nil)
	ctx := context.Background()

	perm, err := service.CreatePermission(ctx, CreatePermissionInput{
		Identifier: "script:read:chapter",
		Label:      "查看剧本章节",
	})
	require.NoError(t, err)
	require.Equal(t, "script", perm.Module)
	require.Equal(t, "read", perm.Action)
	require.Equal(t, "chapter", perm.Resource)
	require.False(t, perm.IsWildcard)

	wildcard, err := service.CreatePermission(ctx, CreatePermissionInput{Identifier: "audio:*"})
	require.NoError(t, err)
	require.True(t, wildcard.IsWildcard)
	require.Equal(t, "audio:*", wildcard.Label, "label defaults to the identifier")
}

func TestCreatePermissionRejectsBadIdentifier(t *testing.T) {
	repo := newMemoryRepo()
	service := NewService(repo, newTestCache(t), nil)
	ctx := context.Background()

	for _, bad := range []string{"", "script", "a:b:c:d", "Script:read"} {
		_, err := service.CreatePermission(ctx, CreatePermissionInput{Identifier: bad})
		require.ErrorIs(t, err, shared.ErrValidation, "identifier %q", bad)
	}
}

func TestCreatePermissionDuplicate(t *testing.T) {
	repo := newMemoryRepo()
	service := NewService(repo, newTestCache(t), nil)
	ctx := context.Background()

	_, err := service.CreatePermission(ctx, CreatePermissionInput{Identifier: "script:read"})
	require.NoError(t, err)
	_, err = service.CreatePermission(ctx, CreatePermissionInput{Identifier: "script:read"})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestDeleteSystemPermissionProtected(t *testing.T) {
	repo := newMemoryRepo()
	service := NewService(repo, newTestCache(t), nil)
	ctx := context.Background()

	perm, err := service.CreatePermission(ctx, CreatePermissionInput{Identifier: "user:manage", IsSystem: true})
	require.NoError(t, err)

	err = service.DeletePermission(ctx, perm.ID)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = service.GetRole(ctx, 999)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreateRoleValidation(t *testing.T) {
	repo := newMemoryRepo()
	service := NewService(repo, newTestCache(t), nil)
	ctx := context.Background()

	_, err := service.CreateRole(ctx, "  ", "", "")
	require.ErrorIs(t, err, shared.ErrValidation)

	role, err := service.CreateRole(ctx, "editor", "编辑", "剧本编辑")
	require.NoError(t, err)
	require.True(t, role.IsActive)

	_, err = service.CreateRole(ctx, "editor", "", "")
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestSetRolePermissionsUnknownPermission(t *testing.T) {
	repo := newMemoryRepo()
	service := NewService(repo, newTestCache(t), nil)
	ctx := context.Background()

	role, err := service.CreateRole(ctx, "editor", "", "")
	require.NoError(t, err)

	err = service.SetRolePermissions(ctx, role.ID, []int64{12345}, 1)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSeedCatalogIdempotent(t *testing.T) {
	repo := newMemoryRepo()
	service := NewService(repo, newTestCache(t), nil)
	ctx := context.Background()

	require.NoError(t, SeedCatalog(ctx, service, nil))
	first, err := service.ListPermissions(ctx, false)
	require.NoError(t, err)
	require.Len(t, first, len(BuiltinCatalog()))

	require.NoError(t, SeedCatalog(ctx, service, nil))
	second, err := service.ListPermissions(ctx, false)
	require.NoError(t, err)
	require.Len(t, second, len(first))
}

func TestListPermissionsWildcardFilter(t *testing.T) {
	repo := newMemoryRepo()
	service := NewService(repo, newTestCache(t), nil)
	ctx := context.Background()

	require.NoError(t, SeedCatalog(ctx, service, nil))
	wildcards, err := service.ListPermissions(ctx, true)
	require.NoError(t, err)
	require.NotEmpty(t, wildcards)
	for _, p := range wildcards {
		require.True(t, p.IsWildcard, "identifier %q", p.Identifier)
	}
}

func TestListPermissionsSortOrder(t *testing.T) {
	repo := newMemoryRepo()
	service := NewService(repo, newTestCache(t), nil)
	ctx := context.Background()

	_, err := service.CreatePermission(ctx, CreatePermissionInput{Identifier: "audio:read", Label: "乙", SortOrder: 5})
	require.NoError(t, err)
	_, err = service.CreatePermission(ctx, CreatePermissionInput{Identifier: "audio:write", Label: "甲", SortOrder: 5})
	require.NoError(t, err)
	_, err = service.CreatePermission(ctx, CreatePermissionInput{Identifier: "script:read", Label: "丙", SortOrder: 1})
	require.NoError(t, err)

	perms, err := service.ListPermissions(ctx, false)
	require.NoError(t, err)
	require.Len(t, perms, 3)
	require.Equal(t, "script:read", perms[0].Identifier, "lower sort rank first")
}
