package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mehaotian/hshs-server-sub001/internal/shared"
)

// CatalogEntry describes a built-in permission seeded at startup.
type CatalogEntry struct {
	Identifier  string
	Label       string
	Description string
	SortOrder   int
}

// BuiltinCatalog lists the authoritative built-in permission set. Entries are
// system entries: they cannot be deleted, only superseded.
func BuiltinCatalog() []CatalogEntry {
	return []CatalogEntry{
		{Identifier: "user:*", Label: "用户管理（全部）", Description: "用户模块全部操作", SortOrder: 10},
		{Identifier: "user:read", Label: "查看用户", SortOrder: 11},
		{Identifier: "user:manage", Label: "管理用户", SortOrder: 12},
		{Identifier: "user:delete", Label: "删除用户", SortOrder: 13},

		{Identifier: "role:*", Label: "角色管理（全部）", Description: "角色模块全部操作", SortOrder: 20},
		{Identifier: "role:read", Label: "查看角色", SortOrder: 21},
		{Identifier: "role:manage", Label: "管理角色", SortOrder: 22},

		{Identifier: "permission:read", Label: "查看权限", SortOrder: 30},
		{Identifier: "permission:manage", Label: "管理权限", SortOrder: 31},

		{Identifier: "script:*", Label: "剧本管理（全部）", Description: "剧本模块全部操作", SortOrder: 40},
		{Identifier: "script:read", Label: "查看剧本", SortOrder: 41},
		{Identifier: "script:write", Label: "编辑剧本", SortOrder: 42},
		{Identifier: "script:delete", Label: "删除剧本", SortOrder: 43},

		{Identifier: "audio:*", Label: "音频管理（全部）", Description: "音频模块全部操作", SortOrder: 50},
		{Identifier: "audio:read", Label: "查看音频", SortOrder: 51},
		{Identifier: "audio:write", Label: "编辑音频", SortOrder: 52},
		{Identifier: "audio:execute", Label: "处理音频", Description: "触发转码与审听流程", SortOrder: 53},

		{Identifier: "drama:*", Label: "剧组管理（全部）", Description: "剧组模块全部操作", SortOrder: 60},
		{Identifier: "drama:read", Label: "查看剧组", SortOrder: 61},
		{Identifier: "drama:manage", Label: "管理剧组", SortOrder: 62},

		{Identifier: "upload:execute", Label: "上传文件", SortOrder: 70},

		{Identifier: "*", Label: "超级管理员", Description: "满足任意权限请求", SortOrder: 0},
	}
}

// SeedCatalog upserts the built-in catalog. Existing entries are left
// untouched, so re-running at every startup is safe.
func SeedCatalog(ctx context.Context, svc *Service, logger *slog.Logger) error {
	for _, entry := range BuiltinCatalog() {
		_, err := svc.CreatePermission(ctx, CreatePermissionInput{
			Identifier:  entry.Identifier,
			Label:       entry.Label,
			Description: entry.Description,
			IsSystem:    true,
			SortOrder:   entry.SortOrder,
		})
		if err != nil {
			if errors.Is(err, shared.ErrConflict) {
				continue
			}
			return fmt.Errorf("rbac: seed catalog entry %q: %w", entry.Identifier, err)
		}
		if logger != nil {
			logger.Info("seeded permission", slog.String("identifier", entry.Identifier))
		}
	}
	return nil
}
