package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/mehaotian/hshs-server-sub001/internal/shared"
)

// Service carries the management-facing catalog and role operations: thin
// CRUD layered on the stores, with cache invalidation on every mutation that
// can change an effective permission set. Replacing one role's grants
// invalidates that role and its holders; broader mutations bump the whole
// namespace.
type Service struct {
	repo   Repository
	cache  *PermissionCache
	logger *slog.Logger
}

// NewService constructs the management service.
func NewService(repo Repository, cache *PermissionCache, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: cache, logger: logger}
}

// CreatePermissionInput carries a new catalog entry.
type CreatePermissionInput struct {
	Identifier  string
	Label       string
	Description string
	IsSystem    bool
	SortOrder   int
}

// ListPermissions returns catalog entries, optionally wildcard entries only.
// Entries share a locale-aware label order within the same sort rank; labels
// are zh-CN.
func (s *Service) ListPermissions(ctx context.Context, wildcardOnly bool) ([]Permission, error) {
	perms, err := s.repo.ListPermissions(ctx, wildcardOnly)
	if err != nil {
		return nil, err
	}
	sortPermissions(perms)
	return perms, nil
}

// CreatePermission validates the identifier grammar, derives the segment
// metadata and inserts the catalog entry.
func (s *Service) CreatePermission(ctx context.Context, in CreatePermissionInput) (Permission, error) {
	identifier := strings.TrimSpace(in.Identifier)
	parsed, err := ParseIdentifier(identifier)
	if err != nil {
		return Permission{}, err
	}
	label := strings.TrimSpace(in.Label)
	if label == "" {
		label = identifier
	}
	return s.repo.CreatePermission(ctx, Permission{
		Identifier:  identifier,
		Label:       label,
		Description: strings.TrimSpace(in.Description),
		Module:      parsed.Module,
		Action:      parsed.Action,
		Resource:    parsed.Resource,
		IsSystem:    in.IsSystem,
		IsWildcard:  parsed.Wildcard,
		SortOrder:   in.SortOrder,
	})
}

// UpdatePermissionMeta updates display metadata; identifiers are immutable.
func (s *Service) UpdatePermissionMeta(ctx context.Context, id int64, label, description string, sortOrder int) (Permission, error) {
	return s.repo.UpdatePermissionMeta(ctx, id, strings.TrimSpace(label), strings.TrimSpace(description), sortOrder)
}

// DeletePermission removes a catalog entry. System entries are protected:
// they can only be superseded, never deleted.
func (s *Service) DeletePermission(ctx context.Context, id int64) error {
	perm, err := s.repo.GetPermission(ctx, id)
	if err != nil {
		return err
	}
	if perm.IsSystem {
		return fmt.Errorf("rbac: permission %q is a system entry: %w", perm.Identifier, shared.ErrValidation)
	}
	if err := s.repo.DeletePermission(ctx, id); err != nil {
		return err
	}
	s.log().Info("permission deleted", slog.Int64("permission_id", id), slog.String("identifier", perm.Identifier))
	return s.invalidateAll(ctx)
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// GetRole fetches a role by id.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// CreateRole inserts a new role.
func (s *Service) CreateRole(ctx context.Context, name, label, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("rbac: role name required: %w", shared.ErrValidation)
	}
	label = strings.TrimSpace(label)
	if label == "" {
		label = name
	}
	return s.repo.CreateRole(ctx, Role{
		Name:        name,
		Label:       label,
		Description: strings.TrimSpace(description),
		IsActive:    true,
	})
}

// UpdateRole updates role metadata and the active flag. Deactivating a role
// removes its grants from every holder's effective set, so the whole cache
// namespace is invalidated.
func (s *Service) UpdateRole(ctx context.Context, role Role) (Role, error) {
	updated, err := s.repo.UpdateRole(ctx, role)
	if err != nil {
		return Role{}, err
	}
	if err := s.invalidateAll(ctx); err != nil {
		return Role{}, err
	}
	return updated, nil
}

// DeleteRole removes a non-system role and its associations.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return fmt.Errorf("rbac: role %q is a system role: %w", role.Name, shared.ErrValidation)
	}
	if err := s.repo.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.log().Info("role deleted", slog.Int64("role_id", id), slog.String("name", role.Name))
	return s.invalidateAll(ctx)
}

// RolePermissions returns the catalog entries granted to a role.
func (s *Service) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	if _, err := s.repo.GetRole(ctx, roleID); err != nil {
		return nil, err
	}
	perms, err := s.repo.RolePermissions(ctx, roleID)
	if err != nil {
		return nil, err
	}
	sortPermissions(perms)
	return perms, nil
}

// SetRolePermissions replaces a role's permission set. Cache invalidation is
// part of the same logical operation: a failed invalidation fails the call.
func (s *Service) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64, grantedBy int64) error {
	if _, err := s.repo.GetRole(ctx, roleID); err != nil {
		return err
	}
	for _, id := range permissionIDs {
		if _, err := s.repo.GetPermission(ctx, id); err != nil {
			return err
		}
	}
	if err := s.repo.SetRolePermissions(ctx, roleID, permissionIDs, grantedBy); err != nil {
		return err
	}
	s.log().Info("role permissions replaced", slog.Int64("role_id", roleID), slog.Int("granted", len(permissionIDs)))
	return s.invalidateRole(ctx, roleID)
}

// invalidateRole drops the role's cached set plus the cached set of every
// current holder. Cached sets of users without the role stay intact.
func (s *Service) invalidateRole(ctx context.Context, roleID int64) error {
	if err := s.cache.InvalidateRole(ctx, roleID); err != nil {
		return fmt.Errorf("rbac: invalidate role cache: %w", err)
	}
	userIDs, err := s.repo.RoleUserIDs(ctx, roleID)
	if err != nil {
		return fmt.Errorf("rbac: list role holders: %w", err)
	}
	for _, userID := range userIDs {
		if err := s.cache.InvalidateUser(ctx, userID); err != nil {
			return fmt.Errorf("rbac: invalidate user cache: %w", err)
		}
	}
	return nil
}

// invalidateAll bumps the cache namespace. Conservative: cheaper to recompute
// every set than to ever serve a stale positive grant.
func (s *Service) invalidateAll(ctx context.Context) error {
	if err := s.cache.InvalidateAll(ctx); err != nil {
		return fmt.Errorf("rbac: invalidate cache: %w", err)
	}
	return nil
}

func (s *Service) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

func sortPermissions(perms []Permission) {
	c := collate.New(language.Chinese)
	sort.SliceStable(perms, func(i, j int) bool {
		if perms[i].SortOrder != perms[j].SortOrder {
			return perms[i].SortOrder < perms[j].SortOrder
		}
		return c.CompareString(perms[i].Label, perms[j].Label) < 0
	})
}
