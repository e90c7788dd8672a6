package rbac

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mehaotian/hshs-server-sub001/internal/shared"
)

// memoryRepo is an in-memory Repository used across the package tests.
type memoryRepo struct {
	mu        sync.Mutex
	users     map[int64]bool
	perms     map[int64]Permission
	roles     map[int64]Role
	rolePerms map[int64]map[int64]struct{}
	userRoles []UserRole
	nextID    int64

	failErr      error
	patternLoads int
	roleLoads    int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		users:     make(map[int64]bool),
		perms:     make(map[int64]Permission),
		roles:     make(map[int64]Role),
		rolePerms: make(map[int64]map[int64]struct{}),
	}
}

func (r *memoryRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *memoryRepo) addUser(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[id] = true
}

func (r *memoryRepo) addRole(name string, active bool) Role {
	r.mu.Lock()
	defer r.mu.Unlock()
	role := Role{ID: r.id(), Name: name, Label: name, IsActive: active, CreatedAt: time.Now()}
	r.roles[role.ID] = role
	r.rolePerms[role.ID] = make(map[int64]struct{})
	return role
}

func (r *memoryRepo) addPermission(identifier string) Permission {
	r.mu.Lock()
	defer r.mu.Unlock()
	parsed, _ := ParseIdentifier(identifier)
	p := Permission{
		ID:         r.id(),
		Identifier: identifier,
		Label:      identifier,
		Module:     parsed.Module,
		Action:     parsed.Action,
		Resource:   parsed.Resource,
		IsWildcard: parsed.Wildcard,
		CreatedAt:  time.Now(),
	}
	r.perms[p.ID] = p
	return p
}

func (r *memoryRepo) grant(roleID int64, permIDs ...int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range permIDs {
		r.rolePerms[roleID][id] = struct{}{}
	}
}

func (r *memoryRepo) assign(userID, roleID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.userRoles = append(r.userRoles, UserRole{
		ID: r.id(), UserID: userID, RoleID: roleID, AssignedAt: time.Now(), IsActive: true,
	})
}

func (r *memoryRepo) UserExists(_ context.Context, userID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return false, r.failErr
	}
	return r.users[userID], nil
}

func (r *memoryRepo) ListPermissions(_ context.Context, wildcardOnly bool) ([]Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return nil, r.failErr
	}
	var out []Permission
	for _, p := range r.perms {
		if wildcardOnly && !p.IsWildcard {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) GetPermission(_ context.Context, id int64) (Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return Permission{}, r.failErr
	}
	p, ok := r.perms[id]
	if !ok {
		return Permission{}, fmt.Errorf("permission %d: %w", id, shared.ErrNotFound)
	}
	return p, nil
}

func (r *memoryRepo) GetPermissionByIdentifier(_ context.Context, identifier string) (Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return Permission{}, r.failErr
	}
	for _, p := range r.perms {
		if p.Identifier == identifier {
			return p, nil
		}
	}
	return Permission{}, fmt.Errorf("permission %q: %w", identifier, shared.ErrNotFound)
}

func (r *memoryRepo) CreatePermission(_ context.Context, p Permission) (Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return Permission{}, r.failErr
	}
	for _, existing := range r.perms {
		if existing.Identifier == p.Identifier {
			return Permission{}, fmt.Errorf("permission %q: %w", p.Identifier, shared.ErrConflict)
		}
	}
	p.ID = r.id()
	p.CreatedAt = time.Now()
	r.perms[p.ID] = p
	return p, nil
}

func (r *memoryRepo) UpdatePermissionMeta(_ context.Context, id int64, label, description string, sortOrder int) (Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.perms[id]
	if !ok {
		return Permission{}, fmt.Errorf("permission %d: %w", id, shared.ErrNotFound)
	}
	p.Label = label
	p.Description = description
	p.SortOrder = sortOrder
	r.perms[id] = p
	return p, nil
}

func (r *memoryRepo) DeletePermission(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.perms[id]
	if !ok || p.IsSystem {
		return fmt.Errorf("permission %d: %w", id, shared.ErrNotFound)
	}
	delete(r.perms, id)
	for _, grants := range r.rolePerms {
		delete(grants, id)
	}
	return nil
}

func (r *memoryRepo) ListRoles(_ context.Context) ([]Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return nil, r.failErr
	}
	var out []Role
	for _, role := range r.roles {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) GetRole(_ context.Context, id int64) (Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return Role{}, r.failErr
	}
	role, ok := r.roles[id]
	if !ok {
		return Role{}, fmt.Errorf("role %d: %w", id, shared.ErrNotFound)
	}
	return role, nil
}

func (r *memoryRepo) CreateRole(_ context.Context, role Role) (Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.roles {
		if existing.Name == role.Name {
			return Role{}, fmt.Errorf("role %q: %w", role.Name, shared.ErrConflict)
		}
	}
	role.ID = r.id()
	role.CreatedAt = time.Now()
	r.roles[role.ID] = role
	r.rolePerms[role.ID] = make(map[int64]struct{})
	return role, nil
}

func (r *memoryRepo) UpdateRole(_ context.Context, role Role) (Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.roles[role.ID]
	if !ok {
		return Role{}, fmt.Errorf("role %d: %w", role.ID, shared.ErrNotFound)
	}
	existing.Label = role.Label
	existing.Description = role.Description
	existing.IsActive = role.IsActive
	r.roles[role.ID] = existing
	return existing, nil
}

func (r *memoryRepo) DeleteRole(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[id]
	if !ok || role.IsSystem {
		return fmt.Errorf("role %d: %w", id, shared.ErrNotFound)
	}
	delete(r.roles, id)
	delete(r.rolePerms, id)
	return nil
}

func (r *memoryRepo) RolePermissions(_ context.Context, roleID int64) ([]Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Permission
	for id := range r.rolePerms[roleID] {
		out = append(out, r.perms[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) SetRolePermissions(_ context.Context, roleID int64, permissionIDs []int64, _ int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	grants := make(map[int64]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		grants[id] = struct{}{}
	}
	r.rolePerms[roleID] = grants
	return nil
}

func (r *memoryRepo) InsertUserRole(_ context.Context, userID, roleID, assignedBy int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	for _, ur := range r.userRoles {
		if ur.UserID == userID && ur.RoleID == roleID && ur.IsActive {
			return fmt.Errorf("user %d role %d: %w", userID, roleID, shared.ErrConflict)
		}
	}
	r.userRoles = append(r.userRoles, UserRole{
		ID: r.id(), UserID: userID, RoleID: roleID, AssignedBy: assignedBy, AssignedAt: time.Now(), IsActive: true,
	})
	return nil
}

func (r *memoryRepo) RevokeUserRole(_ context.Context, userID, roleID, revokedBy int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return false, r.failErr
	}
	revoked := false
	now := time.Now()
	for i := range r.userRoles {
		ur := &r.userRoles[i]
		if ur.UserID == userID && ur.RoleID == roleID && ur.IsActive {
			ur.IsActive = false
			ur.RevokedBy = revokedBy
			ur.RevokedAt = &now
			revoked = true
		}
	}
	return revoked, nil
}

func (r *memoryRepo) HasActiveUserRole(_ context.Context, userID, roleID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return false, r.failErr
	}
	for _, ur := range r.userRoles {
		if ur.UserID == userID && ur.RoleID == roleID && ur.IsActive {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepo) UserPatterns(_ context.Context, userID int64) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return nil, r.failErr
	}
	r.patternLoads++
	seen := make(map[string]struct{})
	for _, ur := range r.userRoles {
		if ur.UserID != userID || !ur.IsActive {
			continue
		}
		role, ok := r.roles[ur.RoleID]
		if !ok || !role.IsActive {
			continue
		}
		for permID := range r.rolePerms[ur.RoleID] {
			seen[r.perms[permID].Identifier] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for identifier := range seen {
		out = append(out, identifier)
	}
	sort.Strings(out)
	return out, nil
}

func (r *memoryRepo) ActiveRoleIDs(_ context.Context, userID int64) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return nil, r.failErr
	}
	r.patternLoads++
	var out []int64
	for _, ur := range r.userRoles {
		if ur.UserID != userID || !ur.IsActive {
			continue
		}
		if role, ok := r.roles[ur.RoleID]; ok && role.IsActive {
			out = append(out, ur.RoleID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (r *memoryRepo) RolePatterns(_ context.Context, roleID int64) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return nil, r.failErr
	}
	r.roleLoads++
	var out []string
	for permID := range r.rolePerms[roleID] {
		out = append(out, r.perms[permID].Identifier)
	}
	sort.Strings(out)
	return out, nil
}

func (r *memoryRepo) RoleUserIDs(_ context.Context, roleID int64) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[int64]struct{})
	for _, ur := range r.userRoles {
		if ur.RoleID == roleID && ur.IsActive {
			seen[ur.UserID] = struct{}{}
		}
	}
	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (r *memoryRepo) UsersWithActiveRoles(_ context.Context) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return nil, r.failErr
	}
	seen := make(map[int64]struct{})
	for _, ur := range r.userRoles {
		if !ur.IsActive {
			continue
		}
		if role, ok := r.roles[ur.RoleID]; ok && role.IsActive {
			seen[ur.UserID] = struct{}{}
		}
	}
	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

var _ Repository = (*memoryRepo)(nil)

func newTestCache(t *testing.T) *PermissionCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewPermissionCache(client, time.Minute, time.Minute)
}
