package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/mehaotian/hshs-server-sub001/internal/shared"
)

// Resolver answers permission point queries and materializes effective
// permission sets. Checks fail closed: any storage or cache failure denies
// access and is logged, never surfaced to the caller of CheckPermission.
type Resolver struct {
	repo   Repository
	cache  *PermissionCache
	audit  *shared.AuditLogger
	logger *slog.Logger
	group  singleflight.Group
}

// NewResolver wires the resolver with its collaborators. The audit logger may
// be nil; assignment mutations then skip the audit trail.
func NewResolver(repo Repository, cache *PermissionCache, audit *shared.AuditLogger, logger *slog.Logger) *Resolver {
	return &Resolver{repo: repo, cache: cache, audit: audit, logger: logger}
}

// CheckPermission reports whether any permission held by any active role of
// the user satisfies the requested permission. A denied check and an errored
// check are indistinguishable to the caller.
func (r *Resolver) CheckPermission(ctx context.Context, userID int64, permission string) bool {
	patterns, err := r.userPatterns(ctx, userID)
	if err != nil {
		r.log().Error("permission check failed closed",
			slog.Int64("user_id", userID),
			slog.String("permission", permission),
			slog.Any("error", err))
		recordCheck("error")
		return false
	}
	granted := MatchAny(patterns, permission)
	if granted {
		recordCheck("granted")
	} else {
		recordCheck("denied")
	}
	return granted
}

// CheckPermissions evaluates a batch of requested permissions against a single
// materialization of the user's held set.
func (r *Resolver) CheckPermissions(ctx context.Context, userID int64, permissions []string) map[string]bool {
	results := make(map[string]bool, len(permissions))
	patterns, err := r.userPatterns(ctx, userID)
	if err != nil {
		r.log().Error("batch permission check failed closed",
			slog.Int64("user_id", userID),
			slog.Any("error", err))
		for _, p := range permissions {
			results[p] = false
			recordCheck("error")
		}
		return results
	}
	for _, p := range permissions {
		granted := MatchAny(patterns, p)
		results[p] = granted
		if granted {
			recordCheck("granted")
		} else {
			recordCheck("denied")
		}
	}
	return results
}

// GetUserPermissions returns the materialized union of patterns reachable
// through the user's active role memberships, for display and audit. Unlike
// checks, errors are surfaced.
func (r *Resolver) GetUserPermissions(ctx context.Context, userID int64) ([]string, error) {
	return r.userPatterns(ctx, userID)
}

// RolePatterns returns the identifiers granted to a role, cache-assisted.
func (r *Resolver) RolePatterns(ctx context.Context, roleID int64) ([]string, error) {
	if patterns, err := r.cache.GetRolePatterns(ctx, roleID); err == nil {
		return patterns, nil
	} else if !errors.Is(err, ErrCacheMiss) {
		r.log().Warn("role cache read", slog.Int64("role_id", roleID), slog.Any("error", err))
	}
	patterns, err := r.repo.RolePatterns(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if err := r.cache.SetRolePatterns(ctx, roleID, patterns); err != nil {
		r.log().Warn("role cache write", slog.Int64("role_id", roleID), slog.Any("error", err))
	}
	return patterns, nil
}

// AssignRoleToUser creates an active assignment. Fails with the Conflict
// sentinel when an identical active assignment exists and NotFound when the
// user or role is missing or the role is inactive.
func (r *Resolver) AssignRoleToUser(ctx context.Context, userID, roleID, assignedBy int64) error {
	exists, err := r.repo.UserExists(ctx, userID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("rbac: user %d: %w", userID, shared.ErrNotFound)
	}
	role, err := r.repo.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if !role.IsActive {
		return fmt.Errorf("rbac: role %q is inactive: %w", role.Name, shared.ErrNotFound)
	}
	held, err := r.repo.HasActiveUserRole(ctx, userID, roleID)
	if err != nil {
		return err
	}
	if held {
		return fmt.Errorf("rbac: user %d already holds role %q: %w", userID, role.Name, shared.ErrConflict)
	}
	// The partial unique index on active pairs backstops the race between the
	// check above and the insert.
	if err := r.repo.InsertUserRole(ctx, userID, roleID, assignedBy); err != nil {
		return err
	}
	if err := r.cache.InvalidateUser(ctx, userID); err != nil {
		return fmt.Errorf("rbac: invalidate user cache after assign: %w", err)
	}
	r.recordAudit(ctx, assignedBy, "rbac.role.assign", userID, roleID)
	return nil
}

// RevokeRoleFromUser logically revokes an assignment, keeping the row for
// audit history. Idempotent when nothing is active.
func (r *Resolver) RevokeRoleFromUser(ctx context.Context, userID, roleID, revokedBy int64) error {
	revoked, err := r.repo.RevokeUserRole(ctx, userID, roleID, revokedBy)
	if err != nil {
		return err
	}
	// Invalidate even on the idempotent path so the next check cannot see a
	// grant through a stale cached set.
	if err := r.cache.InvalidateUser(ctx, userID); err != nil {
		return fmt.Errorf("rbac: invalidate user cache after revoke: %w", err)
	}
	if revoked {
		r.recordAudit(ctx, revokedBy, "rbac.role.revoke", userID, roleID)
	}
	return nil
}

// WarmUser recomputes and caches the user's pattern set, bypassing any cached
// value. Used by the background warmup job.
func (r *Resolver) WarmUser(ctx context.Context, userID int64) error {
	patterns, err := r.repo.UserPatterns(ctx, userID)
	if err != nil {
		return err
	}
	return r.cache.SetUserPatterns(ctx, userID, patterns)
}

// userPatterns materializes the user's full held set, cache first. Concurrent
// misses for the same user collapse into one rebuild.
func (r *Resolver) userPatterns(ctx context.Context, userID int64) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	patterns, err := r.cache.GetUserPatterns(ctx, userID)
	if err == nil {
		return patterns, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		r.log().Warn("user cache read", slog.Int64("user_id", userID), slog.Any("error", err))
	}

	ch := r.group.DoChan(strconv.FormatInt(userID, 10), func() (any, error) {
		loaded, err := r.loadUserPatterns(ctx, userID)
		if err != nil {
			return nil, err
		}
		if err := r.cache.SetUserPatterns(ctx, userID, loaded); err != nil {
			r.log().Warn("user cache write", slog.Int64("user_id", userID), slog.Any("error", err))
		}
		return loaded, nil
	})
	select {
	case <-ctx.Done():
		// The abandoned flight may still complete for other waiters; this
		// caller must not treat the partial result as a grant.
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]string), nil
	}
}

// loadUserPatterns rebuilds a user's set as the union over the active roles
// held, going through the role-level cache entries so users sharing a role
// share the storage round trip.
func (r *Resolver) loadUserPatterns(ctx context.Context, userID int64) ([]string, error) {
	roleIDs, err := r.repo.ActiveRoleIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, roleID := range roleIDs {
		patterns, err := r.RolePatterns(ctx, roleID)
		if err != nil {
			return nil, err
		}
		for _, p := range patterns {
			seen[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func (r *Resolver) recordAudit(ctx context.Context, actorID int64, action string, userID, roleID int64) {
	if r.audit == nil {
		return
	}
	err := r.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "user_role",
		EntityID: fmt.Sprintf("%d:%d", userID, roleID),
		Meta:     map[string]any{"user_id": userID, "role_id": roleID},
	})
	if err != nil {
		r.log().Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}

func (r *Resolver) log() *slog.Logger {
	if r.logger != nil {
		return r.logger
	}
	return slog.Default()
}
