package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheVersionKey = "rbac:version"

// ErrCacheMiss is returned when no materialized set is cached for the key.
var ErrCacheMiss = errors.New("rbac: cache miss")

// PermissionCache memoizes materialized permission pattern sets in Redis,
// keyed per user and per role under a versioned namespace. Invalidation is
// either targeted (delete one user key) or global (bump the namespace
// version, orphaning every existing key). Entries expire by TTL regardless,
// bounding staleness if an invalidation is ever missed.
type PermissionCache struct {
	client  *redis.Client
	userTTL time.Duration
	roleTTL time.Duration
}

// NewPermissionCache instantiates the cache helper. A nil client yields a
// cache that always misses, which keeps the resolver correct without Redis.
func NewPermissionCache(client *redis.Client, userTTL, roleTTL time.Duration) *PermissionCache {
	return &PermissionCache{client: client, userTTL: userTTL, roleTTL: roleTTL}
}

func (c *PermissionCache) enabled() bool {
	return c != nil && c.client != nil
}

func (c *PermissionCache) version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	if ver <= 0 {
		ver = 1
		if err := c.client.Set(ctx, cacheVersionKey, ver, 0).Err(); err != nil {
			return 0, err
		}
	}
	return ver, nil
}

func (c *PermissionCache) userKey(ctx context.Context) (func(int64) string, error) {
	ver, err := c.version(ctx)
	if err != nil {
		return nil, err
	}
	return func(userID int64) string {
		return fmt.Sprintf("rbac:v%d:user:%d", ver, userID)
	}, nil
}

func (c *PermissionCache) roleKey(ctx context.Context) (func(int64) string, error) {
	ver, err := c.version(ctx)
	if err != nil {
		return nil, err
	}
	return func(roleID int64) string {
		return fmt.Sprintf("rbac:v%d:role:%d", ver, roleID)
	}, nil
}

// GetUserPatterns loads the cached pattern set for a user.
func (c *PermissionCache) GetUserPatterns(ctx context.Context, userID int64) ([]string, error) {
	if !c.enabled() {
		return nil, ErrCacheMiss
	}
	key, err := c.userKey(ctx)
	if err != nil {
		return nil, err
	}
	return c.get(ctx, key(userID))
}

// SetUserPatterns stores the pattern set for a user with the user TTL.
func (c *PermissionCache) SetUserPatterns(ctx context.Context, userID int64, patterns []string) error {
	if !c.enabled() {
		return nil
	}
	key, err := c.userKey(ctx)
	if err != nil {
		return err
	}
	return c.set(ctx, key(userID), patterns, c.userTTL)
}

// GetRolePatterns loads the cached pattern set for a role.
func (c *PermissionCache) GetRolePatterns(ctx context.Context, roleID int64) ([]string, error) {
	if !c.enabled() {
		return nil, ErrCacheMiss
	}
	key, err := c.roleKey(ctx)
	if err != nil {
		return nil, err
	}
	return c.get(ctx, key(roleID))
}

// SetRolePatterns stores the pattern set for a role with the role TTL.
func (c *PermissionCache) SetRolePatterns(ctx context.Context, roleID int64, patterns []string) error {
	if !c.enabled() {
		return nil
	}
	key, err := c.roleKey(ctx)
	if err != nil {
		return err
	}
	return c.set(ctx, key(roleID), patterns, c.roleTTL)
}

// InvalidateUser drops the cached set for one user.
func (c *PermissionCache) InvalidateUser(ctx context.Context, userID int64) error {
	if !c.enabled() {
		return nil
	}
	key, err := c.userKey(ctx)
	if err != nil {
		return err
	}
	recordCacheOp("invalidate")
	return c.client.Del(ctx, key(userID)).Err()
}

// InvalidateRole drops the cached set for one role.
func (c *PermissionCache) InvalidateRole(ctx context.Context, roleID int64) error {
	if !c.enabled() {
		return nil
	}
	key, err := c.roleKey(ctx)
	if err != nil {
		return err
	}
	recordCacheOp("invalidate")
	return c.client.Del(ctx, key(roleID)).Err()
}

// InvalidateAll bumps the namespace version, orphaning every cached user and
// role entry at once. Used after mutations whose reach spans roles, where
// tracking the affected population precisely is not worth the risk of a stale
// grant.
func (c *PermissionCache) InvalidateAll(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}
	recordCacheOp("invalidate")
	return c.client.Incr(ctx, cacheVersionKey).Err()
}

func (c *PermissionCache) get(ctx context.Context, key string) ([]string, error) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		recordCacheOp("miss")
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	var patterns []string
	if err := json.Unmarshal(payload, &patterns); err != nil {
		return nil, err
	}
	recordCacheOp("hit")
	return patterns, nil
}

func (c *PermissionCache) set(ctx context.Context, key string, patterns []string, ttl time.Duration) error {
	if patterns == nil {
		patterns = []string{}
	}
	raw, err := json.Marshal(patterns)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, ttl).Err()
}
