package authz

import (
	"context"
	"encoding/json"
	"time"

	"sentra.org/internal/cache"
	"sentra.org/internal/obs"
)

const (
	permKeyPrefix  = "authz:perms:"
	defaultPermTTL = 15 * time.Minute
)

// PermissionCache is a cache-aside view of principal permission closures.
// Concurrent misses for the same principal may recompute independently; the
// recomputation is a pure read, so the duplicate work is tolerated rather
// than deduplicated.
type PermissionCache struct {
	cache cache.Cache
	store Store
	ttl   time.Duration
}

// NewPermissionCache builds a cache over the given backend. ttl <= 0 selects
// the 15 minute default.
func NewPermissionCache(backend cache.Cache, store Store, ttl time.Duration) *PermissionCache {
	if ttl <= 0 {
		ttl = defaultPermTTL
	}
	return &PermissionCache{cache: backend, store: store, ttl: ttl}
}

// Permissions returns the principal's resolved permission set. Cache
// failures fall through to the store: a broken cache degrades latency, never
// correctness.
func (c *PermissionCache) Permissions(ctx context.Context, principalID string) (map[string]struct{}, error) {
	key := permKeyPrefix + principalID
	if c.cache != nil {
		raw, err := c.cache.Get(ctx, key)
		if err == nil {
			var perms []string
			if jsonErr := json.Unmarshal(raw, &perms); jsonErr == nil {
				obs.PermissionCacheHit()
				return toSet(perms), nil
			}
		}
	}
	obs.PermissionCacheMiss()

	perms, err := c.store.PermissionClosure(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		if encoded, err := json.Marshal(perms); err == nil {
			// Best effort; a failed write just means another miss later.
			_ = c.cache.Set(ctx, key, encoded, c.ttl)
		}
	}
	return toSet(perms), nil
}

// Invalidate drops the cached closure for one principal. Management
// operations call this on role assignment changes, permission grants and
// role activation toggles.
func (c *PermissionCache) Invalidate(ctx context.Context, principalID string) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Delete(ctx, permKeyPrefix+principalID)
}

// InvalidateAll drops every cached closure. Used when a role or permission
// mutation affects an unknown set of principals.
func (c *PermissionCache) InvalidateAll(ctx context.Context) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.DeleteByPrefix(ctx, permKeyPrefix)
}

func toSet(perms []string) map[string]struct{} {
	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}
