package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DecisionCache shares allow/deny outcomes across replicas through Redis.
// Cache errors degrade to a miss; the matcher is always the authority.
type DecisionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDecisionCache creates a cache with the given entry TTL
func NewDecisionCache(client *redis.Client, ttl time.Duration) *DecisionCache {
	return &DecisionCache{client: client, ttl: ttl}
}

func decisionKey(domainID, userID, action string) string {
	return fmt.Sprintf("rbac:decision:%s:%s:%s", domainID, userID, action)
}

// Get returns a cached decision and whether one was present
func (c *DecisionCache) Get(ctx context.Context, domainID, userID, action string) (allowed bool, ok bool) {
	val, err := c.client.Get(ctx, decisionKey(domainID, userID, action)).Result()
	if err != nil {
		return false, false
	}
	return val == "1", true
}

// Set stores a decision for the configured TTL
func (c *DecisionCache) Set(ctx context.Context, domainID, userID, action string, allowed bool) {
	val := "0"
	if allowed {
		val = "1"
	}
	// Best effort; a failed write just means a recompute later.
	c.client.Set(ctx, decisionKey(domainID, userID, action), val, c.ttl)
}

// Invalidate drops every cached decision for one user, e.g. after a role
// assignment change
func (c *DecisionCache) Invalidate(ctx context.Context, domainID, userID string) error {
	pattern := fmt.Sprintf("rbac:decision:%s:%s:*", domainID, userID)
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan decision keys: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete decision keys: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// UserRoleSource reports the role ids currently assigned to a user
type UserRoleSource interface {
	RoleIDsOf(ctx context.Context, domainID, userID string) ([]string, error)
}

// Checker evaluates whether a user may perform an action, expanding the
// user's roles through the registry and consulting the decision cache when
// one is configured
type Checker struct {
	registry *Registry
	users    UserRoleSource
	cache    *DecisionCache
}

// NewChecker creates a Checker. cache may be nil.
func NewChecker(registry *Registry, users UserRoleSource, cache *DecisionCache) *Checker {
	return &Checker{registry: registry, users: users, cache: cache}
}

// Check resolves the user's granted set and matches the action against it
func (c *Checker) Check(ctx context.Context, domainID, userID, action string) (bool, error) {
	parsed, err := ParseAction(action)
	if err != nil {
		return false, err
	}
	if c.cache != nil {
		if allowed, ok := c.cache.Get(ctx, domainID, userID, action); ok {
			return allowed, nil
		}
	}
	roleIDs, err := c.users.RoleIDsOf(ctx, domainID, userID)
	if err != nil {
		return false, err
	}
	perms, err := c.registry.ResolvePermissions(ctx, domainID, roleIDs)
	if err != nil {
		return false, err
	}
	allowed := perms.Allows(parsed)
	if c.cache != nil {
		c.cache.Set(ctx, domainID, userID, action, allowed)
	}
	return allowed, nil
}

// PermissionsOf returns the user's flattened permission set, for callers that
// build a Principal once per request
func (c *Checker) PermissionsOf(ctx context.Context, domainID, userID string) (PermissionSet, error) {
	roleIDs, err := c.users.RoleIDsOf(ctx, domainID, userID)
	if err != nil {
		return nil, err
	}
	return c.registry.ResolvePermissions(ctx, domainID, roleIDs)
}
