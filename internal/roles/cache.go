package roles

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// PermissionCache caches resolved role permission sets. It is injected into
// the service so tests can substitute NopCache. Entries expire after the
// configured TTL and are invalidated explicitly whenever a role definition
// changes.
type PermissionCache interface {
	Get(ctx context.Context, role string) ([]string, bool)
	Set(ctx context.Context, role string, permissions []string)
	Invalidate(ctx context.Context, role string)
}

// RedisPermissionCache stores permission sets in Redis with a TTL.
type RedisPermissionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisPermissionCache constructs the cache helper.
func NewRedisPermissionCache(client *redis.Client, ttl time.Duration) *RedisPermissionCache {
	return &RedisPermissionCache{client: client, ttl: ttl}
}

func permCacheKey(role string) string {
	return "roles:perms:" + role
}

// Get returns the cached permission set for role when present. Cache errors
// degrade to a miss; the store remains the source of truth.
func (c *RedisPermissionCache) Get(ctx context.Context, role string) ([]string, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	payload, err := c.client.Get(ctx, permCacheKey(role)).Bytes()
	if err != nil {
		return nil, false
	}
	var perms []string
	if err := json.Unmarshal(payload, &perms); err != nil {
		return nil, false
	}
	return perms, true
}

// Set stores the permission set with the configured TTL.
func (c *RedisPermissionCache) Set(ctx context.Context, role string, permissions []string) {
	if c == nil || c.client == nil {
		return
	}
	payload, err := json.Marshal(permissions)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, permCacheKey(role), payload, c.ttl).Err()
}

// Invalidate drops the cached entry for role.
func (c *RedisPermissionCache) Invalidate(ctx context.Context, role string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, permCacheKey(role)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return
	}
}

// NopCache disables caching. Used in tests and as a safe default.
type NopCache struct{}

// Get always misses.
func (NopCache) Get(context.Context, string) ([]string, bool) { return nil, false }

// Set is a no-op.
func (NopCache) Set(context.Context, string, []string) {}

// Invalidate is a no-op.
func (NopCache) Invalidate(context.Context, string) {}
