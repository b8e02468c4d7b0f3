package accesscontrol

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheVersionKey = "acl:decision:version"

// DecisionCache memoizes allow/deny outcomes in Redis under a global
// version counter. Any grant, revoke, or hierarchy mutation bumps the
// version, which orphans every cached decision at once; orphaned keys age
// out via TTL. Reads and writes are best-effort: the engine treats cache
// errors as misses.
type DecisionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDecisionCache constructs a cache. ttl bounds how long a stale entry
// can outlive a version bump race; keep it short.
func NewDecisionCache(client *redis.Client, ttl time.Duration) *DecisionCache {
	return &DecisionCache{client: client, ttl: ttl}
}

func (c *DecisionCache) version(ctx context.Context) (int64, error) {
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
	return ver, nil
}

func (c *DecisionCache) key(ver int64, identityID, resourceID string, action Action) string {
	if identityID == "" {
		identityID = "anon"
	}
	return fmt.Sprintf("acl:decision:%d:%s:%s:%s", ver, identityID, resourceID, action)
}

// Get returns (allowed, found, error) for a cached decision.
func (c *DecisionCache) Get(ctx context.Context, identityID, resourceID string, action Action) (bool, bool, error) {
	if c == nil || c.client == nil {
		return false, false, nil
	}
	ver, err := c.version(ctx)
	if err != nil {
		return false, false, err
	}
	val, err := c.client.Get(ctx, c.key(ver, identityID, resourceID, action)).Result()
	if err == redis.Nil {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return val == "1", true, nil
}

// Put stores a decision under the current version.
func (c *DecisionCache) Put(ctx context.Context, identityID, resourceID string, action Action, allowed bool) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.version(ctx)
	if err != nil {
		return err
	}
	val := "0"
	if allowed {
		val = "1"
	}
	return c.client.Set(ctx, c.key(ver, identityID, resourceID, action), val, c.ttl).Err()
}

// Bump invalidates all cached decisions by advancing the global version.
func (c *DecisionCache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}
