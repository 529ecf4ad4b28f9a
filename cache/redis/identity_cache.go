// Package redis provides the distributed variant of the identity cache,
// for deployments running more than one gateway instance.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"go.pilab.hu/chatkit/cache"
)

// IdentityCache implements cache.IdentityCache backed by Redis.
type IdentityCache struct {
	client *redis.Client
	prefix string
}

// NewIdentityCache creates a new [IdentityCache] instance.
func NewIdentityCache(client *redis.Client, prefix string) *IdentityCache {
	return &IdentityCache{
		client: client,
		prefix: prefix,
	}
}

func (c *IdentityCache) key(tokenHash string) string {
	return fmt.Sprintf("%s:identity:%s", c.prefix, tokenHash)
}

// Set stores a verified identity under its token digest with expiry.
func (c *IdentityCache) Set(ctx context.Context, entry *cache.IdentityEntry) error {
	key := c.key(entry.TokenHash)

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal identity entry: %w", err)
	}

	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("identity entry already expired")
	}

	if err := c.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set identity in Redis: %w", err)
	}

	return nil
}

// Get retrieves a cached identity entry.
func (c *IdentityCache) Get(ctx context.Context, tokenHash string) (*cache.IdentityEntry, error) {
	key := c.key(tokenHash)

	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, fmt.Errorf("identity not cached: %w", err)
	}

	var entry cache.IdentityEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal identity entry: %w", err)
	}

	entry.LastUsedAt = time.Now().UTC()

	return &entry, nil
}

// Delete removes a cached identity.
func (c *IdentityCache) Delete(ctx context.Context, tokenHash string) error {
	return c.client.Del(ctx, c.key(tokenHash)).Err()
}

// Clear removes every entry under this cache's prefix.
func (c *IdentityCache) Clear(ctx context.Context) error {
	var cursor uint64
	pattern := c.key("*")

	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan identity keys: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete identity keys: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Count counts entries under this cache's prefix.
func (c *IdentityCache) Count(ctx context.Context) int {
	var count int
	var cursor uint64
	pattern := c.key("*")

	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return count
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count
		}
	}
}

// Close is a no-op; the redis client is owned by the caller.
func (c *IdentityCache) Close() error {
	return nil
}

// Ensure interface compliance.
var _ cache.IdentityCache = (*IdentityCache)(nil)
