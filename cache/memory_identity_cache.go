package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryIdentityCache implements IdentityCache using ttlcache.
type MemoryIdentityCache struct {
	cache *ttlcache.Cache[string, *IdentityEntry]
}

// NewMemoryIdentityCache creates an in-process identity cache with
// automatic expiry cleanup.
//
//nolint:ireturn
func NewMemoryIdentityCache(defaultTTL time.Duration) IdentityCache {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *IdentityEntry](defaultTTL),
		ttlcache.WithDisableTouchOnHit[string, *IdentityEntry](),
	)

	go cache.Start()

	return &MemoryIdentityCache{cache: cache}
}

// Set implements IdentityCache.Set.
func (c *MemoryIdentityCache) Set(_ context.Context, entry *IdentityEntry) error {
	ttl := ttlcache.DefaultTTL
	if !entry.ExpiresAt.IsZero() {
		ttl = time.Until(entry.ExpiresAt)
	}
	c.cache.Set(entry.TokenHash, entry, ttl)
	return nil
}

// Get implements IdentityCache.Get.
func (c *MemoryIdentityCache) Get(_ context.Context, tokenHash string) (*IdentityEntry, error) {
	item := c.cache.Get(tokenHash)
	if item == nil {
		return nil, fmt.Errorf("identity not cached")
	}

	entry := item.Value()
	entry.LastUsedAt = time.Now().UTC()

	return entry, nil
}

// Delete removes one entry.
func (c *MemoryIdentityCache) Delete(_ context.Context, tokenHash string) error {
	c.cache.Delete(tokenHash)

	return nil
}

// Clear removes all entries.
func (c *MemoryIdentityCache) Clear(_ context.Context) error {
	c.cache.DeleteAll()

	return nil
}

// Count counts the cached entries.
func (c *MemoryIdentityCache) Count(_ context.Context) int {
	return c.cache.Len()
}

// Close stops the cleanup goroutine.
func (c *MemoryIdentityCache) Close() error {
	c.cache.Stop()

	return nil
}
