package token

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevokedTokenCache records access tokens revoked by logout until they expire
type RevokedTokenCache interface {
	Add(ctx context.Context, jti string, exp time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// InMemoryRevokedTokenCache is a simple in-memory implementation
type InMemoryRevokedTokenCache struct {
	revoked map[string]time.Time
	mu      sync.RWMutex
	nowFunc func() time.Time
}

var _ RevokedTokenCache = (*InMemoryRevokedTokenCache)(nil)

func NewInMemoryRevokedTokenCache() *InMemoryRevokedTokenCache {
	return &InMemoryRevokedTokenCache{
		revoked: make(map[string]time.Time),
		nowFunc: time.Now,
	}
}

func (c *InMemoryRevokedTokenCache) Add(_ context.Context, jti string, exp time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revoked[jti] = exp
	return nil
}

func (c *InMemoryRevokedTokenCache) IsRevoked(_ context.Context, jti string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, exists := c.revoked[jti]
	return exists, nil
}

// Cleanup removes entries whose token has expired
func (c *InMemoryRevokedTokenCache) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.nowFunc()
	for jti, exp := range c.revoked {
		if now.After(exp) {
			delete(c.revoked, jti)
		}
	}
}

func (c *InMemoryRevokedTokenCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.revoked)
}

// RedisRevokedTokenCache shares revocations between backend instances.
// Entries carry a TTL of the token's remaining lifetime.
type RedisRevokedTokenCache struct {
	client  redis.Cmdable
	prefix  string
	nowFunc func() time.Time
}

var _ RevokedTokenCache = (*RedisRevokedTokenCache)(nil)

func NewRedisRevokedTokenCache(client redis.Cmdable, prefix string) *RedisRevokedTokenCache {
	return &RedisRevokedTokenCache{
		client:  client,
		prefix:  prefix,
		nowFunc: time.Now,
	}
}

func (c *RedisRevokedTokenCache) Add(ctx context.Context, jti string, exp time.Time) error {
	ttl := exp.Sub(c.nowFunc())
	if ttl <= 0 {
		return nil // already expired
	}
	return c.client.Set(ctx, c.key(jti), "1", ttl).Err()
}

func (c *RedisRevokedTokenCache) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *RedisRevokedTokenCache) key(jti string) string {
	return c.prefix + "revoked:" + jti
}
