// Cache implements the Memory Facade's operational key/value store and the
// at-least-once idempotency check it exposes over HTTP (spec.md §4.3
// cache_set/cache_get/idempotency_check), adapted from the teacher's
// core/redis_client.go DB-isolation/namespacing wrapper but narrowed to
// this domain: one DB holding two key namespaces, one for the operational
// cache and one for the idempotency set-if-absent keys.
package memorystore

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	cacheNamespace       = "admadc:cache:"
	idempotencyNamespace = "admadc:idem:"
)

// Cache wraps a go-redis client for the operational KV store.
type Cache struct {
	client *redis.Client
}

func NewCache(redisURL string) (*Cache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("memorystore: parse redis url: %w", err)
	}
	return &Cache{client: redis.NewClient(opt)}, nil
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error { return c.client.Close() }

// Set stores value under key with the given ttl (0 = no expiry).
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, cacheNamespace+key, value, ttl).Err()
}

// Get returns value, ok. ok is false if the key is absent.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.client.Get(ctx, cacheNamespace+key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// IdempotencyCheck performs an atomic set-if-absent with ttl, returning true
// iff key already existed (spec.md §4.3's idempotency_check contract).
func (c *Cache) IdempotencyCheck(ctx context.Context, key string, ttl time.Duration) (existed bool, err error) {
	ok, err := c.client.SetNX(ctx, idempotencyNamespace+key, "1", ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// broker.IdempotencyStore adapter methods, so Cache can back the event bus's
// message-level dedup store (spec.md §4.2) as well as the Memory Facade's
// HTTP-level idempotency_check, using the same underlying Redis DB.

func (c *Cache) IsSeen(ctx context.Context, key string) (bool, error) {
	_, err := c.client.Get(ctx, idempotencyNamespace+key).Result()
	if err == redis.Nil {
		return false, nil
	}
	return err == nil, err
}

func (c *Cache) MarkSeen(ctx context.Context, key string, ttl time.Duration) error {
	return c.client.Set(ctx, idempotencyNamespace+key, "1", ttl).Err()
}
