package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/papidb/cls/internal/domain"
	"github.com/papidb/cls/internal/metrics"

	"github.com/redis/go-redis/v9"
)

// Cache is the Redis slug->link cache used by the redirect hot path
// (cache-aside: check here first, fall through to Postgres on a miss).
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache creates a new Redis cache.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func cacheKey(slug string) string {
	return fmt.Sprintf("link:%s", slug)
}

// GetLink retrieves a link from cache. A miss returns (nil, nil).
func (c *Cache) GetLink(ctx context.Context, slug string) (*domain.Link, error) {
	start := time.Now()
	defer func() {
		metrics.CacheOperationDuration.WithLabelValues("get").Observe(time.Since(start).Seconds())
	}()

	data, err := c.client.Get(ctx, cacheKey(slug)).Result()
	if err == redis.Nil {
		metrics.RecordCacheMiss()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get error: %w", err)
	}

	metrics.RecordCacheHit()

	var link domain.Link
	if err := json.Unmarshal([]byte(data), &link); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached link: %w", err)
	}
	return &link, nil
}

// SetLink stores a link in cache with the configured TTL.
func (c *Cache) SetLink(ctx context.Context, slug string, link *domain.Link) error {
	start := time.Now()
	defer func() {
		metrics.CacheOperationDuration.WithLabelValues("set").Observe(time.Since(start).Seconds())
	}()

	data, err := json.Marshal(link)
	if err != nil {
		return fmt.Errorf("failed to marshal link: %w", err)
	}

	if err := c.client.Set(ctx, cacheKey(slug), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

// DeleteLink removes a link from cache, used on delete so a dead slug does
// not keep redirecting until the TTL runs out.
func (c *Cache) DeleteLink(ctx context.Context, slug string) error {
	if err := c.client.Del(ctx, cacheKey(slug)).Err(); err != nil {
		return fmt.Errorf("redis delete error: %w", err)
	}
	return nil
}

// InitRedis creates a new Redis client and verifies the connection.
func InitRedis(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}
