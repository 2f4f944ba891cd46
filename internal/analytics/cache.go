package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache stores reconstructed summaries per frozen snapshot.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to redisURL and checks it is reachable.
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client, ttl), nil
}

func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{client: client, prefix: "analytics:", ttl: ttl}
}

func (c *RedisCache) key(snapshotID string) string {
	return c.prefix + snapshotID
}

// Get returns the cached summary and whether it was present.
func (c *RedisCache) Get(ctx context.Context, snapshotID string) (Summary, bool, error) {
	raw, err := c.client.Get(ctx, c.key(snapshotID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Summary{}, false, nil
	}
	if err != nil {
		return Summary{}, false, fmt.Errorf("read analytics cache: %w", err)
	}
	var summary Summary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return Summary{}, false, fmt.Errorf("decode analytics cache: %w", err)
	}
	return summary, true, nil
}

func (c *RedisCache) Set(ctx context.Context, snapshotID string, summary Summary) error {
	raw, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode analytics cache: %w", err)
	}
	if err := c.client.Set(ctx, c.key(snapshotID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("write analytics cache: %w", err)
	}
	return nil
}

// Invalidate drops the cached summary, called whenever an event is appended.
func (c *RedisCache) Invalidate(ctx context.Context, snapshotID string) error {
	if err := c.client.Del(ctx, c.key(snapshotID)).Err(); err != nil {
		return fmt.Errorf("invalidate analytics cache: %w", err)
	}
	return nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
