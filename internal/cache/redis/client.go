package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/feedback-pipeline/backend/pkg/logger"
)

const statsKeyPrefix = "stats:"

// commands is the slice of the redis API the cache touches. Satisfied by
// *redis.Client; faked in tests.
type commands interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Client memoizes read-endpoint responses for a short TTL. It is a
// best-effort latency optimization: mutations call InvalidateStats
// synchronously, so a read after a known mutation is never served stale.
type Client struct {
	client commands
	ttl    time.Duration
}

func NewClient(client *redis.Client, ttl time.Duration) *Client {
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	return &Client{client: client, ttl: ttl}
}

func (c *Client) TTL() time.Duration {
	return c.ttl
}

func (c *Client) SetStats(ctx context.Context, key string, response interface{}) error {
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	err = c.client.Set(ctx, statsKeyPrefix+key, data, c.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set stats cache: %w", err)
	}

	logger.Debug("Stats cached", zap.String("key", key), zap.Duration("ttl", c.ttl))
	return nil
}

func (c *Client) GetStats(ctx context.Context, key string, response interface{}) (bool, error) {
	data, err := c.client.Get(ctx, statsKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get stats cache: %w", err)
	}

	if err := json.Unmarshal(data, response); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached response: %w", err)
	}

	logger.Debug("Stats cache hit", zap.String("key", key))
	return true, nil
}

// InvalidateStats drops every cached stats entry. Called synchronously by
// mutating actions (submission, rating) before they respond.
func (c *Client) InvalidateStats(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, statsKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Debug("Stats cache invalidated")
	return nil
}
