package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrCacheMiss is returned when a key is absent.
var ErrCacheMiss = errors.New("cache miss")

type Client struct {
	rdb *redis.Client
}

func Initialize(redisURL string) (*Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	rdb := redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

func permissionKey(userID uint) string {
	return fmt.Sprintf("perms:%d", userID)
}

// Compiled permission sets
func (c *Client) SetPermissionSet(ctx context.Context, userID uint, set map[string]bool, ttl time.Duration) error {
	jsonData, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("failed to marshal permission set: %w", err)
	}
	return c.rdb.Set(ctx, permissionKey(userID), jsonData, ttl).Err()
}

func (c *Client) GetPermissionSet(ctx context.Context, userID uint) (map[string]bool, error) {
	val, err := c.rdb.Get(ctx, permissionKey(userID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get permission set: %w", err)
	}

	set := make(map[string]bool)
	if err := json.Unmarshal(val, &set); err != nil {
		return nil, fmt.Errorf("failed to unmarshal permission set: %w", err)
	}
	return set, nil
}

func (c *Client) DeletePermissionSets(ctx context.Context, userIDs ...uint) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, permissionKey(id))
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// Distributed locks for periodic jobs
func (c *Client) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, "lock:"+key, time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return ok, nil
}

func (c *Client) ReleaseLock(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, "lock:"+key).Err()
}

// Close Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}
