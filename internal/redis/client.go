package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

func PresenceKey(hubID string) string {
	return fmt.Sprintf("presence:hub:%s", hubID)
}

// RecordPresence marks hubID as seen at `at` for ttl.
func (c *Client) RecordPresence(ctx context.Context, hubID string, at time.Time, ttl time.Duration) error {
	return c.Set(ctx, PresenceKey(hubID), at.UTC().Format(time.RFC3339Nano), ttl).Err()
}

// LastSeen returns the zero time when the hub has no live presence key.
func (c *Client) LastSeen(ctx context.Context, hubID string) (time.Time, error) {
	val, err := c.Get(ctx, PresenceKey(hubID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, val)
}
