// Package session caches resolved viewer contexts in Redis.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"coursetalk/api/internal/comments"
)

const DefaultViewerTTL = 30 * time.Second

// ViewerCache is a read-through cache of comments.Viewer keyed by user id.
// Entries expire after ttl and are dropped explicitly when a user's
// suspension state changes.
type ViewerCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewViewerCache connects to redisURL and verifies the connection.
func NewViewerCache(redisURL string, ttl time.Duration) (*ViewerCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewViewerCacheWithClient(client, ttl), nil
}

func NewViewerCacheWithClient(client *redis.Client, ttl time.Duration) *ViewerCache {
	if ttl <= 0 {
		ttl = DefaultViewerTTL
	}
	return &ViewerCache{client: client, prefix: "viewer:", ttl: ttl}
}

func (c *ViewerCache) key(userID string) string {
	return c.prefix + userID
}

// Get reports false on a miss.
func (c *ViewerCache) Get(ctx context.Context, userID string) (comments.Viewer, bool, error) {
	raw, err := c.client.Get(ctx, c.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return comments.Viewer{}, false, nil
	}
	if err != nil {
		return comments.Viewer{}, false, fmt.Errorf("get cached viewer: %w", err)
	}

	var viewer comments.Viewer
	if err := json.Unmarshal(raw, &viewer); err != nil {
		return comments.Viewer{}, false, fmt.Errorf("unmarshal cached viewer: %w", err)
	}
	return viewer, true, nil
}

func (c *ViewerCache) Set(ctx context.Context, viewer comments.Viewer) error {
	if !viewer.IsAuthenticated() {
		return nil
	}
	raw, err := json.Marshal(viewer)
	if err != nil {
		return fmt.Errorf("marshal viewer: %w", err)
	}
	if err := c.client.Set(ctx, c.key(viewer.UserID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache viewer: %w", err)
	}
	return nil
}

func (c *ViewerCache) Invalidate(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, c.key(userID)).Err(); err != nil {
		return fmt.Errorf("invalidate viewer: %w", err)
	}
	return nil
}

func (c *ViewerCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *ViewerCache) Close() error {
	return c.client.Close()
}
