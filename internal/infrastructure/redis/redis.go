package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/baechuer/real-time-ressys/services/view-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	uniqueKeyPrefix    = "views:unique:"
	ratelimitKeyPrefix = "ratelimit:http:"
)

type Cache struct {
	Client *redis.Client
}

var _ domain.UniqueViewCache = (*Cache)(nil)

func New(addr, pass string, db int) *Cache {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr, Password: pass, DB: db,
	})
	return &Cache{Client: rdb}
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.Client.Close()
}

func (c *Cache) Get(ctx context.Context, subjectID string) (int64, error) {
	val, err := c.Client.Get(ctx, uniqueKeyPrefix+subjectID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, domain.ErrCacheMiss
		}
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}

func (c *Cache) Set(ctx context.Context, subjectID string, n int64, ttl time.Duration) error {
	return c.Client.Set(ctx, uniqueKeyPrefix+subjectID, n, ttl).Err()
}

func (c *Cache) Invalidate(ctx context.Context, subjectID string) error {
	return c.Client.Del(ctx, uniqueKeyPrefix+subjectID).Err()
}

// AllowRequest is a fixed-window request limit per key (HTTP edge, not the view limiter).
// Redis errors fail open.
func (c *Cache) AllowRequest(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	k := ratelimitKeyPrefix + key
	count, err := c.Client.Incr(ctx, k).Result()
	if err != nil {
		return true, nil // fail open
	}
	if count == 1 {
		_ = c.Client.Expire(ctx, k, window).Err()
	}
	return count <= int64(limit), nil
}
