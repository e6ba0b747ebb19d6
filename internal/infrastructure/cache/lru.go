// Package cache holds the in-process unique-view cache used when Redis is disabled.
// Each instance has its own cache; entries are not shared across replicas.
package cache

import (
	"context"
	"time"

	"github.com/baechuer/real-time-ressys/services/view-service/internal/domain"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

type LRU struct {
	cache *expirable.LRU[string, int64]
}

var _ domain.UniqueViewCache = (*LRU)(nil)

// NewLRU creates a cache of at most size entries, each living ttl after insertion.
func NewLRU(size int, ttl time.Duration) *LRU {
	if size <= 0 {
		size = 1024
	}
	return &LRU{cache: expirable.NewLRU[string, int64](size, nil, ttl)}
}

func (c *LRU) Get(_ context.Context, subjectID string) (int64, error) {
	n, ok := c.cache.Get(subjectID)
	if !ok {
		return 0, domain.ErrCacheMiss
	}
	return n, nil
}

// Set ignores ttl; entries use the TTL the cache was built with.
func (c *LRU) Set(_ context.Context, subjectID string, n int64, _ time.Duration) error {
	c.cache.Add(subjectID, n)
	return nil
}

func (c *LRU) Invalidate(_ context.Context, subjectID string) error {
	c.cache.Remove(subjectID)
	return nil
}

func (c *LRU) Len() int { return c.cache.Len() }
