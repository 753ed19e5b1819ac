package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultCacheTTL       = 24 * time.Hour
	DefaultCacheNamespace = "perpchart:candles"
)

// CachedSource decorates a Source with Redis. Only pages with a Before
// bound are cached: closed history does not change, the newest page does.
type CachedSource struct {
	inner     Source
	rdb       *redis.Client
	ttl       time.Duration
	namespace string
}

// NewCachedSource wraps inner. A nil rdb disables caching.
func NewCachedSource(inner Source, rdb *redis.Client, ttl time.Duration, namespace string) *CachedSource {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if namespace == "" {
		namespace = DefaultCacheNamespace
	}
	return &CachedSource{inner: inner, rdb: rdb, ttl: ttl, namespace: namespace}
}

func (c *CachedSource) Candles(ctx context.Context, q Query) (Page, error) {
	if c.rdb == nil || q.Before <= 0 {
		return c.inner.Candles(ctx, q)
	}

	key := c.cacheKey(q)
	if b, err := c.rdb.Get(ctx, key).Bytes(); err == nil && len(b) > 0 {
		var page Page
		if err := json.Unmarshal(b, &page); err == nil {
			slog.Debug("history cache hit", "key", key, "bars", len(page.Bars))
			return page, nil
		}
		_ = c.rdb.Del(ctx, key).Err()
	} else if err != nil && !errors.Is(err, redis.Nil) {
		slog.Warn("history cache get failed", "key", key, "error", err)
	}

	page, err := c.inner.Candles(ctx, q)
	if err != nil {
		return Page{}, err
	}
	// Empty pages mark the end of history; keep them too.
	if b, err := json.Marshal(page); err == nil {
		if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
			slog.Warn("history cache set failed", "key", key, "error", err)
		}
	}
	return page, nil
}

// Invalidate drops every cached page of a market and granularity.
func (c *CachedSource) Invalidate(ctx context.Context, q Query) error {
	if c.rdb == nil {
		return nil
	}
	pattern := c.keyPrefix(q) + "*"
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return fmt.Errorf("history: scan cache: %w", err)
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("history: delete cache keys: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (c *CachedSource) cacheKey(q Query) string {
	return fmt.Sprintf("%s%d:%d", c.keyPrefix(q), q.Before, q.Limit)
}

func (c *CachedSource) keyPrefix(q Query) string {
	return fmt.Sprintf("%s:%s:%s:", c.namespace, safeKey(q.Market), safeKey(string(q.Granularity)))
}

func safeKey(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	return strings.ReplaceAll(s, ":", "_")
}
