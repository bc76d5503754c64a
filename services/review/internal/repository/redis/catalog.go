package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/repository"
)

const catalogPrefix = "review:content:"

// CachedCatalog answers content lookups from Redis, falling back to next on a
// miss. A Redis failure is logged and the lookup goes to next.
type CachedCatalog struct {
	client  *redis.Client
	next    repository.ContentCatalog
	ttl     time.Duration
	missTTL time.Duration
	logger  *slog.Logger
}

// NewCachedCatalog wraps next with a cache. Known content is cached for ttl,
// unknown content for missTTL so newly published items show up quickly.
func NewCachedCatalog(client *redis.Client, next repository.ContentCatalog, ttl, missTTL time.Duration, logger *slog.Logger) *CachedCatalog {
	if missTTL <= 0 || missTTL > ttl {
		missTTL = ttl
	}
	return &CachedCatalog{client: client, next: next, ttl: ttl, missTTL: missTTL, logger: logger}
}

// Exists reports whether contentID is a published content item.
func (c *CachedCatalog) Exists(ctx context.Context, contentID string) (bool, error) {
	key := catalogPrefix + contentID

	cached, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		return cached == "1", nil
	case !errors.Is(err, redis.Nil):
		c.logger.WarnContext(ctx, "content cache read failed",
			slog.String("content_id", contentID),
			slog.String("error", err.Error()),
		)
	}

	known, err := c.next.Exists(ctx, contentID)
	if err != nil {
		return false, fmt.Errorf("content lookup %s: %w", contentID, err)
	}

	value, ttl := "0", c.missTTL
	if known {
		value, ttl = "1", c.ttl
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "content cache write failed",
			slog.String("content_id", contentID),
			slog.String("error", err.Error()),
		)
	}
	return known, nil
}
