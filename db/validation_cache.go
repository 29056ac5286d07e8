package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"gradebook-server-go/models"
	"pkt.systems/pslog"
)

const (
	courseKeyPrefix = "nrc:" // Hash prefix: nrc:{CODE} -> cached catalog entry
	defaultCacheTTL = 5 * time.Minute
)

// CourseLookup resolves a course code against the catalog
type CourseLookup interface {
	Lookup(ctx context.Context, code string) (models.CatalogEntry, error)
}

// ValidationCache answers course lookups from Redis and falls back to the
// wrapped lookup on a miss. Only successful lookups are cached; a Redis
// failure is logged and treated as a miss.
type ValidationCache struct {
	Client *redis.Client
	Next   CourseLookup
	TTL    time.Duration
	logger pslog.Logger
}

// NewValidationCache creates a cache in front of next
func NewValidationCache(client *redis.Client, next CourseLookup, ttl time.Duration, logger pslog.Logger) *ValidationCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &ValidationCache{
		Client: client,
		Next:   next,
		TTL:    ttl,
		logger: logger.With("subsystem", "db.cache"),
	}
}

// Helper to generate the cache key; codes match case-insensitively
func getCourseKey(code string) string {
	return courseKeyPrefix + strings.ToUpper(strings.TrimSpace(code))
}

// Lookup implements CourseLookup
func (c *ValidationCache) Lookup(ctx context.Context, code string) (models.CatalogEntry, error) {
	if entry, ok := c.get(ctx, code); ok {
		c.logger.Debug("db.cache.hit", "code", code)
		return entry, nil
	}
	entry, err := c.Next.Lookup(ctx, code)
	if err != nil {
		return models.CatalogEntry{}, err
	}
	if err := c.put(ctx, entry); err != nil {
		c.logger.Warn("db.cache.store_failed", "code", entry.Code, "error", err)
	}
	return entry, nil
}

// Invalidate drops a cached entry
func (c *ValidationCache) Invalidate(ctx context.Context, code string) error {
	if err := c.Client.Del(ctx, getCourseKey(code)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate course %s: %w", code, err)
	}
	return nil
}

func (c *ValidationCache) get(ctx context.Context, code string) (models.CatalogEntry, bool) {
	data, err := c.Client.HGetAll(ctx, getCourseKey(code)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("db.cache.read_failed", "code", code, "error", err)
		}
		return models.CatalogEntry{}, false
	}
	if len(data) == 0 || data["code"] == "" {
		return models.CatalogEntry{}, false
	}
	return models.CatalogEntry{Code: data["code"], Subject: data["subject"]}, true
}

func (c *ValidationCache) put(ctx context.Context, entry models.CatalogEntry) error {
	key := getCourseKey(entry.Code)
	pipe := c.Client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"code":    entry.Code,
		"subject": entry.Subject,
	})
	pipe.Expire(ctx, key, c.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache course in Redis: %w", err)
	}
	return nil
}

// NewRedisClient creates a Redis client and pings it once
func NewRedisClient(ctx context.Context, addr, password string, database int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       database,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("could not connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}
