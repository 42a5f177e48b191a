package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/amishk599/jobtracker/internal/model"
)

// DefaultTTL is how long a cached search result stays valid.
const DefaultTTL = 15 * time.Minute

const keyPrefix = "jobtracker:search:"

// Cache is a byte-oriented key/value store with expiry. Get returns nil, nil
// on a miss.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisCache implements Cache on top of a Redis client.
type RedisCache struct {
	client redis.UniversalClient
}

var _ Cache = (*RedisCache)(nil)

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

// NewRedisClient parses a redis:// URL and verifies the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, errors.New("key cannot be empty")
	}
	val, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// CachedSearcher serves repeated searches from a Cache. Cache errors are
// logged and never fail a search; upstream errors are never cached.
type CachedSearcher struct {
	inner  model.Searcher
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

var _ model.Searcher = (*CachedSearcher)(nil)

func NewCachedSearcher(inner model.Searcher, cache Cache, ttl time.Duration, logger *slog.Logger) *CachedSearcher {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &CachedSearcher{inner: inner, cache: cache, ttl: ttl, logger: logger}
}

func (c *CachedSearcher) Search(ctx context.Context, params model.SearchParams) ([]model.RawListing, error) {
	key := Key(params)

	cached, err := c.cache.Get(ctx, key)
	switch {
	case err != nil:
		c.logger.Warn("search cache read failed", "key", key, "error", err)
	case cached != nil:
		var listings []model.RawListing
		if err := json.Unmarshal(cached, &listings); err == nil {
			c.logger.Debug("search cache hit", "key", key, "listings", len(listings))
			return listings, nil
		}
		c.logger.Warn("discarding undecodable cache entry", "key", key)
	}

	listings, err := c.inner.Search(ctx, params)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(listings)
	if err != nil {
		c.logger.Warn("encoding search result for cache", "error", err)
		return listings, nil
	}
	if err := c.cache.Set(ctx, key, body, c.ttl); err != nil {
		c.logger.Warn("search cache write failed", "key", key, "error", err)
	}
	return listings, nil
}

// Key derives a stable cache key from the search parameters. Text fields are
// compared case-insensitively.
func Key(params model.SearchParams) string {
	parts := []string{
		strings.ToLower(strings.TrimSpace(params.Location)),
		strings.ToLower(strings.TrimSpace(params.Role)),
		strings.ToLower(strings.TrimSpace(params.Keyword)),
		optInt(params.MinPay),
		optInt(params.MaxPay),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return keyPrefix + hex.EncodeToString(sum[:16])
}

func optInt(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}
