// Package redis stores manual search results in Redis so several API
// replicas share them.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/metrics"
	"github.com/JakeFAU/pricewatch/internal/resultcache"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

const defaultPrefix = "pricewatch:results:"

// keyGrace keeps the Redis key around a little past the TTL so the read
// path, not Redis, decides expiry.
const keyGrace = time.Minute

// Client is the subset of *redis.Client the cache uses.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Config holds Redis connection settings.
type Config struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

type record struct {
	Listings   []tracker.RawListing `json:"listings"`
	CapturedAt time.Time            `json:"captured_at"`
}

// Cache implements tracker.ResultCache on Redis.
type Cache struct {
	client Client
	prefix string
	ttl    time.Duration
	clock  tracker.Clock
	logger *zap.Logger
}

var _ tracker.ResultCache = (*Cache)(nil)

// NewClient dials Redis and verifies the connection.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// New wraps a Redis client.
func New(client Client, cfg Config, clock tracker.Clock, logger *zap.Logger) *Cache {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = resultcache.DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{client: client, prefix: prefix, ttl: ttl, clock: clock, logger: logger.Named("result_cache")}
}

// Put replaces the user's stored results.
func (c *Cache) Put(ctx context.Context, userID string, listings []tracker.RawListing) error {
	data, err := json.Marshal(record{Listings: listings, CapturedAt: c.clock.Now()})
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	if err := c.client.Set(ctx, c.key(userID), data, c.ttl+keyGrace).Err(); err != nil {
		return fmt.Errorf("store results: %w", err)
	}
	return nil
}

// Get returns the user's results while they are younger than the TTL and
// deletes them once they are not. A stale entry is a miss even when the
// delete fails; the key still expires on its own.
func (c *Cache) Get(ctx context.Context, userID string) ([]tracker.RawListing, bool, error) {
	key := c.key(userID)
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.ObserveCacheLookup("miss")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load results: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("decode results: %w", err)
	}
	if resultcache.Expired(rec.CapturedAt, c.clock.Now(), c.ttl) {
		if err := c.client.Del(ctx, key).Err(); err != nil {
			c.logger.Warn("evict stale results failed", zap.String("user_id", userID), zap.Error(err))
		}
		metrics.ObserveCacheLookup("evicted")
		return nil, false, nil
	}
	metrics.ObserveCacheLookup("hit")
	return rec.Listings, true, nil
}

func (c *Cache) key(userID string) string {
	return c.prefix + userID
}
