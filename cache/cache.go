// Package cache keeps recent extractions in Redis keyed by source URL.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/docutag/brandscan/models"
)

// KeyPrefix namespaces every cache key
const KeyPrefix = "brandscan:extraction:"

// DefaultTTL is used when Config.TTL is zero
const DefaultTTL = 24 * time.Hour

const connectionTimeout = 5 * time.Second

// ErrEmptyAddress is returned when the Redis address is not configured
var ErrEmptyAddress = errors.New("redis address is required")

// Config holds Redis connection configuration
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Cache stores extractions by URL
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis and verifies the connection
func New(cfg Config) (*Cache, error) {
	if cfg.Addr == "" {
		return nil, ErrEmptyAddress
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{client: client, ttl: ttl}, nil
}

func key(url string) string {
	return KeyPrefix + url
}

// Get returns the cached extraction for url. A miss returns (nil, false, nil).
func (c *Cache) Get(ctx context.Context, url string) (*models.Extraction, bool, error) {
	data, err := c.client.Get(ctx, key(url)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache: %w", err)
	}

	var e models.Extraction
	if err := json.Unmarshal(data, &e); err != nil {
		// A corrupt entry is treated as a miss and dropped
		c.client.Del(ctx, key(url))
		return nil, false, nil
	}
	return &e, true, nil
}

// Set stores e under its URL with the configured TTL
func (c *Cache) Set(ctx context.Context, e *models.Extraction) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode extraction: %w", err)
	}
	if err := c.client.Set(ctx, key(e.URL), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return nil
}

// Delete removes the entry for url
func (c *Cache) Delete(ctx context.Context, url string) error {
	if err := c.client.Del(ctx, key(url)).Err(); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// Ping checks the connection
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the connection
func (c *Cache) Close() error {
	return c.client.Close()
}
