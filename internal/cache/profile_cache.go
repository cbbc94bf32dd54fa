// Package cache keeps recently read identity profiles in Redis. One hash per
// user holds an entry per email filter, so a merge can drop them all at once.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/entity"
)

const keyPrefix = "identity:profile:"

type Config struct {
	// URL is the Redis connection string; empty disables the cache.
	URL            string
	TTL            time.Duration
	ConnectTimeout time.Duration
}

// ConfigFromEnv reads REDIS_URL and PROFILE_CACHE_TTL (Go duration, default 5m).
func ConfigFromEnv() Config {
	cfg := Config{URL: strings.TrimSpace(os.Getenv("REDIS_URL")), TTL: 5 * time.Minute, ConnectTimeout: 5 * time.Second}
	if v := os.Getenv("PROFILE_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.TTL = d
		}
	}
	return cfg
}

// ProfileCache implements identity.ProfileCache on Redis hashes.
type ProfileCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects and pings Redis.
func New(cfg Config) (*ProfileCache, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis url is empty")
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opts.DialTimeout = cfg.ConnectTimeout
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &ProfileCache{client: client, ttl: cfg.TTL}, nil
}

func key(userID string) string { return keyPrefix + userID }

// field is never empty so the "no email" lookup has its own slot.
func field(email string) string { return "email:" + email }

func (c *ProfileCache) Get(ctx context.Context, userID, email string) (*entity.Profile, bool, error) {
	raw, err := c.client.HGet(ctx, key(userID), field(email)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cached profile: %w", err)
	}
	var p entity.Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		// unreadable entries are treated as misses
		return nil, false, nil
	}
	return &p, true, nil
}

func (c *ProfileCache) Set(ctx context.Context, userID, email string, p *entity.Profile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key(userID), field(email), raw)
	pipe.Expire(ctx, key(userID), c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write cached profile: %w", err)
	}
	return nil
}

func (c *ProfileCache) Invalidate(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("invalidate cached profile: %w", err)
	}
	return nil
}

func (c *ProfileCache) Close() error { return c.client.Close() }
