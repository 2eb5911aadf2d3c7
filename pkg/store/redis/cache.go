package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pomelo-kg/pomelo/internal/util"

	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "pomelo:resp:"

// ResponseCache stores completion responses in Redis so repeated report and
// query generations skip the AI call. Entries expire after the configured
// TTL; zero means no expiry.
type ResponseCache struct {
	client *goredis.Client
	ttl    time.Duration
}

type CacheOption func(*ResponseCache)

func WithTTL(ttl time.Duration) CacheOption {
	return func(c *ResponseCache) {
		if ttl >= 0 {
			c.ttl = ttl
		}
	}
}

// NewResponseCache creates a cache on an existing Redis client. Default TTL
// is 7 days.
func NewResponseCache(client *goredis.Client, opts ...CacheOption) (*ResponseCache, error) {
	if client == nil {
		return nil, util.ErrMissingCollaborator("redis client")
	}
	c := &ResponseCache{
		client: client,
		ttl:    7 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *ResponseCache) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.client.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read response cache: %w", err)
	}
	return value, true, nil
}

func (c *ResponseCache) Set(ctx context.Context, key string, value string) error {
	if err := c.client.Set(ctx, keyPrefix+key, value, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write response cache: %w", err)
	}
	return nil
}
