package memory

import (
	"context"
	"sync"
)

// ResponseCache is a process-local response cache. It never evicts; rebuild
// pipelines are short-lived enough that this is acceptable.
type ResponseCache struct {
	mu      sync.RWMutex
	entries map[string]string
}

func NewResponseCache() *ResponseCache {
	return &ResponseCache{entries: make(map[string]string)}
}

func (c *ResponseCache) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.entries[key]
	return value, ok, nil
}

func (c *ResponseCache) Set(ctx context.Context, key string, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}
