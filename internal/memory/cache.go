package memory

import (
	"context"
	"sync"
	"time"
)

type Cache struct {
	mu   sync.Mutex
	vals map[string]string
}

func (c *Cache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.vals[key]
	return v, ok, nil
}

// Set ignores ttl.
func (c *Cache) Set(_ context.Context, key, value string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.vals == nil {
		c.vals = map[string]string{}
	}
	c.vals[key] = value
	return nil
}
