package cache

import (
	"context"
	"sync"
	"time"

	"mastodon-follower-network/internal/domain"
)

type entry struct {
	value   []byte
	expires time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// MemoryCache — кэш в памяти процесса.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]entry
	now   func() time.Time
}

// NewMemory создаёт пустой кэш.
func NewMemory() *MemoryCache {
	return &MemoryCache{items: make(map[string]entry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok || e.expired(c.now()) {
		return nil, domain.ErrCacheMiss
	}
	return e.value, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = c.newEntry(value, ttl)
	return nil
}

func (c *MemoryCache) Once(_ context.Context, key string, ttl time.Duration, fn func() error) error {
	c.mu.Lock()
	if e, ok := c.items[key]; ok && !e.expired(c.now()) {
		c.mu.Unlock()
		return nil
	}
	c.items[key] = c.newEntry([]byte("1"), ttl)
	c.mu.Unlock()

	if err := fn(); err != nil {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return err
	}
	return nil
}

func (c *MemoryCache) newEntry(value []byte, ttl time.Duration) entry {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	return e
}
