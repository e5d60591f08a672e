package cache

import (
	"context"
	"sync"
	"time"
)

// memoryClient implementa Client con un map en memoria.
// La expiración se detecta lazy en Get, no hay goroutine de limpieza.
type memoryClient struct {
	prefix string
	mu     sync.RWMutex
	data   map[string]memoryEntry
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
	noExpire  bool
}

// NewMemory crea un cliente de cache en memoria.
func NewMemory(prefix string) Client {
	return &memoryClient{
		prefix: prefix,
		data:   make(map[string]memoryEntry),
	}
}

func (c *memoryClient) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

func (c *memoryClient) Get(_ context.Context, key string) (string, error) {
	c.mu.RLock()
	entry, ok := c.data[c.key(key)]
	c.mu.RUnlock()

	if !ok {
		return "", ErrNotFound
	}
	if !entry.noExpire && time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.data, c.key(key))
		c.mu.Unlock()
		return "", ErrNotFound
	}
	return entry.value, nil
}

func (c *memoryClient) Set(_ context.Context, key, value string, ttl time.Duration) error {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	} else {
		entry.noExpire = true
	}

	c.mu.Lock()
	c.data[c.key(key)] = entry
	c.mu.Unlock()
	return nil
}

func (c *memoryClient) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.data, c.key(key))
	c.mu.Unlock()
	return nil
}

func (c *memoryClient) Ping(context.Context) error { return nil }

func (c *memoryClient) Close() error { return nil }
