package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// QueryCache stores JSON-encoded query results under string keys.
type QueryCache interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) error
}

type NoopQueryCache struct{}

func (NoopQueryCache) GetJSON(_ context.Context, _ string, _ any) (bool, error) {
	return false, nil
}

func (NoopQueryCache) SetJSON(_ context.Context, _ string, _ any, _ time.Duration) error {
	return nil
}

func (NoopQueryCache) DeletePrefix(_ context.Context, _ string) error {
	return nil
}

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

// MemoryQueryCache is a process-local TTL cache used when redis is not
// configured. Expired entries are dropped lazily on read and on write.
type MemoryQueryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryQueryCache() *MemoryQueryCache {
	return &MemoryQueryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryQueryCache) GetJSON(_ context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok && !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(entry.payload, dst); err != nil {
		return false, err
	}
	return true, nil
}

func (c *MemoryQueryCache) SetJSON(_ context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = memoryEntry{payload: payload, expiresAt: now.Add(ttl)}
	return nil
}

func (c *MemoryQueryCache) DeletePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	return nil
}
