package dsync

import (
	"context"
	"sync"
)

// ============================================================================
// Snapshot Cache
// ============================================================================

// Cache optionally persists the last-known committed message sequence per
// conversation. It only pre-populates the store before the authoritative
// fetch resolves and is never authoritative itself.
type Cache interface {
	Load(ctx context.Context, conversationID string) ([]Message, error)
	Store(ctx context.Context, conversationID string, msgs []Message) error
}

// MemoryCache is a goroutine-safe in-process Cache.
type MemoryCache struct {
	mu    sync.RWMutex
	snaps map[string][]Message
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{snaps: make(map[string][]Message)}
}

func (c *MemoryCache) Load(_ context.Context, conversationID string) ([]Message, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.snaps[conversationID]
	if !ok {
		return nil, nil
	}
	out := make([]Message, len(snap))
	for i := range snap {
		out[i] = *snap[i].Clone()
	}
	return out, nil
}

func (c *MemoryCache) Store(_ context.Context, conversationID string, msgs []Message) error {
	snap := make([]Message, len(msgs))
	for i := range msgs {
		snap[i] = *msgs[i].Clone()
	}
	c.mu.Lock()
	c.snaps[conversationID] = snap
	c.mu.Unlock()
	return nil
}
