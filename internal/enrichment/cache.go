package enrichment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Veraticus/the-spice-must-match/internal/common"
	"github.com/Veraticus/the-spice-must-match/internal/model"
	"github.com/Veraticus/the-spice-must-match/internal/service"
)

// Cache is a read-through cache of categorizations keyed by fingerprint.
// Entries are only removed by Clear.
type Cache struct {
	store   service.CacheStore
	entries map[string]model.CacheEntry
	mu      sync.RWMutex
}

// NewCache creates a cache backed by store.
func NewCache(store service.CacheStore) *Cache {
	return &Cache{
		store:   store,
		entries: make(map[string]model.CacheEntry),
	}
}

// Get returns the entry for fingerprint or common.ErrCacheMiss.
func (c *Cache) Get(ctx context.Context, fingerprint string) (model.CacheEntry, error) {
	c.mu.RLock()
	entry, ok := c.entries[fingerprint]
	c.mu.RUnlock()
	if ok {
		return entry, nil
	}

	stored, err := c.store.GetCacheEntry(ctx, fingerprint)
	if err != nil {
		if errors.Is(err, common.ErrCacheMiss) {
			return model.CacheEntry{}, common.ErrCacheMiss
		}
		return model.CacheEntry{}, fmt.Errorf("failed to read cache: %w", err)
	}

	c.mu.Lock()
	c.entries[fingerprint] = *stored
	c.mu.Unlock()
	return *stored, nil
}

// Put stores entry, replacing any previous result for its fingerprint.
func (c *Cache) Put(ctx context.Context, entry model.CacheEntry) error {
	if err := c.store.PutCacheEntry(ctx, entry); err != nil {
		return err
	}

	c.mu.Lock()
	c.entries[entry.Fingerprint] = entry
	c.mu.Unlock()
	return nil
}

// Stats summarizes the persisted cache.
func (c *Cache) Stats(ctx context.Context) (model.CacheStats, error) {
	return c.store.CacheStats(ctx)
}

// Clear removes every entry and returns the number of persisted rows deleted.
func (c *Cache) Clear(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, err := c.store.ClearCache(ctx)
	if err != nil {
		return 0, err
	}
	c.entries = make(map[string]model.CacheEntry)
	return n, nil
}
