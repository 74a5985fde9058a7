package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// CacheEntry is the lightweight seen/unseen record for a post id. It is
// the sole authority on whether a post is new; the full record in the
// document store is never consulted for that.
type CacheEntry struct {
	URL        string    `json:"url"`
	Type       string    `json:"type"`
	AddedAt    time.Time `json:"added_at"`
	LastUpdate time.Time `json:"last_update"`
}

// Cache is a flat id-to-entry mapping backed by a JSON file, loaded
// fully into memory at open and written back with a write-and-swap.
type Cache struct {
	path string

	mu      sync.RWMutex
	entries map[string]CacheEntry
	dirty   bool
}

// OpenCache loads the cache file, starting empty when it does not exist.
func OpenCache(path string) (*Cache, error) {
	c := &Cache{path: path, entries: make(map[string]CacheEntry)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &c.entries); err != nil {
		return nil, fmt.Errorf("parse cache %s: %w", path, err)
	}
	return c, nil
}

// Get returns the entry for a post id.
func (c *Cache) Get(id string) (CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	return e, ok
}

// Has reports whether an entry exists for a post id.
func (c *Cache) Has(id string) bool {
	_, ok := c.Get(id)
	return ok
}

// Put records a first sighting. AddedAt is set once and never changes.
func (c *Cache) Put(id, url, typ string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[id]; exists {
		return
	}
	c.entries[id] = CacheEntry{URL: url, Type: typ, AddedAt: now, LastUpdate: now}
	c.dirty = true
}

// Touch refreshes an existing entry on re-ingestion.
func (c *Cache) Touch(id, url, typ string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, exists := c.entries[id]
	if !exists {
		return
	}
	e.URL = url
	e.Type = typ
	e.LastUpdate = now
	c.entries[id] = e
	c.dirty = true
}

// Len returns the number of cached ids.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// IDs returns all cached post ids.
func (c *Cache) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	return ids
}

// Save writes the cache back to disk via a temp file and rename. It is
// a no-op when nothing changed since the last save.
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}

	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("swap cache: %w", err)
	}
	c.dirty = false
	return nil
}
