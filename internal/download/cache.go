package download

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Entry is the download bookkeeping for one post URL.
type Entry struct {
	Reblog       string     `json:"reblog,omitempty"`
	Origin       string     `json:"origin,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
	PhotoURLs    []string   `json:"photo_urls,omitempty"`
	Downloaded   bool       `json:"downloaded,omitempty"`
	DownloadedAt *time.Time `json:"downloaded_at,omitempty"`
	Error        string     `json:"download_error,omitempty"`
}

// Cache is the JSON-file map from post URL to download state. A post
// recorded but not marked downloaded is a pending download, resumed on
// the next run.
type Cache struct {
	path string

	mu      sync.Mutex
	entries map[string]Entry
	dirty   bool
}

// OpenCache loads the downloads cache, starting empty when absent.
func OpenCache(path string) (*Cache, error) {
	c := &Cache{path: path, entries: make(map[string]Entry)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read downloads cache %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &c.entries); err != nil {
		return nil, fmt.Errorf("parse downloads cache %s: %w", path, err)
	}
	return c, nil
}

// Get returns the entry for a post URL.
func (c *Cache) Get(postURL string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[postURL]
	return e, ok
}

// Set stores an entry.
func (c *Cache) Set(postURL string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[postURL] = e
	c.dirty = true
}

// Pending returns the URLs recorded but not yet downloaded.
func (c *Cache) Pending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for u, e := range c.entries {
		if !e.Downloaded {
			out = append(out, u)
		}
	}
	return out
}

// Save writes the cache via a temp file and rename.
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}

	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode downloads cache: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write downloads cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("swap downloads cache: %w", err)
	}
	c.dirty = false
	return nil
}
