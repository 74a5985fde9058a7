// Package sources manages the registry of blogs to scrape.
package sources

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Config is the per-source scrape configuration.
type Config struct {
	Title          string     `json:"title,omitempty"`
	Description    string     `json:"description,omitempty"`
	AddedAt        time.Time  `json:"added_at"`
	LastScraped    *time.Time `json:"last_scraped,omitempty"`
	ScrapeInterval int        `json:"scrape_interval,omitempty"` // seconds
	ScrapeDelay    int        `json:"scrape_delay,omitempty"`    // seconds
	MaxPosts       int        `json:"max_posts,omitempty"`
	DownloadPosts  bool       `json:"download_posts,omitempty"`
	Disabled       bool       `json:"disabled,omitempty"`
	OutputDir      string     `json:"output_dir,omitempty"`
}

// Source is a registered scrape target.
type Source struct {
	URL    string
	Config Config
}

// BlogName extracts the blog name from a source URL.
func BlogName(sourceURL string) string {
	name := strings.TrimPrefix(sourceURL, "https://")
	name = strings.TrimPrefix(name, "http://")
	name = strings.TrimSpace(strings.SplitN(name, "/", 2)[0])
	return strings.TrimSuffix(name, ".tumblr.com")
}

// Normalize canonicalizes a source URL for use as a registry key.
func Normalize(sourceURL string) string {
	return strings.TrimSuffix(strings.TrimSpace(sourceURL), "/")
}

// Registry is the on-disk mapping from source URL to config. It is read
// at startup and written back after mutations and on exit.
type Registry struct {
	path string

	mu      sync.RWMutex
	sources map[string]Config
	dirty   bool
}

// Load reads the registry file, starting empty when it does not exist.
func Load(path string) (*Registry, error) {
	r := &Registry{path: path, sources: make(map[string]Config)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sources %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &r.sources); err != nil {
		return nil, fmt.Errorf("parse sources %s: %w", path, err)
	}
	return r, nil
}

// Get returns a source's config.
func (r *Registry) Get(sourceURL string) (Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.sources[Normalize(sourceURL)]
	return cfg, ok
}

// Add registers a source. Adding an existing URL updates its config in
// place and reports false; a new source gets added_at set and reports
// true.
func (r *Registry) Add(sourceURL string, cfg Config) bool {
	key := Normalize(sourceURL)

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.sources[key]
	if ok {
		cfg.AddedAt = existing.AddedAt
		if cfg.LastScraped == nil {
			cfg.LastScraped = existing.LastScraped
		}
	} else if cfg.AddedAt.IsZero() {
		cfg.AddedAt = time.Now()
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = filepath.Join("blogs", BlogName(key))
	}
	r.sources[key] = cfg
	r.dirty = true
	return !ok
}

// Remove drops a source. It reports whether the source existed.
func (r *Registry) Remove(sourceURL string) bool {
	key := Normalize(sourceURL)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sources[key]; !ok {
		return false
	}
	delete(r.sources, key)
	r.dirty = true
	return true
}

// TouchScraped records a successful scrape.
func (r *Registry) TouchScraped(sourceURL string, when time.Time) {
	key := Normalize(sourceURL)

	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, ok := r.sources[key]
	if !ok {
		return
	}
	cfg.LastScraped = &when
	r.sources[key] = cfg
	r.dirty = true
}

// List returns all sources sorted by URL. Pass sortBy "added_at" or
// "last_scraped" for recency ordering (newest first).
func (r *Registry) List(sortBy string) []Source {
	r.mu.RLock()
	out := make([]Source, 0, len(r.sources))
	for u, cfg := range r.sources {
		out = append(out, Source{URL: u, Config: cfg})
	}
	r.mu.RUnlock()

	switch sortBy {
	case "added_at":
		sort.Slice(out, func(i, j int) bool {
			return out[i].Config.AddedAt.After(out[j].Config.AddedAt)
		})
	case "last_scraped":
		sort.Slice(out, func(i, j int) bool {
			a, b := out[i].Config.LastScraped, out[j].Config.LastScraped
			if b == nil {
				return a != nil
			}
			if a == nil {
				return false
			}
			return a.After(*b)
		})
	default:
		sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	}
	return out
}

// Active returns enabled sources sorted by URL.
func (r *Registry) Active() []Source {
	all := r.List("")
	out := all[:0]
	for _, s := range all {
		if !s.Config.Disabled {
			out = append(out, s)
		}
	}
	return out
}

// Save writes the registry back to disk via a temp file and rename.
func (r *Registry) Save() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.dirty {
		return nil
	}

	data, err := json.MarshalIndent(r.sources, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sources: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create sources dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write sources: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("swap sources: %w", err)
	}
	r.dirty = false
	return nil
}
