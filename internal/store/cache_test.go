package store

import (
	"path/filepath"
	"testing"
	"time"
)

func TestCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")

	c, err := OpenCache(path)
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("fresh cache Len() = %d", c.Len())
	}

	added := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	c.Put("1", "https://x.tumblr.com/post/1", "photo", added)
	if err := c.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := OpenCache(path)
	if err != nil {
		t.Fatalf("OpenCache after save: %v", err)
	}
	e, ok := reloaded.Get("1")
	if !ok {
		t.Fatal("entry missing after reload")
	}
	if e.URL != "https://x.tumblr.com/post/1" || e.Type != "photo" {
		t.Errorf("entry = %+v", e)
	}
	if !e.AddedAt.Equal(added) || !e.LastUpdate.Equal(added) {
		t.Errorf("times = %v / %v", e.AddedAt, e.LastUpdate)
	}
}

func TestCachePutIsFirstWriteWins(t *testing.T) {
	c, _ := OpenCache(filepath.Join(t.TempDir(), "cache.json"))

	first := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	later := first.Add(time.Hour)

	c.Put("1", "url-a", "photo", first)
	c.Put("1", "url-b", "text", later)

	e, _ := c.Get("1")
	if e.URL != "url-a" || !e.AddedAt.Equal(first) {
		t.Errorf("Put overwrote existing entry: %+v", e)
	}
}

func TestCacheTouch(t *testing.T) {
	c, _ := OpenCache(filepath.Join(t.TempDir(), "cache.json"))

	first := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	later := first.Add(time.Hour)

	// Touching an unknown id is a no-op.
	c.Touch("1", "url", "photo", first)
	if c.Has("1") {
		t.Fatal("Touch created an entry")
	}

	c.Put("1", "url-a", "photo", first)
	c.Touch("1", "url-b", "photo", later)

	e, _ := c.Get("1")
	if !e.AddedAt.Equal(first) {
		t.Errorf("Touch moved AddedAt to %v", e.AddedAt)
	}
	if !e.LastUpdate.Equal(later) {
		t.Errorf("LastUpdate = %v, want %v", e.LastUpdate, later)
	}
	if e.URL != "url-b" {
		t.Errorf("URL = %q after touch", e.URL)
	}
}

func TestCacheSaveIsNoOpWhenClean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	c, _ := OpenCache(path)

	// Nothing written yet, nothing dirty: the file must not appear.
	if err := c.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := OpenCache(path); err != nil {
		t.Fatalf("reopen: %v", err)
	}

	c.Put("1", "url", "photo", time.Now())
	if err := c.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := c.Save(); err != nil {
		t.Fatalf("second Save: %v", err)
	}
}

func TestCacheIDs(t *testing.T) {
	c, _ := OpenCache(filepath.Join(t.TempDir(), "cache.json"))
	now := time.Now()
	c.Put("1", "u1", "photo", now)
	c.Put("2", "u2", "text", now)

	ids := c.IDs()
	if len(ids) != 2 {
		t.Fatalf("IDs() = %v", ids)
	}
	seen := map[string]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	if !seen["1"] || !seen["2"] {
		t.Errorf("IDs() = %v", ids)
	}
}
