package export

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tumblrvault/internal/feed"
	"tumblrvault/internal/store"
)

func TestPosts(t *testing.T) {
	dir := t.TempDir()
	docs, err := store.Open(filepath.Join(dir, "posts.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer docs.Close()
	cache, err := store.OpenCache(filepath.Join(dir, "cache.json"))
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	posts := store.NewPostStore(docs, cache)

	ctx := context.Background()
	for _, id := range []string{"1", "2"} {
		_, _, err := posts.Upsert(ctx, "x", feed.Post{
			"id":   id,
			"url":  "https://x.tumblr.com/post/" + id,
			"type": "text",
		})
		if err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	path := filepath.Join(dir, "exported.json")
	n, err := Posts(ctx, docs, cache, path)
	if err != nil {
		t.Fatalf("Posts: %v", err)
	}
	if n != 2 {
		t.Errorf("exported %d posts, want 2", n)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	var out map[string]map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("parse export: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("export holds %d entries", len(out))
	}
	if out["1"]["url"] != "https://x.tumblr.com/post/1" {
		t.Errorf("entry 1 = %v", out["1"])
	}
}

func TestPostsSkipsMissingRecords(t *testing.T) {
	dir := t.TempDir()
	docs, err := store.Open(filepath.Join(dir, "posts.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer docs.Close()
	cache, _ := store.OpenCache(filepath.Join(dir, "cache.json"))

	// A cached id with no stored record is skipped, not an error.
	cache.Put("ghost", "https://x.tumblr.com/post/ghost", "text", time.Now())

	path := filepath.Join(dir, "exported.json")
	n, err := Posts(context.Background(), docs, cache, path)
	if err != nil {
		t.Fatalf("Posts: %v", err)
	}
	if n != 0 {
		t.Errorf("exported %d posts, want 0", n)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("export file missing: %v", err)
	}
}
