package sources

import (
	"path/filepath"
	"testing"
	"time"
)

func TestBlogName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://example.tumblr.com", "example"},
		{"http://example.tumblr.com/", "example"},
		{"https://example.tumblr.com/tagged/cats", "example"},
		{"https://blog.example.org", "blog.example.org"},
		{"example.tumblr.com", "example"},
	}
	for _, tt := range tests {
		if got := BlogName(tt.in); got != tt.want {
			t.Errorf("BlogName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://example.tumblr.com/", "https://example.tumblr.com"},
		{" https://example.tumblr.com ", "https://example.tumblr.com"},
		{"https://example.tumblr.com", "https://example.tumblr.com"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRegistryAdd(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "sources.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !r.Add("https://example.tumblr.com/", Config{MaxPosts: 100}) {
		t.Error("Add reported existing for a new source")
	}

	cfg, ok := r.Get("https://example.tumblr.com")
	if !ok {
		t.Fatal("source missing after Add")
	}
	if cfg.MaxPosts != 100 {
		t.Errorf("MaxPosts = %d", cfg.MaxPosts)
	}
	if cfg.AddedAt.IsZero() {
		t.Error("AddedAt not set")
	}
	if cfg.OutputDir != filepath.Join("blogs", "example") {
		t.Errorf("OutputDir = %q", cfg.OutputDir)
	}

	// Re-adding updates the config but preserves added_at.
	added := cfg.AddedAt
	if r.Add("https://example.tumblr.com", Config{MaxPosts: 200}) {
		t.Error("Add reported new for an existing source")
	}
	cfg, _ = r.Get("https://example.tumblr.com")
	if cfg.MaxPosts != 200 {
		t.Errorf("MaxPosts = %d after re-add", cfg.MaxPosts)
	}
	if !cfg.AddedAt.Equal(added) {
		t.Errorf("AddedAt changed on re-add: %v", cfg.AddedAt)
	}
}

func TestRegistryRemove(t *testing.T) {
	r, _ := Load(filepath.Join(t.TempDir(), "sources.json"))
	r.Add("https://example.tumblr.com", Config{})

	if !r.Remove("https://example.tumblr.com/") {
		t.Error("Remove reported missing for a registered source")
	}
	if r.Remove("https://example.tumblr.com") {
		t.Error("Remove reported existing for a gone source")
	}
	if _, ok := r.Get("https://example.tumblr.com"); ok {
		t.Error("source still present after Remove")
	}
}

func TestRegistryTouchScraped(t *testing.T) {
	r, _ := Load(filepath.Join(t.TempDir(), "sources.json"))
	r.Add("https://example.tumblr.com", Config{})

	when := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	r.TouchScraped("https://example.tumblr.com/", when)

	cfg, _ := r.Get("https://example.tumblr.com")
	if cfg.LastScraped == nil || !cfg.LastScraped.Equal(when) {
		t.Errorf("LastScraped = %v", cfg.LastScraped)
	}

	// Touching an unknown source is a no-op.
	r.TouchScraped("https://other.tumblr.com", when)
	if _, ok := r.Get("https://other.tumblr.com"); ok {
		t.Error("TouchScraped created a source")
	}
}

func TestRegistryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.json")

	r, _ := Load(path)
	when := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	r.Add("https://a.tumblr.com", Config{Title: "A", DownloadPosts: true})
	r.TouchScraped("https://a.tumblr.com", when)
	if err := r.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	cfg, ok := reloaded.Get("https://a.tumblr.com")
	if !ok {
		t.Fatal("source missing after reload")
	}
	if cfg.Title != "A" || !cfg.DownloadPosts {
		t.Errorf("config = %+v", cfg)
	}
	if cfg.LastScraped == nil || !cfg.LastScraped.Equal(when) {
		t.Errorf("LastScraped = %v", cfg.LastScraped)
	}
}

func TestRegistryListSorting(t *testing.T) {
	r, _ := Load(filepath.Join(t.TempDir(), "sources.json"))

	t0 := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(24 * time.Hour)
	r.Add("https://b.tumblr.com", Config{AddedAt: t0})
	r.Add("https://a.tumblr.com", Config{AddedAt: t1})
	r.TouchScraped("https://b.tumblr.com", t1)

	byURL := r.List("")
	if len(byURL) != 2 || byURL[0].URL != "https://a.tumblr.com" {
		t.Errorf("List(\"\") = %v", urls(byURL))
	}

	byAdded := r.List("added_at")
	if byAdded[0].URL != "https://a.tumblr.com" {
		t.Errorf("List(added_at) = %v", urls(byAdded))
	}

	// Scraped sources sort before never-scraped ones.
	byScraped := r.List("last_scraped")
	if byScraped[0].URL != "https://b.tumblr.com" {
		t.Errorf("List(last_scraped) = %v", urls(byScraped))
	}
}

func TestRegistryActive(t *testing.T) {
	r, _ := Load(filepath.Join(t.TempDir(), "sources.json"))
	r.Add("https://a.tumblr.com", Config{})
	r.Add("https://b.tumblr.com", Config{Disabled: true})

	active := r.Active()
	if len(active) != 1 || active[0].URL != "https://a.tumblr.com" {
		t.Errorf("Active() = %v", urls(active))
	}
}

func urls(list []Source) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.URL
	}
	return out
}
