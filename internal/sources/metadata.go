package sources

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
)

// Metadata is what the blog's RSS endpoint reveals about itself.
type Metadata struct {
	Title       string
	Description string
}

// ProbeMetadata fetches a blog's /rss feed to pick up its title and
// description for the registry. Tumblr serves RSS alongside the JSON
// feed, so this doubles as a liveness check when adding a source.
func ProbeMetadata(ctx context.Context, sourceURL string) (*Metadata, error) {
	feedURL := Normalize(sourceURL) + "/rss"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create rss request: %w", err)
	}
	req.Header.Set("User-Agent", "tumblrvault/1.0")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rss %s: %w", feedURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rss %s status %d", feedURL, resp.StatusCode)
	}

	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse rss %s: %w", feedURL, err)
	}

	return &Metadata{Title: parsed.Title, Description: parsed.Description}, nil
}
