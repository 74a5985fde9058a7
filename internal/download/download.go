// Package download fetches the photo media referenced by archived
// posts.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"tumblrvault/internal/jobqueue"
	"tumblrvault/internal/store"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"
)

// Filter narrows which photo posts get their media downloaded.
type Filter struct {
	Tag    string
	Reblog string // reblogged-from blog name
	Origin string // reblogged-root blog name
}

func (f Filter) matches(p *store.StoredPost) bool {
	if f.Tag != "" {
		found := false
		for _, t := range p.Tags {
			if t == f.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Reblog != "" && p.RebloggedFrom != f.Reblog {
		return false
	}
	if f.Origin != "" && p.RebloggedRoot != f.Origin {
		return false
	}
	return true
}

// Options configures a Downloader.
type Options struct {
	OutputDir  string
	Attempts   uint          // per-file retry attempts, default 5
	RetryDelay time.Duration // fixed, default 5s
	Timeout    time.Duration // per request, default 60s
	Logger     *slog.Logger
}

// Downloader fans photo downloads out through a dedup queue keyed by
// post URL, so a post's media is fetched at most once per run however
// many times it gets enqueued.
type Downloader struct {
	client     *http.Client
	queue      *jobqueue.Queue
	cache      *Cache
	outputDir  string
	attempts   uint
	retryDelay time.Duration
	logger     *slog.Logger
}

// New creates a downloader over a downloads cache.
func New(cache *Cache, opts Options) *Downloader {
	if opts.Attempts == 0 {
		opts.Attempts = 5
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = 5 * time.Second
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Downloader{
		client:     &http.Client{Timeout: opts.Timeout},
		queue:      jobqueue.New(),
		cache:      cache,
		outputDir:  opts.OutputDir,
		attempts:   opts.Attempts,
		retryDelay: opts.RetryDelay,
		logger:     opts.Logger,
	}
}

type downloadJob struct {
	postURL   string
	photoURLs []string
}

// Enqueue schedules a photo post's media. Posts of other types, posts
// with no photo URLs and posts already downloaded (unless force) are
// skipped. It reports whether a job was queued.
func (d *Downloader) Enqueue(ctx context.Context, p *store.StoredPost, force bool) bool {
	if p.Type != "photo" {
		return false
	}

	if e, ok := d.cache.Get(p.URL); ok && e.Downloaded && !force {
		return false
	}

	urls := photoURLs(p.Payload)
	if len(urls) == 0 {
		return false
	}

	d.cache.Set(p.URL, Entry{
		Reblog:    p.RebloggedFrom,
		Origin:    p.RebloggedRoot,
		Tags:      p.Tags,
		PhotoURLs: urls,
	})

	return d.enqueueURLs(ctx, p.URL, urls)
}

// Run downloads media for every matching photo post in the archive,
// resuming pending downloads from an earlier interrupted run first. It
// blocks until the queue drains and saves the downloads cache.
func (d *Downloader) Run(ctx context.Context, docs store.DocStore, seen *store.Cache, filter Filter) error {
	for _, postURL := range d.cache.Pending() {
		e, _ := d.cache.Get(postURL)
		stub := &store.StoredPost{
			URL:           postURL,
			Type:          "photo",
			RebloggedFrom: e.Reblog,
			RebloggedRoot: e.Origin,
			Tags:          e.Tags,
		}
		if !filter.matches(stub) {
			continue
		}
		d.enqueueURLs(ctx, postURL, e.PhotoURLs)
	}

	queued := 0
	for _, id := range seen.IDs() {
		entry, _ := seen.Get(id)
		if entry.Type != "photo" {
			continue
		}
		rec, err := docs.FindOne(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if !filter.matches(rec) {
			continue
		}
		if d.Enqueue(ctx, rec, false) {
			queued++
		}
	}

	d.logger.Info("download queue filled", "queued", queued)
	d.queue.Wait()
	return d.cache.Save()
}

// Wait blocks until queued downloads finish.
func (d *Downloader) Wait() { d.queue.Wait() }

func (d *Downloader) enqueueURLs(ctx context.Context, postURL string, urls []string) bool {
	if len(urls) == 0 {
		return false
	}
	return d.queue.Push(postURL, &downloadJob{postURL: postURL, photoURLs: urls},
		func(payload any) error {
			job := payload.(*downloadJob)
			return d.downloadAll(ctx, job.photoURLs)
		},
		func(err error) {
			now := time.Now()
			e, _ := d.cache.Get(postURL)
			if err != nil {
				// Kept pending so the next run retries it.
				d.logger.Warn("post download failed", "post", postURL, "error", err)
				e.Error = err.Error()
			} else {
				e.Error = ""
				e.DownloadedAt = &now
				e.Downloaded = true
			}
			d.cache.Set(postURL, e)
		})
}

func (d *Downloader) downloadAll(ctx context.Context, urls []string) error {
	for _, u := range urls {
		if err := d.downloadOne(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

func (d *Downloader) downloadOne(ctx context.Context, fileURL string) error {
	name := fileName(fileURL)
	if name == "" {
		return fmt.Errorf("no file name in %s", fileURL)
	}
	dest := filepath.Join(d.outputDir, name)

	if _, err := os.Stat(dest); err == nil {
		return nil
	}
	if err := os.MkdirAll(d.outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("User-Agent", "tumblrvault/1.0")

			resp, err := d.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return retry.Unrecoverable(fmt.Errorf("download %s: status %d", fileURL, resp.StatusCode))
			}

			tmp := dest + ".part"
			f, err := os.Create(tmp)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			if _, err := io.Copy(f, resp.Body); err != nil {
				f.Close()
				os.Remove(tmp)
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			if err := os.Rename(tmp, dest); err != nil {
				return retry.Unrecoverable(err)
			}

			d.logger.Info("downloaded", "file", name)
			return nil
		},
		retry.Attempts(d.attempts),
		retry.Delay(d.retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
}

// photoURLs gathers a photo post's media URLs: the post-level
// photo-url-1280, each photoset entry's best size, and any images
// embedded in the caption HTML.
func photoURLs(payload map[string]any) []string {
	var urls []string
	seen := make(map[string]struct{})
	add := func(u string) {
		u = strings.TrimSpace(u)
		if u == "" {
			return
		}
		if _, dup := seen[u]; dup {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	if u, ok := payload["photo-url-1280"].(string); ok {
		add(u)
	}

	if photos, ok := payload["photos"].([]any); ok {
		for _, entry := range photos {
			info, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			if u, ok := info["photo-url-1280"].(string); ok && u != "" {
				add(u)
			} else if u, ok := info["photo-url-500"].(string); ok {
				add(u)
			}
		}
	}

	if caption, ok := payload["photo-caption"].(string); ok {
		for _, u := range inlineImages(caption) {
			add(u)
		}
	}

	return urls
}

// inlineImages extracts <img src> URLs from a fragment of caption HTML.
func inlineImages(fragment string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return nil
	}
	var urls []string
	doc.Find("img[src]").Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("src"); ok && strings.HasPrefix(src, "http") {
			urls = append(urls, src)
		}
	})
	return urls
}

func fileName(fileURL string) string {
	u, err := url.Parse(fileURL)
	if err != nil {
		return ""
	}
	return path.Base(u.Path)
}
