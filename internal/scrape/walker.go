// Package scrape drives incremental scrape runs over a blog's paginated
// feed.
package scrape

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"tumblrvault/internal/feed"
	"tumblrvault/internal/store"
)

// ErrBusy is returned when a run is requested while another run on the
// same walker is still active.
var ErrBusy = errors.New("scrape run already active")

// PageFetcher fetches one page of a feed.
type PageFetcher interface {
	FetchPage(ctx context.Context, baseURL string, q feed.Query) (*feed.Page, error)
}

// StopReason tags why a run ended. All reasons are successful terminal
// states; failures surface as errors instead.
type StopReason string

const (
	// StopExhausted means the feed ran out of pages.
	StopExhausted StopReason = "exhausted"
	// StopNoNewPosts means a page contributed nothing unseen and the
	// run was configured to stop there.
	StopNoNewPosts StopReason = "no-new-posts"
	// StopBudgetExhausted means the fetched-post budget was reached.
	StopBudgetExhausted StopReason = "budget-exhausted"
	// StopAborted means the caller cancelled the run.
	StopAborted StopReason = "aborted"
)

// Progress is reported after every ingested page.
type Progress struct {
	PageSize int // posts on this page
	Fetched  int // posts fetched so far this run
	Total    int // feed's reported total
	NewPosts int // new posts so far this run
}

// Options configures one run.
type Options struct {
	Blog             string // source blog label for stored records
	Start            int    // initial offset
	PageSize         int    // default 50, feed ceiling 50
	Type             string // post type filter
	Tag              string
	Filter           string
	MaxPosts         int // stop once this many posts were fetched; 0 = unbounded
	StopIfNoNewPosts bool
	PageDelay        time.Duration // pacing between pages, default 1s
	OnProgress       func(Progress)
}

// Result summarizes a completed run. Counters are per-run; cumulative
// state lives only in the post store.
type Result struct {
	Reason   StopReason
	Fetched  int
	NewPosts int
}

type lifecycle int

const (
	stateIdle lifecycle = iota
	stateRunning
	stateClosing
)

// Walker walks a feed page by page, in strictly increasing offset
// order, ingesting each page into the post store. A walker runs at most
// one scrape at a time.
type Walker struct {
	client PageFetcher
	posts  *store.PostStore
	logger *slog.Logger

	mu    sync.Mutex
	state lifecycle
}

// NewWalker creates a walker over a fetcher and a post store.
func NewWalker(client PageFetcher, posts *store.PostStore, logger *slog.Logger) *Walker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Walker{client: client, posts: posts, logger: logger}
}

// Busy reports whether a run is active.
func (w *Walker) Busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state != stateIdle
}

// Close flushes the seen-post cache. Called during a run it marks the
// walker for teardown and defers the flush until the run drains.
func (w *Walker) Close() {
	w.mu.Lock()
	if w.state == stateRunning {
		w.state = stateClosing
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()
	w.teardown()
}

func (w *Walker) teardown() {
	if err := w.posts.Cache().Save(); err != nil {
		w.logger.Error("cache flush failed", "error", err)
	}
}

// Run performs one scrape run. It returns ErrBusy when a prior run is
// still active. Cancellation is cooperative: the context is checked at
// page boundaries only, so the fetch timeout bounds abort latency.
func (w *Walker) Run(ctx context.Context, baseURL string, opts Options) (*Result, error) {
	w.mu.Lock()
	if w.state != stateIdle {
		w.mu.Unlock()
		return nil, ErrBusy
	}
	w.state = stateRunning
	w.mu.Unlock()
	defer w.finish()

	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > feed.DefaultPageSize {
		pageSize = feed.DefaultPageSize
	}
	pageDelay := opts.PageDelay
	if pageDelay == 0 {
		pageDelay = time.Second
	}

	offset := opts.Start
	res := &Result{}

	for {
		// FetchingPage
		page, err := w.client.FetchPage(ctx, baseURL, feed.Query{
			Start:  offset,
			Num:    pageSize,
			Type:   opts.Type,
			Tag:    opts.Tag,
			Filter: opts.Filter,
		})
		if err != nil {
			// A cancelled run surfaces from the fetch first; that is an
			// abort, not a fetch failure.
			if ctx.Err() != nil {
				res.Reason = StopAborted
				return res, nil
			}
			return nil, err
		}

		// IngestingPage
		newThisPage := 0
		for _, post := range page.Posts {
			_, isNew, err := w.posts.Upsert(ctx, opts.Blog, post)
			if err != nil {
				return nil, err
			}
			if isNew {
				newThisPage++
			}
		}
		if err := w.posts.Cache().Save(); err != nil {
			return nil, err
		}

		res.Fetched += len(page.Posts)
		res.NewPosts += newThisPage

		w.logger.Info("page ingested",
			"blog", opts.Blog,
			"offset", offset,
			"page_posts", len(page.Posts),
			"new_posts", newThisPage,
			"fetched", res.Fetched,
			"total", page.Total)

		if opts.OnProgress != nil {
			opts.OnProgress(Progress{
				PageSize: len(page.Posts),
				Fetched:  res.Fetched,
				Total:    page.Total,
				NewPosts: res.NewPosts,
			})
		}

		// DecidingNext, in precedence order.
		switch {
		case ctx.Err() != nil:
			res.Reason = StopAborted
			return res, nil
		case opts.StopIfNoNewPosts && newThisPage == 0:
			res.Reason = StopNoNewPosts
			return res, nil
		case opts.MaxPosts > 0 && res.Fetched >= opts.MaxPosts:
			res.Reason = StopBudgetExhausted
			return res, nil
		case len(page.Posts) > 0 && offset+len(page.Posts) < page.Total:
			offset += len(page.Posts)
		default:
			res.Reason = StopExhausted
			return res, nil
		}

		select {
		case <-time.After(pageDelay):
		case <-ctx.Done():
			res.Reason = StopAborted
			return res, nil
		}
	}
}

func (w *Walker) finish() {
	w.mu.Lock()
	closing := w.state == stateClosing
	w.state = stateIdle
	w.mu.Unlock()

	if closing {
		w.teardown()
	}
}
