package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"tumblrvault/internal/config"
	"tumblrvault/internal/download"
	"tumblrvault/internal/export"
	"tumblrvault/internal/feed"
	"tumblrvault/internal/lockfile"
	"tumblrvault/internal/scheduler"
	"tumblrvault/internal/scrape"
	"tumblrvault/internal/sources"
	"tumblrvault/internal/store"
)

type scrapeFlags struct {
	stopIfNoNewPosts bool
	maxPosts         int
	start            int
	pageSize         int
	postType         string
	tag              string
}

type daemonFlags struct {
	exportPosts    bool
	downloadPosts  bool
	scrapeInterval int // seconds, 0 = config default
}

type addFlags struct {
	scrapeInterval int
	maxPosts       int
	downloadPosts  bool
}

type downloadFlags struct {
	tag    string
	reblog string
	origin string
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

// splitArgs separates source URLs from an optional trailing data
// directory argument.
func splitArgs(args []string) (urls []string, dataDir string) {
	for _, a := range args {
		if strings.HasPrefix(a, "http") {
			urls = append(urls, sources.Normalize(a))
		} else if dataDir == "" {
			dataDir = a
		}
	}
	return urls, dataDir
}

func resolveDataDir(cfg *config.Config, dir string) string {
	if dir != "" {
		return dir
	}
	return cfg.DataDir
}

// baseURL turns a CLI argument into a blog feed base URL. A bare name
// is treated as a tumblr.com subdomain.
func baseURL(arg string) string {
	if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
		return sources.Normalize(arg)
	}
	return "https://" + arg + ".tumblr.com"
}

// archive bundles the per-directory stores.
type archive struct {
	docs  *store.SQLiteStore
	cache *store.Cache
	posts *store.PostStore
}

func openArchive(dir string) (*archive, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dir, err)
	}

	docs, err := store.Open(filepath.Join(dir, config.PostsDBName))
	if err != nil {
		return nil, err
	}
	cache, err := store.OpenCache(filepath.Join(dir, config.PostsCacheName))
	if err != nil {
		docs.Close()
		return nil, err
	}
	return &archive{docs: docs, cache: cache, posts: store.NewPostStore(docs, cache)}, nil
}

func (a *archive) Close() error {
	if err := a.cache.Save(); err != nil {
		return err
	}
	return a.docs.Close()
}

func newFeedClient(cfg *config.Config, logger *slog.Logger) *feed.Client {
	return feed.NewClient(feed.Options{
		Timeout:    cfg.Fetch.ParseTimeout(),
		Attempts:   cfg.Fetch.Attempts,
		RetryDelay: cfg.Fetch.ParseRetryDelay(),
		UserAgent:  cfg.Fetch.UserAgent,
		Logger:     logger,
	})
}

func runScrape(args []string, opts scrapeFlags) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger()

	target := args[0]
	dir := cfg.DataDir
	if len(args) > 1 {
		dir = args[1]
	}

	// A /tagged/ URL scrapes one tag into its own subdirectory.
	tag := opts.tag
	if idx := strings.Index(target, "/tagged/"); idx >= 0 {
		tag = strings.Trim(target[idx+len("/tagged/"):], "/")
		target = target[:idx]
		dir = filepath.Join(dir, tag)
	}

	lock, err := lockfile.Acquire(dir)
	if err != nil {
		return err
	}
	defer lock.Release()

	registry, err := sources.Load(filepath.Join(dir, config.SourcesFileName))
	if err != nil {
		return err
	}
	srcURL := baseURL(target)
	if _, ok := registry.Get(srcURL); !ok {
		registry.Add(srcURL, sources.Config{})
	}

	arch, err := openArchive(dir)
	if err != nil {
		return err
	}
	defer arch.Close()

	arch.posts.OnNewPost(func(p feed.Post) {
		fmt.Fprintf(os.Stderr, "new post  %s  %s\n", p.Type(), p.URL())
	})

	walker := scrape.NewWalker(newFeedClient(cfg, logger), arch.posts, logger)
	defer walker.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	res, err := walker.Run(ctx, srcURL, scrape.Options{
		Blog:             sources.BlogName(srcURL),
		Start:            opts.start,
		PageSize:         pick(opts.pageSize, cfg.Scrape.PageSize),
		Type:             opts.postType,
		Tag:              tag,
		MaxPosts:         pick(opts.maxPosts, cfg.Scrape.MaxPosts),
		StopIfNoNewPosts: opts.stopIfNoNewPosts,
		PageDelay:        cfg.Scrape.ParsePageDelay(),
		OnProgress: func(p scrape.Progress) {
			fmt.Fprintf(os.Stderr, "fetching... %d/%d (new: %d)\n", p.Fetched, p.Total, p.NewPosts)
		},
	})
	if err != nil {
		return err
	}

	registry.TouchScraped(srcURL, time.Now())
	if err := registry.Save(); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "done (%s): %d posts fetched, %d new\n", res.Reason, res.Fetched, res.NewPosts)
	return nil
}

func runDaemon(args []string, opts daemonFlags) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger()

	_, argDir := splitArgs(args)
	dir := resolveDataDir(cfg, argDir)

	// Held for the daemon's lifetime: the scheduler saves the registry
	// after every run.
	lock, err := lockfile.Acquire(dir)
	if err != nil {
		return err
	}
	defer lock.Release()

	registry, err := sources.Load(filepath.Join(dir, config.SourcesFileName))
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	interval := cfg.Scrape.ParseInterval()
	if opts.scrapeInterval > 0 {
		interval = time.Duration(opts.scrapeInterval) * time.Second
	}

	sched := scheduler.New(registry,
		func(ctx context.Context, src sources.Source) error {
			return scrapeSource(ctx, cfg, dir, src, opts, logger)
		},
		interval,
		cfg.Scrape.ParseDelay(),
		logger,
	)

	err = sched.Run(ctx)
	if saveErr := registry.Save(); saveErr != nil {
		logger.Error("save sources failed", "error", saveErr)
	}
	if errors.Is(err, context.Canceled) {
		return nil // graceful drain
	}
	return err
}

// scrapeSource is one scheduled run for one source: scrape, then the
// optional export and media-download cascade.
func scrapeSource(ctx context.Context, cfg *config.Config, dir string, src sources.Source, opts daemonFlags, logger *slog.Logger) error {
	outDir := src.Config.OutputDir
	if outDir == "" {
		outDir = filepath.Join("blogs", sources.BlogName(src.URL))
	}
	blogDir := filepath.Join(dir, outDir)

	lock, err := lockfile.Acquire(blogDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	arch, err := openArchive(blogDir)
	if err != nil {
		return err
	}
	defer arch.Close()

	walker := scrape.NewWalker(newFeedClient(cfg, logger), arch.posts, logger)
	defer walker.Close()

	res, err := walker.Run(ctx, src.URL, scrape.Options{
		Blog:             sources.BlogName(src.URL),
		PageSize:         cfg.Scrape.PageSize,
		MaxPosts:         pick(src.Config.MaxPosts, cfg.Scrape.MaxPosts),
		StopIfNoNewPosts: cfg.Scrape.StopIfNoNewPosts,
		PageDelay:        cfg.Scrape.ParsePageDelay(),
	})
	if err != nil {
		return err
	}
	logger.Info("scrape finished",
		"source", src.URL, "reason", string(res.Reason),
		"fetched", res.Fetched, "new", res.NewPosts)

	wantDownload := opts.downloadPosts && src.Config.DownloadPosts
	if opts.exportPosts || wantDownload {
		n, err := export.Posts(ctx, arch.docs, arch.cache, filepath.Join(blogDir, config.ExportedPostsName))
		if err != nil {
			logger.Warn("export failed", "source", src.URL, "error", err)
			return nil
		}
		logger.Info("posts exported", "source", src.URL, "count", n)
	}

	if wantDownload {
		dlCache, err := download.OpenCache(filepath.Join(blogDir, config.DownloadsCacheName))
		if err != nil {
			logger.Warn("open downloads cache failed", "source", src.URL, "error", err)
			return nil
		}
		dl := download.New(dlCache, download.Options{
			OutputDir:  filepath.Join(blogDir, config.PhotosDirName),
			Attempts:   cfg.Fetch.Attempts,
			RetryDelay: cfg.Fetch.ParseRetryDelay(),
			Timeout:    cfg.Fetch.ParseTimeout(),
			Logger:     logger,
		})
		if err := dl.Run(ctx, arch.docs, arch.cache, download.Filter{}); err != nil {
			logger.Warn("download failed", "source", src.URL, "error", err)
		}
	}

	return nil
}

func runSourcesAdd(args []string, opts addFlags) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	urls, argDir := splitArgs(args)
	if len(urls) == 0 {
		return errors.New("no source URLs given")
	}
	dir := resolveDataDir(cfg, argDir)

	lock, err := lockfile.Acquire(dir)
	if err != nil {
		return err
	}
	defer lock.Release()

	registry, err := sources.Load(filepath.Join(dir, config.SourcesFileName))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, u := range urls {
		srcCfg, _ := registry.Get(u)
		srcCfg.ScrapeInterval = pick(opts.scrapeInterval, srcCfg.ScrapeInterval)
		srcCfg.MaxPosts = pick(opts.maxPosts, srcCfg.MaxPosts)
		if opts.downloadPosts {
			srcCfg.DownloadPosts = true
		}

		if meta, err := sources.ProbeMetadata(ctx, u); err == nil {
			srcCfg.Title = meta.Title
			srcCfg.Description = meta.Description
		} else {
			fmt.Fprintf(os.Stderr, "metadata probe failed for %s: %v\n", u, err)
		}

		if registry.Add(u, srcCfg) {
			fmt.Printf("added %s\n", u)
		} else {
			fmt.Printf("updated %s\n", u)
		}
	}

	return registry.Save()
}

func runSourcesRemove(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	urls, argDir := splitArgs(args)
	if len(urls) == 0 {
		return errors.New("no source URLs given")
	}
	dir := resolveDataDir(cfg, argDir)

	lock, err := lockfile.Acquire(dir)
	if err != nil {
		return err
	}
	defer lock.Release()

	registry, err := sources.Load(filepath.Join(dir, config.SourcesFileName))
	if err != nil {
		return err
	}

	for _, u := range urls {
		if registry.Remove(u) {
			fmt.Printf("removed %s\n", u)
		} else {
			fmt.Printf("not registered: %s\n", u)
		}
	}

	return registry.Save()
}

func runSourcesList(args []string, sortBy string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	_, argDir := splitArgs(args)
	dir := resolveDataDir(cfg, argDir)

	registry, err := sources.Load(filepath.Join(dir, config.SourcesFileName))
	if err != nil {
		return err
	}

	list := registry.List(sortBy)
	if len(list) == 0 {
		fmt.Println("no sources registered")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "URL\tTITLE\tADDED\tLAST SCRAPED\tFLAGS")
	for _, s := range list {
		lastScraped := "never"
		if s.Config.LastScraped != nil {
			lastScraped = s.Config.LastScraped.Format(time.RFC3339)
		}
		var flags []string
		if s.Config.DownloadPosts {
			flags = append(flags, "download")
		}
		if s.Config.Disabled {
			flags = append(flags, "disabled")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			s.URL, s.Config.Title,
			s.Config.AddedAt.Format(time.RFC3339),
			lastScraped, strings.Join(flags, ","))
	}
	return w.Flush()
}

func runExport(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	_, argDir := splitArgs(args)
	dir := resolveDataDir(cfg, argDir)

	lock, err := lockfile.Acquire(dir)
	if err != nil {
		return err
	}
	defer lock.Release()

	arch, err := openArchive(dir)
	if err != nil {
		return err
	}
	defer arch.Close()

	n, err := export.Posts(context.Background(), arch.docs, arch.cache,
		filepath.Join(dir, config.ExportedPostsName))
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "exported %d posts\n", n)
	return nil
}

func runDownload(args []string, opts downloadFlags) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger()

	_, argDir := splitArgs(args)
	dir := resolveDataDir(cfg, argDir)

	lock, err := lockfile.Acquire(dir)
	if err != nil {
		return err
	}
	defer lock.Release()

	arch, err := openArchive(dir)
	if err != nil {
		return err
	}
	defer arch.Close()

	dlCache, err := download.OpenCache(filepath.Join(dir, config.DownloadsCacheName))
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dl := download.New(dlCache, download.Options{
		OutputDir:  filepath.Join(dir, config.PhotosDirName),
		Attempts:   cfg.Fetch.Attempts,
		RetryDelay: cfg.Fetch.ParseRetryDelay(),
		Timeout:    cfg.Fetch.ParseTimeout(),
		Logger:     logger,
	})

	return dl.Run(ctx, arch.docs, arch.cache, download.Filter{
		Tag:    opts.tag,
		Reblog: opts.reblog,
		Origin: opts.origin,
	})
}

// pick returns the first non-zero value.
func pick(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}
