// Package scheduler re-scrapes registered sources on their configured
// intervals.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tumblrvault/internal/jobqueue"
	"tumblrvault/internal/sources"
)

// ScrapeFunc performs one scrape run for a source, including any
// export/download cascade the caller wires in.
type ScrapeFunc func(ctx context.Context, src sources.Source) error

// Scheduler triggers scrape runs per source. All runs go through one
// dedup queue keyed by source URL: scrapes are serialized globally (the
// remote service is shared either way) and concurrent triggers for a
// source that is already queued or running are dropped.
type Scheduler struct {
	registry *sources.Registry
	queue    *jobqueue.Queue
	run      ScrapeFunc

	defaultInterval time.Duration
	settleDelay     time.Duration
	logger          *slog.Logger
	now             func() time.Time
}

// New creates a scheduler over a sources registry.
func New(registry *sources.Registry, run ScrapeFunc, defaultInterval, settleDelay time.Duration, logger *slog.Logger) *Scheduler {
	if defaultInterval == 0 {
		defaultInterval = 30 * time.Minute
	}
	if settleDelay == 0 {
		settleDelay = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		registry:        registry,
		queue:           jobqueue.New(),
		run:             run,
		defaultInterval: defaultInterval,
		settleDelay:     settleDelay,
		logger:          logger,
		now:             time.Now,
	}
}

// Trigger enqueues a scrape for a source. A source scraped more
// recently than its interval is skipped (a no-op, not an error) unless
// force is set. It reports false when the source is already queued or
// running.
func (s *Scheduler) Trigger(ctx context.Context, src sources.Source, force bool) bool {
	return s.queue.Push(src.URL, src,
		func(payload any) error {
			src := payload.(sources.Source)

			// Re-read the config: last_scraped may have moved since
			// this trigger was queued.
			if cfg, ok := s.registry.Get(src.URL); ok {
				src.Config = cfg
			}
			if src.Config.Disabled {
				return nil
			}
			if !force && !s.due(src.Config) {
				s.logger.Debug("source not due", "source", src.URL)
				return nil
			}

			s.logger.Info("scraping source", "source", src.URL)
			if err := s.run(ctx, src); err != nil {
				return err
			}
			s.registry.TouchScraped(src.URL, s.now())

			select {
			case <-time.After(s.settleDelay):
			case <-ctx.Done():
			}
			return nil
		},
		func(err error) {
			if err != nil {
				// A failed run never kills the scheduler; the next
				// trigger retries.
				s.logger.Warn("scrape failed", "source", src.URL, "error", err)
			}
			if err := s.registry.Save(); err != nil {
				s.logger.Error("save sources failed", "error", err)
			}
		})
}

func (s *Scheduler) due(cfg sources.Config) bool {
	if cfg.LastScraped == nil {
		return true
	}
	interval := s.defaultInterval
	if cfg.ScrapeInterval > 0 {
		interval = time.Duration(cfg.ScrapeInterval) * time.Second
	}
	return s.now().Sub(*cfg.LastScraped) >= interval
}

// Run starts periodic mode: every active source is scraped immediately
// and then re-armed on a fixed wall-clock interval, independent of run
// duration. Blocks until ctx is cancelled, then drains in-flight work.
func (s *Scheduler) Run(ctx context.Context) error {
	active := s.registry.Active()
	s.logger.Info("scheduler running", "sources", len(active))

	var wg sync.WaitGroup
	for _, src := range active {
		interval := s.defaultInterval
		if src.Config.ScrapeInterval > 0 {
			interval = time.Duration(src.Config.ScrapeInterval) * time.Second
		}

		wg.Add(1)
		go func(src sources.Source, interval time.Duration) {
			defer wg.Done()

			s.Trigger(ctx, src, false)

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.Trigger(ctx, src, false)
				}
			}
		}(src, interval)
	}

	<-ctx.Done()
	wg.Wait()
	s.queue.Wait()
	s.logger.Info("scheduler stopped")
	return ctx.Err()
}

// Wait blocks until queued scrapes finish.
func (s *Scheduler) Wait() { s.queue.Wait() }
