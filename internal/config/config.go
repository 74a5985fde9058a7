// Package config loads tumblrvault's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// File names inside a data directory.
const (
	SourcesFileName    = "sources.json"
	PostsDBName        = "tumblr-posts.db"
	PostsCacheName     = "tumblr-posts.json"
	ExportedPostsName  = "tumblr-posts-exported.json"
	DownloadsCacheName = "tumblr-downloads.json"
	PhotosDirName      = "photos"
)

// Config is the root configuration.
type Config struct {
	DataDir  string         `yaml:"data_dir"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Scrape   ScrapeConfig   `yaml:"scrape"`
	Download DownloadConfig `yaml:"download"`
}

// FetchConfig configures the feed client.
type FetchConfig struct {
	Timeout    string `yaml:"timeout"`     // per-attempt, default 60s
	Attempts   uint   `yaml:"attempts"`    // default 5
	RetryDelay string `yaml:"retry_delay"` // fixed, default 5s
	UserAgent  string `yaml:"user_agent"`
}

// ParseTimeout returns the per-attempt fetch timeout.
func (f FetchConfig) ParseTimeout() time.Duration {
	d, err := time.ParseDuration(f.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// ParseRetryDelay returns the delay between retry attempts.
func (f FetchConfig) ParseRetryDelay() time.Duration {
	d, err := time.ParseDuration(f.RetryDelay)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// ScrapeConfig configures scrape runs and the periodic scheduler.
type ScrapeConfig struct {
	PageSize         int    `yaml:"page_size"`  // default and ceiling 50
	PageDelay        string `yaml:"page_delay"` // between pages, default 1s
	Interval         string `yaml:"interval"`   // minimum re-scrape interval, default 30m
	Delay            string `yaml:"delay"`      // settle delay after a run, default 5s
	MaxPosts         int    `yaml:"max_posts"`  // 0 = unbounded
	StopIfNoNewPosts bool   `yaml:"stop_if_no_new_posts"`
}

// ParsePageDelay returns the inter-page pacing delay.
func (s ScrapeConfig) ParsePageDelay() time.Duration {
	d, err := time.ParseDuration(s.PageDelay)
	if err != nil {
		return time.Second
	}
	return d
}

// ParseInterval returns the minimum re-scrape interval.
func (s ScrapeConfig) ParseInterval() time.Duration {
	d, err := time.ParseDuration(s.Interval)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

// ParseDelay returns the settle delay applied after each run.
func (s ScrapeConfig) ParseDelay() time.Duration {
	d, err := time.ParseDuration(s.Delay)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// DownloadConfig configures media downloading.
type DownloadConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		DataDir: ".",
		Fetch: FetchConfig{
			Timeout:    "60s",
			Attempts:   5,
			RetryDelay: "5s",
			UserAgent:  "tumblrvault/1.0",
		},
		Scrape: ScrapeConfig{
			PageSize:         50,
			PageDelay:        "1s",
			Interval:         "30m",
			Delay:            "5s",
			StopIfNoNewPosts: true,
		},
		Download: DownloadConfig{},
	}
}

// Load reads configuration from a YAML file and applies env var
// overrides. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TUMBLRVAULT_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("TUMBLRVAULT_USER_AGENT"); v != "" {
		cfg.Fetch.UserAgent = v
	}
	if v := os.Getenv("TUMBLRVAULT_SCRAPE_INTERVAL"); v != "" {
		cfg.Scrape.Interval = v
	}
}
