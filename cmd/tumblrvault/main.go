package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tumblrvault",
		Short: "Archive Tumblr blogs into a local post store",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "verbose logging")

	root.AddCommand(scrapeCmd())
	root.AddCommand(runCmd())
	root.AddCommand(sourcesCmd())
	root.AddCommand(exportCmd())
	root.AddCommand(downloadCmd())

	return root
}

func scrapeCmd() *cobra.Command {
	var opts scrapeFlags

	cmd := &cobra.Command{
		Use:   "scrape <url> [data-dir]",
		Short: "Scrape one blog's feed into a local archive",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScrape(args, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.stopIfNoNewPosts, "stop-if-no-new-posts", "S", false,
		"stop once a page contributes no new posts")
	cmd.Flags().IntVarP(&opts.maxPosts, "max-posts", "M", 0, "maximum posts to fetch this run")
	cmd.Flags().IntVar(&opts.start, "start", 0, "post offset to start from")
	cmd.Flags().IntVar(&opts.pageSize, "page-size", 0, "posts per page (max 50)")
	cmd.Flags().StringVar(&opts.postType, "type", "", "only scrape posts of this type")
	cmd.Flags().StringVar(&opts.tag, "tag", "", "only scrape posts with this tag")
	return cmd
}

func runCmd() *cobra.Command {
	var opts daemonFlags

	cmd := &cobra.Command{
		Use:   "run [data-dir]",
		Short: "Periodically scrape all registered sources",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.exportPosts, "export-posts", false, "export posts after each scrape")
	cmd.Flags().BoolVar(&opts.downloadPosts, "download-posts", false,
		"download photo media after each scrape (sources opted in via download_posts)")
	cmd.Flags().IntVar(&opts.scrapeInterval, "scrape-interval", 0,
		"default re-scrape interval in seconds, overriding the config")
	return cmd
}

func sourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage the scrape sources registry",
	}

	var addOpts addFlags
	add := &cobra.Command{
		Use:   "add <url>... [data-dir]",
		Short: "Register blogs to scrape",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSourcesAdd(args, addOpts)
		},
	}
	add.Flags().IntVar(&addOpts.scrapeInterval, "scrape-interval", 0, "re-scrape interval in seconds")
	add.Flags().IntVar(&addOpts.maxPosts, "max-posts", 0, "per-run post budget")
	add.Flags().BoolVar(&addOpts.downloadPosts, "download-posts", false, "download this source's photo media")

	remove := &cobra.Command{
		Use:   "remove <url>... [data-dir]",
		Short: "Unregister blogs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSourcesRemove(args)
		},
	}

	var sortBy string
	list := &cobra.Command{
		Use:   "list [data-dir]",
		Short: "List registered sources",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSourcesList(args, sortBy)
		},
	}
	list.Flags().StringVar(&sortBy, "sort", "", "sort by url, added_at or last_scraped")

	cmd.AddCommand(add, remove, list)
	return cmd
}

func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [data-dir]",
		Short: "Export archived posts to a single JSON file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(args)
		},
	}
}

func downloadCmd() *cobra.Command {
	var opts downloadFlags

	cmd := &cobra.Command{
		Use:   "download [data-dir]",
		Short: "Download photo media referenced by archived posts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDownload(args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.tag, "tag", "", "only posts with this tag")
	cmd.Flags().StringVar(&opts.reblog, "reblog", "", "only posts reblogged from this blog")
	cmd.Flags().StringVar(&opts.origin, "origin", "", "only posts originating from this blog")
	return cmd
}
