package main

import (
	"github.com/spf13/cobra"

	"github.com/rohmanhakim/docs-crawler/internal/engine"
)

var crawlSiteHosts []string

var crawlSitesCmd = &cobra.Command{
	Use:   "crawl-sites {target}",
	Short: "crawl-sites-into: run sitemap discovery over a set of hosts into {target}",
	Long: `crawl-sites mirrors the "crawl-sites-into {target}" verb (spec §6):
each host's robots.txt and sitemap tree is walked (§4.D), every discovered
URL passes the same admission path as crawl, and update-stale governs
whether an already-crawled URL is re-admitted.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := buildConfig()
		exitOnError(err)

		job := engine.Job{
			Target: args[0],
			Kind:   engine.SourceSites,
			Seeds:  crawlSiteHosts,
			Filter: compileFilter(),
		}
		runJob(buildOptions(cfg), job)
	},
}

func init() {
	crawlSitesCmd.Flags().StringArrayVar(&crawlSiteHosts, "site", nil, "a bare hostname to discover and crawl (repeatable); at least one is required")
	crawlSitesCmd.MarkFlagRequired("site")
}
