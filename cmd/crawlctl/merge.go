package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/rohmanhakim/docs-crawler/internal/config"
	"github.com/rohmanhakim/docs-crawler/internal/httpfetch"
	"github.com/rohmanhakim/docs-crawler/internal/robots"
	"github.com/rohmanhakim/docs-crawler/internal/sitemap/cache"
	"github.com/rohmanhakim/docs-crawler/internal/storage"
	"github.com/rohmanhakim/docs-crawler/internal/telemetry"
	"github.com/rohmanhakim/docs-crawler/internal/urlmodel"
	"github.com/rohmanhakim/docs-crawler/pkg/hashutil"
	"github.com/rohmanhakim/docs-crawler/pkg/urlutil"
)

var (
	mergeURLs             []string
	mergeMatchedPredicate string
)

var mergeCmd = &cobra.Command{
	Use:   "merge {target}",
	Short: "merge-into: fetch a source URL set fresh and merge it into {target}",
	Long: `merge mirrors the "merge-into {target}" verb (spec §6 / §4.H): the
given URLs are fetched fresh to form the source relation, then merged —
matched rows satisfying --matched-predicate are updated, new URLs are
inserted, and target rows no longer present in the source are tombstoned
(is_deleted = true), never deleted outright.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := buildConfig()
		exitOnError(err)

		tel := telemetry.NewConsole()
		store, err := storage.Open(dsn, args[0], tel)
		exitOnError(err)
		defer store.Close()

		ctx := context.Background()
		exitOnError(store.EnsureSchema(ctx))

		robot := robots.NewCachedRobot(tel, cfg.DefaultCrawlDelay())
		robot.InitWithClient(cfg.UserAgent(), nil, cache.NewMemoryCache())
		fetcher := httpfetch.NewClient(tel)

		var source []urlmodel.ResultRow
		for _, raw := range mergeURLs {
			row, ok := fetchMergeRow(ctx, fetcher, robot, cfg, raw)
			if ok {
				source = append(source, row)
			}
		}

		exitOnError(store.Merge(ctx, source, mergeMatchedPredicate))
		fmt.Printf("merged %d source row(s) into %q\n", len(source), args[0])
	},
}

func init() {
	mergeCmd.Flags().StringArrayVar(&mergeURLs, "url", nil, "a URL in the merge source set (repeatable); at least one is required")
	mergeCmd.Flags().StringVar(&mergeMatchedPredicate, "matched-predicate", "1=1", "SQL boolean expression over the target's own columns gating the MATCHED update clause")
	mergeCmd.MarkFlagRequired("url")
}

// mergeRobotsGate is the narrow slice of internal/robots this file needs;
// robots.NewCachedRobot returns an unexported type, so it is held through
// an interface here the same way internal/engine holds it.
type mergeRobotsGate interface {
	Decide(u url.URL) (robots.Decision, error)
}

// fetchMergeRow fetches one URL for the merge source relation. A URL that
// fails admission (unparseable, non-http, robots-disallowed) is dropped
// from the source entirely rather than producing an error row — §4.H's
// vanishing-source clause then tombstones it if it was previously merged
// in, which is the correct outcome for a URL that is no longer reachable.
func fetchMergeRow(ctx context.Context, fetcher *httpfetch.Client, robot mergeRobotsGate, cfg config.Config, raw string) (urlmodel.ResultRow, bool) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return urlmodel.ResultRow{}, false
	}
	canonical := urlutil.Canonicalize(*parsed)
	if !urlutil.IsHTTPHost(canonical) {
		return urlmodel.ResultRow{}, false
	}

	decision, err := robot.Decide(canonical)
	if err != nil || !decision.Allowed {
		return urlmodel.ResultRow{}, false
	}

	param := httpfetch.NewFetchParam(canonical, cfg.UserAgent(), cfg.Timeout(), cfg.MaxResponseBytes())
	param.AcceptEncoding = cfg.Compress()
	param.ContentTypeAccept = cfg.AcceptContentTypes()
	param.ContentTypeReject = cfg.RejectContentTypes()

	result, fetchErr := fetcher.Fetch(ctx, param)
	now := time.Now()
	surtKey := urlutil.SURTKey(canonical)

	if fetchErr != nil {
		errType := urlmodel.ErrUnknown
		var classified *httpfetch.FetchError
		if errors.As(fetchErr, &classified) {
			errType = classified.URLModelErrorType()
		}
		return urlmodel.ResultRow{
			URL:        canonical.String(),
			SurtKey:    surtKey,
			Domain:     canonical.Hostname(),
			HTTPStatus: result.Status,
			ElapsedMs:  result.ElapsedMs,
			CrawledAt:  now,
			Error:      fetchErr.Error(),
			ErrorType:  errType,
		}, true
	}

	var hash string
	if len(result.Body) > 0 {
		hash, _ = hashutil.HashBytes(result.Body, hashutil.HashAlgoSHA256)
	}
	return urlmodel.ResultRow{
		URL:          result.FinalURL.String(),
		SurtKey:      surtKey,
		Domain:       canonical.Hostname(),
		HTTPStatus:   result.Status,
		Body:         result.Body,
		ContentType:  result.Headers.ContentType,
		ElapsedMs:    result.ElapsedMs,
		CrawledAt:    now,
		ETag:         result.Headers.ETag,
		LastModified: result.Headers.LastModified,
		ContentHash:  hash,
	}, true
}
