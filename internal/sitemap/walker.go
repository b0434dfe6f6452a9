package sitemap

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gobwas/glob"

	"github.com/rohmanhakim/docs-crawler/internal/sitemap/cache"
	"github.com/rohmanhakim/docs-crawler/internal/telemetry"
)

const maxRecursionDepth = 5

// Walker discovers candidate URLs for a host by walking its sitemap index
// and urlset documents (§4.D). Sitemaps of a single host are walked
// serially by the caller (via the per-host scheduler) to respect that
// host's crawl delay; Walker itself makes no concurrency decisions.
type Walker struct {
	httpClient *http.Client
	userAgent  string
	cache      cache.Cache
	tel        *telemetry.Telemetry
}

// NewWalker builds a Walker. cache is a sitemap-result cache shared (or
// not) with the robots.txt fetcher; a nil cache disables caching.
func NewWalker(userAgent string, httpClient *http.Client, sitemapCache cache.Cache, tel *telemetry.Telemetry) *Walker {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Walker{httpClient: httpClient, userAgent: userAgent, cache: sitemapCache, tel: tel}
}

// Discover walks the sitemap tree rooted at robotsSitemaps ∪
// {scheme}://{host}/sitemap.xml, returning every <url> entry that passes
// filter (nil filter admits everything). A failed child sitemap is
// logged and skipped, never fatal to the host's discovery pass.
func (w *Walker) Discover(ctx context.Context, scheme, host string, robotsSitemaps []string, filter glob.Glob) ([]Entry, error) {
	queue := []sitemapTask{}
	seen := map[string]bool{}

	for _, loc := range robotsSitemaps {
		queue = append(queue, sitemapTask{loc: loc, depth: 0})
	}
	queue = append(queue, sitemapTask{loc: fmt.Sprintf("%s://%s/sitemap.xml", scheme, host), depth: 0})

	var entries []Entry

	for len(queue) > 0 {
		task := queue[0]
		queue = queue[1:]

		if seen[task.loc] {
			continue
		}
		seen[task.loc] = true

		if task.depth > maxRecursionDepth {
			w.recordError(host, task.loc, ErrCauseMaxDepthExceeded, fmt.Errorf("depth %d exceeds cap %d", task.depth, maxRecursionDepth))
			continue
		}

		children, urls, err := w.fetchOne(ctx, host, task.loc)
		if err != nil {
			// A failed child sitemap is a warning, never fatal (§4.D).
			continue
		}

		for _, u := range urls {
			if filter == nil || filter.Match(u.Loc) {
				entries = append(entries, u)
			}
		}
		for _, child := range children {
			if !seen[child] {
				queue = append(queue, sitemapTask{loc: child, depth: task.depth + 1})
			}
		}
	}

	return entries, nil
}

type sitemapTask struct {
	loc   string
	depth int
}

// fetchOne fetches and parses a single sitemap URL, checking the cache
// first. Returns (child sitemap URLs, leaf url entries, error).
func (w *Walker) fetchOne(ctx context.Context, host, sitemapURL string) ([]string, []Entry, error) {
	if w.cache != nil {
		if cached, ok := w.cache.Get(sitemapURL); ok {
			row, err := decodeCacheRow(cached)
			if err == nil {
				return nil, row.DiscoveredURLs, nil
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		w.recordError(host, sitemapURL, ErrCauseFetchFailure, err)
		return nil, nil, err
	}
	req.Header.Set("User-Agent", w.userAgent)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		w.recordError(host, sitemapURL, ErrCauseFetchFailure, err)
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("unexpected status %d", resp.StatusCode)
		w.recordError(host, sitemapURL, ErrCauseFetchFailure, err)
		return nil, nil, err
	}

	children, urls, err := parseSitemapXML(resp.Body, sitemapURL)
	if err != nil {
		w.recordError(host, sitemapURL, ErrCauseParseFailure, err)
		return nil, nil, err
	}

	// Only documents without child sitemaps are cached: a CacheRow holds
	// no child URLs, so a cached index would hide its children.
	if w.cache != nil && len(children) == 0 {
		row := CacheRow{Host: host, SitemapURL: sitemapURL, DiscoveredURLs: urls, DiscoveredAt: time.Now()}
		if encoded, err := encodeCacheRow(row); err == nil {
			w.cache.Put(sitemapURL, encoded)
		}
	}

	return children, urls, nil
}

// parseSitemapXML distinguishes a sitemapindex from a urlset by the
// elements it actually contains rather than the outer tag name, so a
// misnamed or loosely-typed document is still walked correctly.
func parseSitemapXML(r io.Reader, sourceURL string) (children []string, entries []Entry, err error) {
	base, parseErr := url.Parse(sourceURL)
	if parseErr != nil {
		return nil, nil, parseErr
	}

	decoder := xml.NewDecoder(r)
	decoder.Strict = false

	for {
		tok, tokErr := decoder.Token()
		if tokErr != nil {
			if tokErr == io.EOF {
				return children, entries, nil
			}
			return children, entries, tokErr
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "url":
			var entry xmlURLEntry
			if err := decoder.DecodeElement(&entry, &start); err != nil {
				return children, entries, err
			}
			loc := resolve(base, entry.Loc)
			if loc == "" {
				continue
			}
			entries = append(entries, Entry{Loc: loc, LastMod: parseTimeValue(entry.LastMod)})

		case "sitemap":
			var entry xmlSitemapEntry
			if err := decoder.DecodeElement(&entry, &start); err != nil {
				return children, entries, err
			}
			loc := resolve(base, entry.Loc)
			if loc != "" {
				children = append(children, loc)
			}
		}
	}
}

func resolve(base *url.URL, loc string) string {
	if loc == "" {
		return ""
	}
	ref, err := url.Parse(loc)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(ref)
	resolved.Fragment = ""
	return resolved.String()
}

func (w *Walker) recordError(host, sitemapURL string, cause ErrorCause, err error) {
	if w.tel == nil {
		return
	}
	w.tel.RecordError(telemetry.ErrorRecord{
		PackageName: "sitemap",
		Action:      "discover",
		Cause:       telemetry.CauseNetworkFailure,
		ErrorString: (&SitemapError{SitemapURL: sitemapURL, Cause: cause, Err: err}).Error(),
		ObservedAt:  time.Now(),
		Attrs: []telemetry.Attribute{
			telemetry.NewAttr(telemetry.AttrHost, host),
			telemetry.NewAttr(telemetry.AttrURL, sitemapURL),
		},
	})
}
