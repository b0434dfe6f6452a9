package robots

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rohmanhakim/docs-crawler/internal/sitemap/cache"
)

/*
fetcher fetches and parses robots.txt files per host.

Responsibilities:
- Fetch robots.txt over HTTP
- Parse robots.txt content into a structured RobotsResponse
- Cache fetched results for the lifetime of the crawl run

It returns a parsed RobotsResponse; it makes no allow/disallow decisions.
*/

type fetcher struct {
	httpClient *http.Client
	userAgent  string
	cache      cache.Cache
}

// fetchResult is the outcome of fetching one host's robots.txt.
type fetchResult struct {
	Response    RobotsResponse
	FetchedAt   time.Time
	SourceURL   string
	HTTPStatus  int
	ContentType string
}

// cachedResult is a serializable representation of fetchResult for cache
// storage.
type cachedResult struct {
	Response    RobotsResponse `json:"response"`
	FetchedAt   time.Time      `json:"fetched_at"`
	SourceURL   string         `json:"source_url"`
	HTTPStatus  int            `json:"http_status"`
	ContentType string         `json:"content_type"`
}

func newFetcher(userAgent string, httpClient *http.Client, robotsCache cache.Cache) *fetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &fetcher{httpClient: httpClient, userAgent: userAgent, cache: robotsCache}
}

func cacheKey(scheme, hostname string) string {
	return fmt.Sprintf("%s://%s/robots.txt", scheme, hostname)
}

func serializeResult(result fetchResult) (string, error) {
	data, err := json.Marshal(cachedResult{
		Response:    result.Response,
		FetchedAt:   result.FetchedAt,
		SourceURL:   result.SourceURL,
		HTTPStatus:  result.HTTPStatus,
		ContentType: result.ContentType,
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func deserializeResult(data string) (fetchResult, error) {
	var cached cachedResult
	if err := json.Unmarshal([]byte(data), &cached); err != nil {
		return fetchResult{}, err
	}
	return fetchResult{
		Response:    cached.Response,
		FetchedAt:   cached.FetchedAt,
		SourceURL:   cached.SourceURL,
		HTTPStatus:  cached.HTTPStatus,
		ContentType: cached.ContentType,
	}, nil
}

// Fetch retrieves and parses robots.txt for the given host, bypassing the
// per-host scheduler's crawl delay since robots.txt is itself the policy
// source (§4.D step 1). A 4xx other than 429 means "no robots.txt" and
// allows all; a 429 or any other non-2xx response is returned as a
// retryable RobotsError; the caller (cachedRobot) degrades that to
// "allow all" per §4.D's failure policy rather than failing the crawl.
func (f *fetcher) Fetch(ctx context.Context, scheme, hostname string) (fetchResult, *RobotsError) {
	key := cacheKey(scheme, hostname)
	if f.cache != nil {
		if cachedData, found := f.cache.Get(key); found {
			if result, err := deserializeResult(cachedData); err == nil {
				return result, nil
			}
		}
	}

	start := time.Now()
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", scheme, hostname)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return fetchResult{}, &RobotsError{
			Message:   fmt.Sprintf("failed to create request: %v", err),
			Retryable: false,
			Cause:     ErrCausePreFetchFailure,
		}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/plain,text/html,*/*")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fetchResult{}, &RobotsError{
			Message:   fmt.Sprintf("failed to fetch robots.txt: %v", err),
			Retryable: true,
			Cause:     ErrCauseHttpFetchFailure,
		}
	}
	defer resp.Body.Close()

	var result fetchResult
	var parsingErr *RobotsError

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		result, parsingErr = f.parseSuccessfulResponse(resp, hostname, robotsURL, start)

	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		return fetchResult{}, &RobotsError{
			Message:   fmt.Sprintf("redirect loop or too many redirects for %s", robotsURL),
			Retryable: true,
			Cause:     ErrCauseHttpTooManyRedirects,
		}

	case resp.StatusCode == http.StatusTooManyRequests:
		return fetchResult{}, &RobotsError{
			Message:   fmt.Sprintf("rate limited (429) when fetching %s", robotsURL),
			Retryable: true,
			Cause:     ErrCauseHttpTooManyRequests,
		}

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// 4xx (except 429) means no robots.txt exists: allow all.
		result = fetchResult{
			Response:    RobotsResponse{Host: hostname, Sitemaps: []string{}, UserAgents: []UserAgentGroup{}},
			FetchedAt:   start,
			SourceURL:   robotsURL,
			HTTPStatus:  resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type"),
		}

	case resp.StatusCode >= 500:
		return fetchResult{}, &RobotsError{
			Message:   fmt.Sprintf("server error (%d) when fetching %s", resp.StatusCode, robotsURL),
			Retryable: true,
			Cause:     ErrCauseHttpServerError,
		}

	default:
		return fetchResult{}, &RobotsError{
			Message:   fmt.Sprintf("unexpected status code %d for %s", resp.StatusCode, robotsURL),
			Retryable: true,
			Cause:     ErrCauseHttpUnexpectedStatus,
		}
	}

	if parsingErr != nil {
		return fetchResult{}, parsingErr
	}

	if f.cache != nil {
		if cachedData, err := serializeResult(result); err == nil {
			f.cache.Put(key, cachedData)
		}
	}

	return result, nil
}

func (f *fetcher) parseSuccessfulResponse(resp *http.Response, hostname, sourceURL string, start time.Time) (fetchResult, *RobotsError) {
	const maxSize = 500 * 1024
	content, err := io.ReadAll(io.LimitReader(resp.Body, maxSize+1))
	if err != nil {
		return fetchResult{}, &RobotsError{
			Message:   fmt.Sprintf("failed to read robots.txt body: %v", err),
			Retryable: true,
			Cause:     ErrCauseParseError,
		}
	}
	if len(content) > maxSize {
		content = content[:maxSize]
	}

	parsed := parseRobotsTxt(string(content), hostname)

	return fetchResult{
		Response:    parsed,
		FetchedAt:   start,
		SourceURL:   sourceURL,
		HTTPStatus:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// parseRobotsTxt parses robots.txt content into a structured format.
// Recognized directives: User-agent, Allow, Disallow, Crawl-delay (may be
// fractional seconds), Request-rate (converted to a delay via 1/rate),
// Sitemap. Unknown directives are ignored.
func parseRobotsTxt(content, hostname string) RobotsResponse {
	response := RobotsResponse{Host: hostname, Sitemaps: []string{}, UserAgents: []UserAgentGroup{}}

	scanner := bufio.NewScanner(strings.NewReader(content))

	var currentGroup *UserAgentGroup
	var globalGroup UserAgentGroup
	hasGlobalGroup := false

	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.Index(line, "#"); idx != -1 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		colonIdx := strings.Index(line, ":")
		if colonIdx == -1 {
			continue
		}

		field := strings.ToLower(strings.TrimSpace(line[:colonIdx]))
		value := strings.TrimSpace(line[colonIdx+1:])

		switch field {
		case "user-agent":
			if currentGroup == nil {
				currentGroup = &UserAgentGroup{UserAgents: []string{value}, Allows: []PathRule{}, Disallows: []PathRule{}}
			} else if len(currentGroup.Allows) == 0 && len(currentGroup.Disallows) == 0 && currentGroup.CrawlDelay == nil {
				currentGroup.UserAgents = append(currentGroup.UserAgents, value)
			} else {
				response.UserAgents = append(response.UserAgents, *currentGroup)
				currentGroup = &UserAgentGroup{UserAgents: []string{value}, Allows: []PathRule{}, Disallows: []PathRule{}}
			}

		case "allow":
			if currentGroup != nil {
				currentGroup.Allows = append(currentGroup.Allows, PathRule{Path: value})
			} else {
				globalGroup.Allows = append(globalGroup.Allows, PathRule{Path: value})
				hasGlobalGroup = true
			}

		case "disallow":
			if currentGroup != nil {
				currentGroup.Disallows = append(currentGroup.Disallows, PathRule{Path: value})
			} else {
				globalGroup.Disallows = append(globalGroup.Disallows, PathRule{Path: value})
				hasGlobalGroup = true
			}

		case "crawl-delay":
			if currentGroup != nil {
				var seconds float64
				if _, err := fmt.Sscanf(value, "%f", &seconds); err == nil && seconds >= 0 {
					delay := time.Duration(seconds * float64(time.Second))
					currentGroup.CrawlDelay = &delay
				}
			}

		case "request-rate":
			// Format "<requests>/<seconds>", e.g. "1/5" = 1 request per 5s.
			if currentGroup != nil {
				if delay, ok := parseRequestRate(value); ok {
					currentGroup.CrawlDelay = &delay
				}
			}

		case "sitemap":
			if value != "" {
				response.Sitemaps = append(response.Sitemaps, value)
			}
		}
	}

	if currentGroup != nil {
		if len(currentGroup.Allows) > 0 || len(currentGroup.Disallows) > 0 || currentGroup.CrawlDelay != nil || len(currentGroup.UserAgents) > 0 {
			response.UserAgents = append(response.UserAgents, *currentGroup)
		}
	}

	if hasGlobalGroup && (len(globalGroup.Allows) > 0 || len(globalGroup.Disallows) > 0) {
		globalGroup.UserAgents = []string{"*"}
		response.UserAgents = append([]UserAgentGroup{globalGroup}, response.UserAgents...)
	}

	return response
}

// parseRequestRate converts a "requests/seconds" directive into an
// equivalent per-request delay: delay = seconds / requests.
func parseRequestRate(value string) (time.Duration, bool) {
	parts := strings.SplitN(value, "/", 2)
	if len(parts) != 2 {
		return 0, false
	}
	var requests, seconds float64
	if _, err := fmt.Sscanf(parts[0], "%f", &requests); err != nil || requests <= 0 {
		return 0, false
	}
	if _, err := fmt.Sscanf(parts[1], "%f", &seconds); err != nil || seconds < 0 {
		return 0, false
	}
	return time.Duration(seconds / requests * float64(time.Second)), true
}
