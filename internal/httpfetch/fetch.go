package httpfetch

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gobwas/glob"

	"github.com/rohmanhakim/docs-crawler/internal/telemetry"
)

// Client performs single conditional-GET fetches per §4.C. It owns no
// per-host state — the scheduler decides when a fetch is allowed to
// happen; Client only decides how one happens.
type Client struct {
	transport *http.Transport
	tel       *telemetry.Telemetry
}

// NewClient builds a Client with a transport tuned for many distinct
// hosts: connections are pooled and reused per host when keep-alive is
// possible, matching §5's "Connection pool" resource note.
func NewClient(tel *telemetry.Telemetry) *Client {
	return &Client{
		transport: &http.Transport{
			MaxIdleConns:        256,
			MaxIdleConnsPerHost: 8,
			IdleConnTimeout:     90 * time.Second,
			DisableCompression:  true, // we request and decode encodings ourselves, including br
		},
		tel: tel,
	}
}

// Fetch issues one GET honoring param's conditional headers, redirect
// cap, decompression, size cap, and content-type gate.
func (c *Client) Fetch(ctx context.Context, param FetchParam) (FetchResult, error) {
	start := time.Now()

	fetchCtx := ctx
	var cancel context.CancelFunc
	if param.Timeout > 0 {
		fetchCtx, cancel = context.WithTimeout(ctx, param.Timeout)
		defer cancel()
	}

	httpClient := &http.Client{
		Transport:     c.transport,
		CheckRedirect: checkRedirect,
	}

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, param.URL.String(), nil)
	if err != nil {
		return c.fail(param, start, ErrUnknown, err)
	}
	applyRequestHeaders(req, param)

	resp, err := httpClient.Do(req)
	if err != nil {
		return c.fail(param, start, classifyTransportError(err), err)
	}
	defer resp.Body.Close()

	elapsed := time.Since(start).Milliseconds()
	headers := extractHeaders(resp)
	finalURL := param.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = *resp.Request.URL
	}

	if resp.StatusCode == http.StatusNotModified {
		return FetchResult{
			Status:      resp.StatusCode,
			Headers:     headers,
			ElapsedMs:   elapsed,
			FinalURL:    finalURL,
			NotModified: true,
		}, nil
	}

	if errType := classifyStatus(resp.StatusCode, headers); errType != ErrNone {
		return c.fail(param, start, errType, statusError(resp.StatusCode))
	}

	if headers.ContentLength > 0 && headers.ContentLength > param.MaxBytes {
		return c.fail(param, start, ErrContentTooLarge, errContentTooLarge)
	}

	if rejected := gateContentType(headers.ContentType, param.ContentTypeAccept, param.ContentTypeReject); rejected {
		return c.fail(param, start, ErrContentTypeRejected, errContentTypeRejected)
	}

	reader, err := decompressingReader(resp)
	if err != nil {
		return c.fail(param, start, ErrUnknown, err)
	}

	body, err := readBounded(reader, param.MaxBytes)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			return c.fail(param, start, ErrContentTooLarge, err)
		}
		return c.fail(param, start, ErrUnknown, err)
	}

	return FetchResult{
		Status:    resp.StatusCode,
		Headers:   headers,
		Body:      body,
		ElapsedMs: time.Since(start).Milliseconds(),
		FinalURL:  finalURL,
	}, nil
}

func (c *Client) fail(param FetchParam, start time.Time, errType ErrorType, cause error) (FetchResult, error) {
	fetchErr := &FetchError{Message: cause.Error(), Type: errType, Retryable: retryableFor(errType)}
	if c.tel != nil {
		c.tel.RecordError(telemetry.ErrorRecord{
			PackageName: "httpfetch",
			Action:      "Fetch",
			Cause:       toTelemetryCause(errType),
			ErrorString: fetchErr.Error(),
			ObservedAt:  time.Now(),
			Attrs: []telemetry.Attribute{
				telemetry.NewAttr(telemetry.AttrURL, param.URL.String()),
				telemetry.NewAttr(telemetry.AttrErrorType, string(errType)),
			},
		})
	}
	return FetchResult{
		Status:    0,
		ElapsedMs: time.Since(start).Milliseconds(),
		FinalURL:  param.URL,
		ErrorType: errType,
	}, fetchErr
}

func applyRequestHeaders(req *http.Request, param FetchParam) {
	req.Header.Set("User-Agent", param.UserAgent)
	if param.AcceptEncoding {
		req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	}
	if param.IfNoneMatch != "" {
		req.Header.Set("If-None-Match", param.IfNoneMatch)
	}
	if !param.IfModifiedSince.IsZero() {
		req.Header.Set("If-Modified-Since", param.IfModifiedSince.UTC().Format(http.TimeFormat))
	}
}

// checkRedirect enforces §4.C's redirect cap and rejects a scheme
// downgrade anywhere in the chain (https -> http), regardless of depth.
func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= defaultMaxRedirects {
		return errRedirectLoop
	}
	if via[len(via)-1].URL.Scheme == "https" && req.URL.Scheme == "http" {
		return errRedirectLoop
	}
	return nil
}

func extractHeaders(resp *http.Response) ResponseHeaders {
	headers := ResponseHeaders{
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		Date:         resp.Header.Get("Date"),
		RetryAfter:   resp.Header.Get("Retry-After"),
		ContentType:  resp.Header.Get("Content-Type"),
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			headers.ContentLength = n
		}
	}
	return headers
}

// classifyStatus applies §4.C's status-code error table. ErrNone means
// the response should be read normally.
func classifyStatus(status int, headers ResponseHeaders) ErrorType {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrHTTPRateLimited
	case status == http.StatusServiceUnavailable && headers.RetryAfter != "":
		return ErrHTTPRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusTooEarly:
		// 408 and 425 are promoted to retryable rather than falling into
		// the terminal 4xx bucket below.
		return ErrHTTPClientTimeout
	case status >= 500:
		return ErrHTTPServerError
	case status >= 400:
		return ErrHTTPClientError
	case status >= 300:
		// CheckRedirect follows valid redirects; reaching here means the
		// client gave up on a redirect response itself (e.g. missing
		// Location), which classifies the same as an exhausted chain.
		return ErrRedirectLoop
	default:
		return ErrNone
	}
}

func gateContentType(contentType string, accept, reject []string) bool {
	mediaType := contentType
	if idx := strings.IndexByte(mediaType, ';'); idx >= 0 {
		mediaType = mediaType[:idx]
	}
	mediaType = strings.TrimSpace(mediaType)

	if len(accept) > 0 && !matchesAnyGlob(mediaType, accept) {
		return true
	}
	if len(reject) > 0 && matchesAnyGlob(mediaType, reject) {
		return true
	}
	return false
}

func matchesAnyGlob(value string, patterns []string) bool {
	for _, pattern := range patterns {
		compiled, err := glob.Compile(pattern)
		if err != nil {
			continue
		}
		if compiled.Match(value) {
			return true
		}
	}
	return false
}

// decompressingReader wraps the body in a decoder selected by
// Content-Encoding; an unrecognized encoding is passed through raw
// rather than rejected, since the server is free to ignore our
// Accept-Encoding offer.
func decompressingReader(resp *http.Response) (io.Reader, error) {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "deflate":
		return flate.NewReader(resp.Body), nil
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}

var errBodyTooLarge = errors.New("response body exceeds max_bytes")

// readBounded reads at most maxBytes+1 so an exactly-maxBytes body is
// accepted while anything larger is detected and aborted.
func readBounded(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(r)
	}
	limited := io.LimitReader(r, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > maxBytes {
		return nil, errBodyTooLarge
	}
	return body, nil
}

var (
	errRedirectLoop         = errors.New("redirect limit exceeded or scheme downgrade rejected")
	errContentTooLarge      = errors.New("content-length exceeds max_bytes")
	errContentTypeRejected  = errors.New("content-type rejected by accept/reject filters")
)

func statusError(status int) error {
	return &statusErr{status: status}
}

type statusErr struct{ status int }

func (e *statusErr) Error() string { return "unexpected status " + strconv.Itoa(e.status) }

// classifyTransportError inspects the error chain from http.Client.Do to
// pick the most specific §4.C network cause it can; anything it can't
// place lands on ErrUnknown.
func classifyTransportError(err error) ErrorType {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrNetworkTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrNetworkDNSFailure
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" {
			if strings.Contains(opErr.Err.Error(), "refused") {
				return ErrNetworkConnectionRefuse
			}
		}
	}

	var tlsErr *tls.CertificateVerificationError
	if errors.As(err, &tlsErr) {
		return ErrNetworkSSLError
	}
	if strings.Contains(err.Error(), "tls:") || strings.Contains(err.Error(), "x509:") {
		return ErrNetworkSSLError
	}

	if urlErr, ok := err.(*url.Error); ok {
		if urlErr.Timeout() {
			return ErrNetworkTimeout
		}
		if errors.Is(urlErr.Err, errRedirectLoop) {
			return ErrRedirectLoop
		}
	}

	if strings.Contains(err.Error(), "connection refused") {
		return ErrNetworkConnectionRefuse
	}

	return ErrUnknown
}
