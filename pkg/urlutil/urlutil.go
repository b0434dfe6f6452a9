package urlutil

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Canonicalize applies a deterministic normalization to a URL, producing a canonical form.
// It maps equivalent URL spellings to a single canonical representation.
//
// The normalization follows these rules:
//   - Scheme and host are lowercased
//   - Path is cleaned (trailing slashes removed, except for root "/")
//   - Fragments are removed
//   - Query is preserved as-is, including order — tracking parameters are not
//     stripped, the crawler is neutral about what a query string means
//   - Default ports are omitted (e.g., :80 for http, :443 for https)
//
// Properties:
//   - Pure: no state, no memory
//   - Deterministic: same input always produces same output
//   - Idempotent: Canonicalize(Canonicalize(url)) == Canonicalize(url)
//   - Context-free: does not depend on crawl history
func Canonicalize(sourceUrl url.URL) url.URL {
	// Create a copy to avoid mutating the original
	canonical := sourceUrl

	// Lowercase scheme and host
	canonical.Scheme = lowerASCII(canonical.Scheme)
	canonical.Host = lowerASCII(canonical.Host)

	// Remove default port if present
	if host, port := canonical.Hostname(), canonical.Port(); port != "" {
		if (canonical.Scheme == "http" && port == "80") ||
			(canonical.Scheme == "https" && port == "443") {
			canonical.Host = host
		}
	}

	// Clean the path: remove trailing slashes (except root). This is an
	// extra normalization beyond the baseline rule set (lowercase host,
	// default-port stripping, fragment removal); it only ever merges
	// two URLs that were already equivalent, so it is harmless for
	// dedup even where it isn't strictly required.
	if len(canonical.Path) > 1 {
		canonical.Path = stripTrailingSlash(canonical.Path)
	}

	// Remove fragment (anchor); query is intentionally left untouched
	canonical.Fragment = ""
	canonical.RawFragment = ""

	return canonical
}

// SURTKey produces a Sort-friendly URL Reordering Transform key: host labels
// reversed and comma-joined, closed with ")", followed by a non-default port
// and the path+query. This groups URLs by host (and subdomain) in a way a
// lexicographic sort keeps adjacent, e.g.
//
//	https://www.example.co.uk/a?b=1 -> uk,co,example,www)/a?b=1
func SURTKey(u url.URL) string {
	canonical := Canonicalize(u)

	host := canonical.Hostname()
	labels := strings.Split(host, ".")
	for i, j := 0, len(labels)-1; i < j; i, j = i+1, j-1 {
		labels[i], labels[j] = labels[j], labels[i]
	}

	var b strings.Builder
	b.WriteString(strings.Join(labels, ","))
	b.WriteByte(')')

	if port := canonical.Port(); port != "" {
		b.WriteByte(':')
		b.WriteString(port)
	}

	path := canonical.EscapedPath()
	if path == "" {
		path = "/"
	}
	b.WriteString(path)

	if canonical.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(canonical.RawQuery)
	}

	return b.String()
}

// Resolve interprets ref relative to base (per RFC 3986) and returns the
// resulting absolute URL, already Canonicalize-d.
func Resolve(base url.URL, ref string) (url.URL, error) {
	parsedRef, err := url.Parse(ref)
	if err != nil {
		return url.URL{}, err
	}

	resolved := base.ResolveReference(parsedRef)
	return Canonicalize(*resolved), nil
}

// IsHTTPHost reports whether u is an absolute http(s) URL with a host the
// crawler is willing to enqueue: a non-empty host that is either a literal
// IP address or sits under a recognized public suffix. This rejects
// single-label junk like "localhost" or a typo'd scheme-relative fragment
// that slipped past link extraction without looking like a real site.
func IsHTTPHost(u url.URL) bool {
	scheme := lowerASCII(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}
	host := u.Hostname()
	if host == "" {
		return false
	}
	if net.ParseIP(host) != nil {
		return true
	}
	_, err := publicsuffix.EffectiveTLDPlusOne(lowerASCII(host))
	return err == nil
}

// RegistrableDomain returns the eTLD+1 of host (e.g. "www.example.co.uk"
// -> "example.co.uk"). Nothing in the crawler calls it. IP literals are
// returned unchanged, since they have no public suffix.
func RegistrableDomain(host string) (string, error) {
	host = lowerASCII(host)
	if net.ParseIP(host) != nil {
		return host, nil
	}
	return publicsuffix.EffectiveTLDPlusOne(host)
}

// lowerASCII converts ASCII characters to lowercase. It returns s as is,
// without allocating, when s has no uppercase ASCII letter.
// This is faster than strings.ToLower for ASCII-only strings.
func lowerASCII(s string) string {
	var needsLower bool
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			needsLower = true
			break
		}
	}
	if !needsLower {
		return s
	}
	b := make([]byte, len(s))
	copy(b, s)
	for i := 0; i < len(b); i++ {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

// stripTrailingSlash removes trailing slashes from a path.
func stripTrailingSlash(path string) string {
	for len(path) > 1 && path[len(path)-1] == '/' {
		path = path[:len(path)-1]
	}
	return path
}
