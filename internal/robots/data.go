package robots

import (
	"net/url"
	"time"
)

// Permission modeling

// pathRule is one Allow/Disallow line, already normalized to start with
// "/". wildcard and endAnchor record the two robots.txt path-matching
// extensions this crawler honors (RFC 9309 §2.2.3).
type pathRule struct {
	prefix    string
	wildcard  bool // prefix contains one or more "*" segments
	endAnchor bool // prefix ends in "$" (literal end-of-path match)
}

// ruleSet is the immutable, already-resolved set of rules for one host and
// one user agent, ready for path matching. Built by mapResponseToRuleSet;
// never mutated after construction.
type ruleSet struct {
	host string

	// The user-agent these rules apply to (resolved, not raw)
	userAgent string

	// Path-based rules, evaluated by longest-match
	allowRules    []pathRule
	disallowRules []pathRule

	// Optional crawl delay from robots.txt (Crawl-delay or 1/Request-rate)
	crawlDelay *time.Duration

	sitemaps []string

	// Metadata / observability
	fetchedAt time.Time
	sourceURL string

	// matchedGroup indicates if a user-agent group was matched in robots.txt.
	// False when no group matches, not even wildcard *.
	matchedGroup bool

	// hasGroups indicates if the robots.txt file had any user-agent groups
	// at all. False for a 404 or an empty file — the "allow all" sentinel.
	hasGroups bool
}

type DecisionReason string

const (
	AllowedByRobots     DecisionReason = "allowed_by_robots"
	DisallowedByRobots  DecisionReason = "disallowed_by_robots"
	UserAgentNotMatched DecisionReason = "user_agent_not_matched"
	EmptyRuleSet        DecisionReason = "empty_rule_set"
	NoMatchingRules     DecisionReason = "no_matching_rules"
)

// Decision is the outcome of checking one URL against a host's robots
// rules, including any crawl-delay override discovered for that host.
type Decision struct {
	Url url.URL

	Allowed bool

	// Why this decision was made (for logging/debugging)
	Reason DecisionReason

	// Optional delay override (robots crawl-delay / request-rate)
	CrawlDelay *time.Duration

	// Sitemap URLs accumulated from this host's robots.txt, for §4.D.
	Sitemaps []string
}
