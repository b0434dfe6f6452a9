package robots

import (
	"strings"
	"time"
)

// mapResponseToRuleSet converts a RobotsResponse to an immutable ruleSet.
// It selects the most specific user agent group matching the provided
// user agent string and compiles its rules for path matching.
func mapResponseToRuleSet(response RobotsResponse, targetUserAgent string, fetchedAt time.Time, sourceURL string) ruleSet {
	rs := ruleSet{
		host:      response.Host,
		userAgent: targetUserAgent,
		fetchedAt: fetchedAt,
		sourceURL: sourceURL,
		sitemaps:  response.Sitemaps,
	}

	rs.hasGroups = len(response.UserAgents) > 0

	group := findBestMatchingGroup(response.UserAgents, targetUserAgent)
	if group != nil {
		rs.matchedGroup = true

		rs.allowRules = make([]pathRule, 0, len(group.Allows))
		for _, allow := range group.Allows {
			if allow.Path != "" {
				rs.allowRules = append(rs.allowRules, compilePathRule(allow.Path))
			}
		}

		rs.disallowRules = make([]pathRule, 0, len(group.Disallows))
		for _, disallow := range group.Disallows {
			if disallow.Path != "" {
				rs.disallowRules = append(rs.disallowRules, compilePathRule(disallow.Path))
			}
		}

		if group.CrawlDelay != nil {
			delay := *group.CrawlDelay
			rs.crawlDelay = &delay
		}
	}

	return rs
}

// findBestMatchingGroup finds the most specific user agent group matching
// the target.
// 1. Exact matches take precedence over wildcard matches.
// 2. More specific user-agent strings take precedence over less specific.
// 3. "*" matches all user agents.
func findBestMatchingGroup(groups []UserAgentGroup, targetUserAgent string) *UserAgentGroup {
	var bestMatch *UserAgentGroup
	targetLower := strings.ToLower(targetUserAgent)
	bestMatchLength := 0

	for i := range groups {
		group := &groups[i]

		for _, ua := range group.UserAgents {
			uaLower := strings.ToLower(ua)

			if uaLower == targetLower {
				return group
			}

			if ua == "*" {
				if bestMatch == nil {
					bestMatch = group
				}
				continue
			}

			if strings.HasPrefix(targetLower, uaLower) {
				if len(uaLower) > bestMatchLength {
					bestMatch = group
					bestMatchLength = len(uaLower)
				}
			}
		}
	}

	return bestMatch
}

// normalizePath ensures the path starts with "/".
func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

// compilePathRule normalizes a raw Allow/Disallow path and records whether
// it uses the "*" wildcard or the "$" end-anchor, both evaluated by
// pathRule.matches.
func compilePathRule(raw string) pathRule {
	endAnchor := strings.HasSuffix(raw, "$")
	body := raw
	if endAnchor {
		body = strings.TrimSuffix(body, "$")
	}
	body = normalizePath(body)

	return pathRule{
		prefix:    body,
		wildcard:  strings.Contains(body, "*"),
		endAnchor: endAnchor,
	}
}

// matches reports whether pathWithQuery satisfies this rule, per RFC 9309
// §2.2.3: "*" matches any sequence of characters (including none), and a
// trailing "$" anchors the match to the end of pathWithQuery.
func (p pathRule) matches(pathWithQuery string) bool {
	if !p.wildcard && !p.endAnchor {
		return strings.HasPrefix(pathWithQuery, p.prefix)
	}

	segments := strings.Split(p.prefix, "*")
	pos := 0
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if p.endAnchor && i > 0 && i == len(segments)-1 {
			// The last literal after a "*" must end the path.
			return strings.HasSuffix(pathWithQuery[pos:], seg)
		}
		idx := strings.Index(pathWithQuery[pos:], seg)
		if idx == -1 {
			return false
		}
		if i == 0 && idx != 0 {
			// The literal text before the first "*" must match at pos 0.
			return false
		}
		pos += idx + len(seg)
	}

	if p.endAnchor {
		return pos == len(pathWithQuery) || strings.HasSuffix(p.prefix, "*")
	}
	return true
}

// isAllowed applies the longest-match rule: among all allow/disallow rules
// whose pattern matches pathWithQuery, the longest prefix wins; ties go to
// Allow (per RFC 9309 §2.2.2, "in case of conflicting rules... the least
// restrictive rule is used" is not the letter of the spec, but longest
// match with an allow/disallow tie favors Allow is the conventional,
// widely implemented resolution this crawler follows).
func (rs ruleSet) isAllowed(pathWithQuery string) (bool, DecisionReason) {
	if !rs.hasGroups {
		return true, EmptyRuleSet
	}
	if !rs.matchedGroup {
		return true, UserAgentNotMatched
	}
	if len(rs.allowRules) == 0 && len(rs.disallowRules) == 0 {
		return true, NoMatchingRules
	}

	bestLen := -1
	allowed := true

	for _, rule := range rs.allowRules {
		if rule.matches(pathWithQuery) && len(rule.prefix) >= bestLen {
			bestLen = len(rule.prefix)
			allowed = true
		}
	}
	for _, rule := range rs.disallowRules {
		if rule.matches(pathWithQuery) && len(rule.prefix) > bestLen {
			bestLen = len(rule.prefix)
			allowed = false
		}
	}

	if bestLen == -1 {
		return true, NoMatchingRules
	}
	if allowed {
		return true, AllowedByRobots
	}
	return false, DisallowedByRobots
}

// ruleSet getters

func (r ruleSet) Host() string { return r.host }

func (r ruleSet) UserAgent() string { return r.userAgent }

func (r ruleSet) FetchedAt() time.Time { return r.fetchedAt }

func (r ruleSet) SourceURL() string { return r.sourceURL }

func (r ruleSet) CrawlDelay() *time.Duration {
	if r.crawlDelay == nil {
		return nil
	}
	delay := *r.crawlDelay
	return &delay
}

func (r ruleSet) Sitemaps() []string {
	out := make([]string, len(r.sitemaps))
	copy(out, r.sitemaps)
	return out
}
