package tunnelup

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
)

// URLMatcher is a function type that scans an agent status response for a
// public URL.
//
// URLMatcher follows functional programming principles: it is a pure function
// where the same input always produces the same output. This makes matchers
// easy to test, compose, and reason about.
//
// Parameters:
//   - body: The HTTP response body from the agent's status endpoint
//
// Returns the extracted URL and true, or "" and false if the body contains
// no match. Absence is an expected outcome, not an error: a freshly started
// agent reports an empty tunnel list until registration completes.
//
// Several built-in matchers are provided: [TunnelsAPIMatcher], [RegexMatcher],
// [HostSuffixMatcher], and [FirstMatch] for composition.
//
// # Panic Safety
//
// URLMatcher functions are called within a panic recovery boundary. If a
// matcher panics, the poll attempt is treated as a non-match and the full
// stack trace is logged with a correlation ID. A misbehaving matcher cannot
// crash the supervisor.
type URLMatcher func(body []byte) (string, bool)

// RegexMatcher returns a [URLMatcher] that scans the body for the first
// substring matching a regular expression pattern.
//
// The entire match is returned; capture groups are not required. When the
// body contains multiple matches, the first occurrence wins.
//
// Returns an error if the pattern is invalid.
//
// Example:
//
//	matcher, err := tunnelup.RegexMatcher(`https://[a-z0-9-]+\.trycloudflare\.com`)
func RegexMatcher(pattern string) (URLMatcher, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	return func(body []byte) (string, bool) {
		match := re.Find(body)
		if match == nil {
			return "", false
		}
		return string(match), true
	}, nil
}

// MustRegexMatcher is like [RegexMatcher] but panics if the pattern is invalid.
//
// Use this for compile-time constant patterns where you want to fail fast
// on invalid regex. For runtime patterns, use [RegexMatcher] instead.
//
// Example:
//
//	var matcher = tunnelup.MustRegexMatcher(`https://[a-z0-9-]+\.trycloudflare\.com`)
func MustRegexMatcher(pattern string) URLMatcher {
	matcher, err := RegexMatcher(pattern)
	if err != nil {
		panic("tunnelup: invalid regex pattern: " + err.Error())
	}
	return matcher
}

// NgrokURLMatcher is a [URLMatcher] for the hostnames ngrok assigns to
// anonymous tunnels, covering both the legacy ngrok.io shape and the
// current ngrok-free.app / ngrok-free.dev shapes.
var NgrokURLMatcher = MustRegexMatcher(`https://[a-zA-Z0-9-]+(\.[a-zA-Z0-9-]+)*\.ngrok(-free)?\.(app|dev|io)`)

// urlPattern finds https URL candidates for HostSuffixMatcher. Candidates
// are validated with url.Parse before the suffix check.
var urlPattern = regexp.MustCompile(`https://[^\s"'<>\\]+`)

// HostSuffixMatcher returns a [URLMatcher] that scans the body for https
// URLs and returns the first one whose hostname ends with the given suffix.
//
// The comparison is against the parsed hostname, so query strings and paths
// cannot produce false positives. The suffix comparison is case-insensitive.
//
// Example:
//
//	matcher := tunnelup.HostSuffixMatcher(".ngrok-free.app")
func HostSuffixMatcher(suffix string) URLMatcher {
	lowerSuffix := strings.ToLower(suffix)

	return func(body []byte) (string, bool) {
		for _, candidate := range urlPattern.FindAllString(string(body), -1) {
			parsed, err := url.Parse(candidate)
			if err != nil {
				continue
			}
			if strings.HasSuffix(strings.ToLower(parsed.Hostname()), lowerSuffix) {
				return candidate, true
			}
		}
		return "", false
	}
}

// apiTunnel mirrors one entry of an ngrok-style /api/tunnels document.
type apiTunnel struct {
	Name      string `json:"name"`
	PublicURL string `json:"public_url"`
	Proto     string `json:"proto"`
	Config    struct {
		Addr string `json:"addr"`
	} `json:"config"`
}

// apiTunnelsResponse mirrors the top-level /api/tunnels document.
type apiTunnelsResponse struct {
	Tunnels []apiTunnel `json:"tunnels"`
	URI     string      `json:"uri"`
}

// TunnelsAPIMatcher returns a [URLMatcher] that decodes an ngrok-style
// /api/tunnels JSON document and returns a tunnel's public_url.
//
// Agents typically register an https and an http tunnel for the same local
// port; the first https tunnel is preferred, falling back to the first
// tunnel of any proto. An empty tunnel list, a missing public_url, or a
// non-JSON body all yield a non-match.
//
// Example document:
//
//	{"tunnels": [{"public_url": "https://abc123.ngrok-free.app", "proto": "https", ...}]}
func TunnelsAPIMatcher() URLMatcher {
	return func(body []byte) (string, bool) {
		var resp apiTunnelsResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", false
		}

		first := ""
		for _, t := range resp.Tunnels {
			if t.PublicURL == "" {
				continue
			}
			if t.Proto == "https" {
				return t.PublicURL, true
			}
			if first == "" {
				first = t.PublicURL
			}
		}

		if first != "" {
			return first, true
		}
		return "", false
	}
}

// FirstMatch returns a [URLMatcher] that tries multiple matchers in order,
// returning the first match found.
//
// This is useful for composing matchers with fallback behavior: a structured
// JSON matcher first, a raw pattern scan second.
//
// If no matcher finds a URL, FirstMatch reports a non-match.
//
// Example:
//
//	matcher := tunnelup.FirstMatch(
//	    tunnelup.TunnelsAPIMatcher(),
//	    tunnelup.NgrokURLMatcher,
//	)
func FirstMatch(matchers ...URLMatcher) URLMatcher {
	return func(body []byte) (string, bool) {
		for _, matcher := range matchers {
			if u, ok := matcher(body); ok {
				return u, true
			}
		}
		return "", false
	}
}

// DefaultMatcher is the [URLMatcher] used when no matcher is specified.
//
// DefaultMatcher uses [FirstMatch] to try:
//  1. [TunnelsAPIMatcher] (structured /api/tunnels document)
//  2. [NgrokURLMatcher] (raw scan for known ngrok hostnames)
//
// This covers the common agents without configuration.
var DefaultMatcher = FirstMatch(
	TunnelsAPIMatcher(),
	NgrokURLMatcher,
)
