package proxy

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/gobwas/glob"
)

// Filter is a compiled capture pattern such as
// "x.com/i/api/graphql/*/UserTweets*". The part before the first slash
// selects hosts to intercept; the whole pattern selects URLs to capture.
type Filter struct {
	Pattern string
	host    glob.Glob
	url     glob.Glob
}

// FilterSet is an immutable list of filters.
type FilterSet struct {
	filters []Filter
}

// CompileFilters compiles patterns. Schemes are ignored; "*" matches any run
// of characters, slashes included.
func CompileFilters(patterns []string) (*FilterSet, error) {
	fs := &FilterSet{}
	for _, raw := range patterns {
		p := strings.TrimSpace(raw)
		p = strings.TrimPrefix(p, "https://")
		p = strings.TrimPrefix(p, "http://")
		if p == "" {
			continue
		}

		hostPart := p
		if i := strings.IndexByte(p, '/'); i >= 0 {
			hostPart = p[:i]
		}
		if hostPart == "" {
			return nil, fmt.Errorf("filter %q has no host", raw)
		}
		// Hosts match case-insensitively; paths do not.
		hostPart = strings.ToLower(hostPart)
		p = hostPart + p[len(hostPart):]

		hg, err := glob.Compile(hostPart)
		if err != nil {
			return nil, fmt.Errorf("invalid host pattern in %q: %w", raw, err)
		}
		if !strings.Contains(p, "/") {
			p += "/*"
		}
		ug, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid filter %q: %w", raw, err)
		}
		fs.filters = append(fs.filters, Filter{Pattern: raw, host: hg, url: ug})
	}
	return fs, nil
}

// Len returns the number of filters.
func (fs *FilterSet) Len() int {
	if fs == nil {
		return 0
	}
	return len(fs.filters)
}

// MatchHost reports whether CONNECTs to host (port optional) are intercepted.
func (fs *FilterSet) MatchHost(host string) bool {
	if fs == nil {
		return false
	}
	h := strings.ToLower(hostname(host))
	for _, f := range fs.filters {
		if f.host.Match(h) {
			return true
		}
	}
	return false
}

// MatchURL reports whether an exchange for u is captured.
func (fs *FilterSet) MatchURL(u *url.URL) bool {
	if fs == nil || u == nil {
		return false
	}
	target := strings.ToLower(hostname(u.Host)) + u.EscapedPath()
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	for _, f := range fs.filters {
		if f.url.Match(target) {
			return true
		}
	}
	return false
}

func hostname(hostport string) string {
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return h
	}
	return strings.Trim(hostport, "[]")
}
