// Package blocklist decides which seed URLs may be fetched based on configured domain patterns.
package blocklist

import (
	"slices"
	"strings"

	"github.com/JakeFAU/runcalcs-crawler/internal/crawler"
)

// Policy blocks exact hosts and whole domain suffixes. A nil or empty Policy allows everything.
type Policy struct {
	exact    map[string]struct{}
	suffixes []string
}

var _ crawler.FetchPolicy = (*Policy)(nil)

// New builds a Policy from patterns. "example.org" blocks that host only; "*.example.org" and
// ".example.org" block the domain and every subdomain. A leading "www." is ignored throughout.
func New(patterns []string) *Policy {
	p := &Policy{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			p.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			p.addSuffix(strings.TrimPrefix(value, "."))
		default:
			p.exact[strings.TrimPrefix(value, "www.")] = struct{}{}
		}
	}
	return p
}

func (p *Policy) addSuffix(suffix string) {
	suffix = strings.TrimPrefix(suffix, "www.")
	if suffix == "" || slices.Contains(p.suffixes, suffix) {
		return
	}
	p.suffixes = append(p.suffixes, suffix)
}

// Empty reports whether the policy blocks nothing.
func (p *Policy) Empty() bool {
	return p == nil || (len(p.exact) == 0 && len(p.suffixes) == 0)
}

// AllowFetch reports whether rawURL's host is outside every blocked pattern.
func (p *Policy) AllowFetch(rawURL string) bool {
	return !p.Blocked(crawler.Domain(rawURL))
}

// Blocked reports whether host matches a pattern.
func (p *Policy) Blocked(host string) bool {
	if p.Empty() {
		return false
	}
	host = strings.TrimPrefix(strings.TrimSpace(strings.ToLower(host)), "www.")
	if host == "" {
		return false
	}
	if _, ok := p.exact[host]; ok {
		return true
	}
	for _, suffix := range p.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
