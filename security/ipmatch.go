package security

import (
	"net"
	"regexp"
	"strings"
	"sync"
)

// IPMatcher evaluates client IPs against whitelist patterns. Four
// pattern forms are supported: exact IPs, CIDR ranges, globs with '*',
// and hostnames (forward-resolved, with an optional reverse-DNS glob
// match). DNS lookups are injectable for tests.
type IPMatcher struct {
	lookupHost func(host string) ([]string, error)
	lookupAddr func(addr string) ([]string, error)

	globMu    sync.Mutex
	globCache map[string]*regexp.Regexp
}

// NewIPMatcher returns a matcher using the system resolver.
func NewIPMatcher() *IPMatcher {
	return &IPMatcher{
		lookupHost: net.LookupHost,
		lookupAddr: net.LookupAddr,
		globCache:  make(map[string]*regexp.Regexp),
	}
}

// defaultMatcher serves Snapshot.IsAllowed; the glob cache is shared
// across snapshots since patterns rarely change between reloads.
var defaultMatcher = NewIPMatcher()

// Match reports whether ip satisfies pattern.
func (m *IPMatcher) Match(ip, pattern string) bool {
	ip = strings.TrimSpace(ip)
	pattern = strings.TrimSpace(pattern)
	if ip == "" || pattern == "" {
		return false
	}

	// Exact match needs no parsing.
	if ip == pattern {
		return true
	}

	if strings.Contains(pattern, "/") {
		return m.matchCIDR(ip, pattern)
	}
	if strings.Contains(pattern, "*") {
		return m.matchGlob(ip, pattern)
	}
	// A pattern that parses as an IP and failed the exact comparison
	// cannot match; anything else is treated as a hostname.
	if net.ParseIP(pattern) != nil {
		return false
	}
	return m.matchHostname(ip, pattern)
}

// MatchAny reports whether ip satisfies any of the patterns.
func (m *IPMatcher) MatchAny(ip string, patterns []string) bool {
	for _, p := range patterns {
		if m.Match(ip, p) {
			return true
		}
	}
	return false
}

func (m *IPMatcher) matchCIDR(ip, pattern string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	_, network, err := net.ParseCIDR(pattern)
	if err != nil {
		return false
	}
	return network.Contains(parsed)
}

func (m *IPMatcher) matchGlob(ip, pattern string) bool {
	re := m.compileGlob(pattern)
	if re == nil {
		return false
	}
	return re.MatchString(ip)
}

// compileGlob turns a '*' glob into an anchored regexp, compiled once
// per pattern.
func (m *IPMatcher) compileGlob(pattern string) *regexp.Regexp {
	m.globMu.Lock()
	defer m.globMu.Unlock()

	if re, ok := m.globCache[pattern]; ok {
		return re
	}
	expr := "^" + strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, ".*") + "$"
	re, err := regexp.Compile(expr)
	if err != nil {
		re = nil
	}
	m.globCache[pattern] = re
	return re
}

// matchHostname resolves the pattern and compares addresses; failing
// that, it reverse-resolves the client IP and glob-matches the names.
// Any resolved name matching counts as success. Resolution failures are
// treated as non-matches, never as errors.
func (m *IPMatcher) matchHostname(ip, pattern string) bool {
	if addrs, err := m.lookupHost(pattern); err == nil {
		for _, addr := range addrs {
			if addr == ip {
				return true
			}
		}
	}

	names, err := m.lookupAddr(ip)
	if err != nil {
		return false
	}
	for _, name := range names {
		name = strings.TrimSuffix(name, ".")
		if strings.EqualFold(name, pattern) {
			return true
		}
		if strings.Contains(pattern, "*") && m.matchGlob(strings.ToLower(name), strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

// IsAllowed applies the whitelist policy: an IP passes when it is on
// the global whitelist, when the record has no IP restrictions, or when
// it matches one of the record's patterns. A nil record carries no
// restrictions.
func (s *Snapshot) IsAllowed(ip string, rec *ApiKeyRecord) bool {
	return s.isAllowed(defaultMatcher, ip, rec)
}

func (s *Snapshot) isAllowed(m *IPMatcher, ip string, rec *ApiKeyRecord) bool {
	if m.MatchAny(ip, s.globalIPWhitelist) {
		return true
	}
	if rec == nil || len(rec.AllowedIPs) == 0 {
		return true
	}
	return m.MatchAny(ip, rec.AllowedIPs)
}
