package provider

import (
	"regexp"
	"strings"
)

// Match is one secret found in a text.
type Match struct {
	Type  string
	Value string
}

type namedRegex struct {
	name string
	re   *regexp.Regexp
}

// Secret patterns. Order matters: longer shapes go first so a bearer token
// is not half-eaten by the api key pattern.
var secretPatterns = []struct{ name, pattern string }{
	// The whole block, or everything after the header when the footer was cut off.
	{"private_key", `(?s)-----BEGIN[ A-Z]*PRIVATE KEY-----.*?(?:-----END[ A-Z]*PRIVATE KEY-----|$)`},
	{"bearer_token", `Bearer\s+[A-Za-z0-9\-._~+/]+=*`},
	{"api_key", `\b(?:sk-[A-Za-z0-9]{20,}|AIza[0-9A-Za-z\-_]{35}|AKIA[A-Z0-9]{16}|ghp_[A-Za-z0-9]{36}|gho_[A-Za-z0-9]{36}|glpat-[A-Za-z0-9\-]{20,}|xox[baprs]-[A-Za-z0-9\-]{10,})\b`},
	{"password_literal", `(?i)(?:password|passwd|pwd)\s*[:=]\s*\S+`},
}

// Redactor replaces secrets in tool output before it leaves the host.
type Redactor struct {
	detectors []namedRegex
}

// NewRedactor compiles the built-in secret patterns plus extra named
// patterns. Invalid extra patterns are skipped.
func NewRedactor(extra map[string]string) *Redactor {
	r := &Redactor{}
	for _, p := range secretPatterns {
		r.detectors = append(r.detectors, namedRegex{name: p.name, re: regexp.MustCompile(p.pattern)})
	}
	for name, pattern := range extra {
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		r.detectors = append(r.detectors, namedRegex{name: name, re: re})
	}
	return r
}

// Scan returns every secret in text.
func (r *Redactor) Scan(text string) []Match {
	if r == nil {
		return nil
	}
	var matches []Match
	for _, nr := range r.detectors {
		for _, v := range nr.re.FindAllString(text, -1) {
			matches = append(matches, Match{Type: nr.name, Value: v})
		}
	}
	return matches
}

// Redact replaces every match with [REDACTED:<TYPE>]. A nil Redactor
// returns text unchanged.
func (r *Redactor) Redact(text string) string {
	if r == nil {
		return text
	}
	for _, nr := range r.detectors {
		text = nr.re.ReplaceAllString(text, "[REDACTED:"+strings.ToUpper(nr.name)+"]")
	}
	return text
}
