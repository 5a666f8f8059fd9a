package agent

import (
	"regexp"
	"strings"
)

// Patterns stripped from any string that may reach a channel: absolute
// filesystem paths and long bearer-like tokens.
var (
	absPathRe   = regexp.MustCompile(`/(?:[\w.@-]+/)+[\w.@-]+`)
	candidateRe = regexp.MustCompile(`\b[A-Za-z0-9_-]{20,}\b`)
	keyPrefixes = []string{"sk-", "ghp_", "gho_", "xoxb-", "xoxp-", "eyJ", "AKIA"}
)

// Redact masks sensitive substrings in user-facing error text: absolute
// paths become "[path]" and bearer-like tokens become "[redacted]".
func Redact(s string) string {
	s = absPathRe.ReplaceAllString(s, "[path]")
	s = candidateRe.ReplaceAllStringFunc(s, func(m string) string {
		if looksLikeToken(m) {
			return "[redacted]"
		}
		return m
	})
	return s
}

// looksLikeToken separates credentials from ordinary long identifiers:
// a known key prefix, or a digit mixed into a 20+ char run.
func looksLikeToken(s string) bool {
	for _, p := range keyPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return strings.ContainsAny(s, "0123456789")
}
