package agent

import "strings"

var thinkTags = []struct{ open, close string }{
	{"<think>", "</think>"},
	{"<thinking>", "</thinking>"},
}

// SanitizeReply strips reasoning-trace tags some models leak into their
// final answer, then trims leading blank lines.
func SanitizeReply(s string) string {
	lower := strings.ToLower(s)
	for _, tag := range thinkTags {
		for {
			start := strings.Index(lower, tag.open)
			if start < 0 {
				break
			}
			end := strings.Index(lower[start:], tag.close)
			if end < 0 {
				// Unterminated tag: drop the tag itself, keep the text.
				s = s[:start] + s[start+len(tag.open):]
			} else {
				end += start + len(tag.close)
				s = s[:start] + s[end:]
			}
			lower = strings.ToLower(s)
		}
	}
	return strings.TrimLeft(s, " \t\r\n")
}
