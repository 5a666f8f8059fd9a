package router

import (
	"sort"
	"strings"

	"github.com/jesspig/micro-agent/internal/providers"
)

// Rule routes content matching any of its keywords to a target level.
type Rule struct {
	Keywords  []string
	MinLength int // 0 = no bound
	MaxLength int // 0 = no bound
	Level     providers.Level
	Priority  int
}

// Matches reports whether the content satisfies the rule: at least one
// keyword present (case-insensitive) and length within bounds.
func (r Rule) Matches(content string) bool {
	n := len(content)
	if r.MinLength > 0 && n < r.MinLength {
		return false
	}
	if r.MaxLength > 0 && n > r.MaxLength {
		return false
	}

	lower := strings.ToLower(content)
	for _, kw := range r.Keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// MatchRules returns the level of the highest-priority matching rule.
func MatchRules(rules []Rule, content string) (providers.Level, bool) {
	ordered := make([]Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority > ordered[j].Priority })

	for _, r := range ordered {
		if r.Matches(content) {
			return r.Level, true
		}
	}
	return 0, false
}
