package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ReActStep is one parsed model reply: think, pick an action, feed it input.
type ReActStep struct {
	Thought     string      `json:"thought"`
	Action      string      `json:"action"`
	ActionInput interface{} `json:"action_input"`
}

// IsFinish reports whether the step terminates the loop.
func (s *ReActStep) IsFinish() bool {
	return strings.EqualFold(strings.TrimSpace(s.Action), "finish")
}

// InputString renders action_input for tool dispatch or the final reply.
// Strings pass through; everything else is JSON-encoded.
func (s *ReActStep) InputString() string {
	switch v := s.ActionInput.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// InputArgs coerces action_input into a tool argument map. A bare string
// becomes {"input": s}; a JSON object passes through.
func (s *ReActStep) InputArgs() map[string]interface{} {
	switch v := s.ActionInput.(type) {
	case map[string]interface{}:
		return v
	case string:
		trimmed := strings.TrimSpace(v)
		if strings.HasPrefix(trimmed, "{") {
			var m map[string]interface{}
			if json.Unmarshal([]byte(trimmed), &m) == nil {
				return m
			}
		}
		return map[string]interface{}{"input": v}
	case nil:
		return map[string]interface{}{}
	default:
		return map[string]interface{}{"input": s.InputString()}
	}
}

// ParseReAct extracts a ReAct step from a model reply. The reply may wrap
// the JSON in prose or a fenced code block; the first balanced top-level
// object wins. Returns nil when no usable step is found.
func ParseReAct(content string) *ReActStep {
	block := firstJSONBlock(content)
	if block == "" {
		return nil
	}

	var step ReActStep
	if err := json.Unmarshal([]byte(block), &step); err != nil {
		return nil
	}
	if strings.TrimSpace(step.Action) == "" {
		return nil
	}
	return &step
}

// firstJSONBlock scans for the first balanced top-level {...}, skipping
// braces inside JSON strings.
func firstJSONBlock(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}
