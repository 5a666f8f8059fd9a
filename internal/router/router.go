package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jesspig/micro-agent/internal/providers"
)

// Decision is the router's pick for one LLM call.
type Decision struct {
	Model      string // "<provider>/<id>"
	Capability providers.ModelCapability
	Complexity int
	Reason     string
}

// Router selects a model per turn: intent pre-pass on the first iteration,
// deterministic rule/complexity routing otherwise.
type Router struct {
	registry    *providers.Registry
	rules       []Rule
	params      ScoreParams
	defaultChat string
	intentModel string
	auto        bool
	max         bool
}

type Options struct {
	Rules       []Rule
	Params      ScoreParams
	DefaultChat string // fallback model key when auto is off or pool is empty
	IntentModel string // model key for the intent pre-pass, empty disables it
	Auto        bool
	Max         bool
}

func New(registry *providers.Registry, opts Options) *Router {
	return &Router{
		registry:    registry,
		rules:       opts.Rules,
		params:      opts.Params,
		defaultChat: opts.DefaultChat,
		intentModel: opts.IntentModel,
		auto:        opts.Auto,
		max:         opts.Max,
	}
}

// Select picks a model for the given turn. iteration is 1-based within the
// agent loop; the intent pre-pass only runs on the first iteration.
func (r *Router) Select(ctx context.Context, content string, numTurns int, hasImages bool, iteration int) *Decision {
	if !r.auto {
		return r.defaultDecision("auto routing disabled")
	}

	pool := r.registry.Pool()
	if len(pool) == 0 {
		return r.defaultDecision("empty model pool")
	}

	if iteration <= 1 && r.intentModel != "" {
		if d := r.intentPrePass(ctx, content, hasImages, pool); d != nil {
			return d
		}
	}

	return r.route(content, numTurns, hasImages, pool)
}

func (r *Router) defaultDecision(reason string) *Decision {
	d := &Decision{Model: r.defaultChat, Reason: reason}
	if cap, ok := r.registry.Capability(r.defaultChat); ok {
		d.Capability = cap
	}
	return d
}

// intentPrePass asks a small model to pick from the catalogue. Returns nil
// when the reply is unusable, which falls through to deterministic routing.
func (r *Router) intentPrePass(ctx context.Context, content string, hasImages bool, pool []providers.ModelCapability) *Decision {
	catalogue := make([]providers.ModelCapability, 0, len(pool))
	for _, c := range pool {
		if hasImages && !c.Vision {
			continue
		}
		catalogue = append(catalogue, c)
	}
	if len(catalogue) == 0 {
		return nil
	}

	var sb strings.Builder
	for _, c := range catalogue {
		fmt.Fprintf(&sb, "- %s (level=%s vision=%t tool=%t)\n", c.Key(), c.Level, c.Vision, c.Tool)
	}

	prompt := fmt.Sprintf(
		"Pick the best model for this request. Reply with JSON only: {\"model\": \"<key>\", \"reason\": \"...\"}\n\nModels:\n%s\nRequest:\n%s",
		sb.String(), content)

	resp, err := r.registry.Chat(ctx, providers.ChatRequest{
		Model:    r.intentModel,
		Messages: []providers.Message{{Role: "user", Content: prompt}},
		Options: map[string]interface{}{
			providers.OptMaxTokens:   200,
			providers.OptTemperature: 0.1,
		},
	})
	if err != nil {
		slog.Warn("intent pre-pass failed", "error", err)
		return nil
	}

	block := firstJSONBlock(resp.Content)
	if block == "" {
		return nil
	}
	var pick struct {
		Model  string `json:"model"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(block), &pick); err != nil {
		return nil
	}

	for _, c := range catalogue {
		if c.Key() == pick.Model || c.ID == pick.Model {
			return &Decision{
				Model:      c.Key(),
				Capability: c,
				Reason:     "intent: " + pick.Reason,
			}
		}
	}
	slog.Debug("intent picked unknown model, falling back", "model", pick.Model)
	return nil
}

// route is the deterministic path: vision override, max mode, rules, then
// complexity bands, with the tool-need filter applied throughout.
func (r *Router) route(content string, numTurns int, hasImages bool, pool []providers.ModelCapability) *Decision {
	score := Complexity(content, numTurns, r.params)
	needTool := NeedsTool(content)

	if hasImages {
		if d := r.pickVision(pool, ComplexityToLevel(score), score); d != nil {
			return d
		}
	}

	target := ComplexityToLevel(score)
	reason := fmt.Sprintf("complexity %d -> %s", score, target)

	if r.max {
		target = providers.LevelUltra
		reason = "max mode -> ultra"
	} else if level, ok := MatchRules(r.rules, content); ok {
		target = level
		reason = "rule match -> " + level.String()
	}

	cap, ok := pickAtLevel(pool, target, false, needTool, r.max)
	if !ok {
		return r.defaultDecision("no candidate in pool")
	}
	return &Decision{
		Model:      cap.Key(),
		Capability: cap,
		Complexity: score,
		Reason:     reason,
	}
}

// pickVision selects the vision model whose level is nearest the target.
func (r *Router) pickVision(pool []providers.ModelCapability, target providers.Level, score int) *Decision {
	cap, ok := pickAtLevel(pool, target, true, false, r.max)
	if !ok {
		return nil
	}
	return &Decision{
		Model:      cap.Key(),
		Capability: cap,
		Complexity: score,
		Reason:     "image message -> vision model " + cap.Key(),
	}
}

// pickAtLevel returns the first candidate at the target level that passes
// the vision/tool filters, falling back to the nearest level otherwise.
func pickAtLevel(pool []providers.ModelCapability, target providers.Level, needVision, needTool, max bool) (providers.ModelCapability, bool) {
	candidates := make([]providers.ModelCapability, 0, len(pool))
	for _, c := range pool {
		if needVision && !c.Vision {
			continue
		}
		if needTool && !c.Tool {
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return providers.ModelCapability{}, false
	}

	for _, c := range candidates {
		if c.Level == target {
			return c, true
		}
	}
	return nearestLevel(candidates, target, max), true
}

// nearestLevel picks among candidates at other levels. With max=true prefer
// equal-or-higher levels, else equal-or-lower; within the preferred side the
// smallest distance wins. When the preferred side is empty, take the global
// extreme in the max direction.
func nearestLevel(candidates []providers.ModelCapability, target providers.Level, max bool) providers.ModelCapability {
	var preferred []providers.ModelCapability
	for _, c := range candidates {
		diff := c.Level.Priority() - target.Priority()
		if (max && diff >= 0) || (!max && diff <= 0) {
			preferred = append(preferred, c)
		}
	}

	if len(preferred) == 0 {
		extreme := candidates[0]
		for _, c := range candidates[1:] {
			if max && c.Level.Priority() > extreme.Level.Priority() {
				extreme = c
			}
			if !max && c.Level.Priority() < extreme.Level.Priority() {
				extreme = c
			}
		}
		return extreme
	}

	best := preferred[0]
	bestDiff := abs(best.Level.Priority() - target.Priority())
	for _, c := range preferred[1:] {
		if d := abs(c.Level.Priority() - target.Priority()); d < bestDiff {
			best, bestDiff = c, d
		}
	}
	return best
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// firstJSONBlock extracts the first balanced top-level {...} block,
// tolerating fenced code and surrounding prose.
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
