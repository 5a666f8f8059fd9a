package providers

import "strings"

// Level is the discrete capability tier of a model.
type Level int

const (
	LevelFast Level = iota + 1
	LevelLow
	LevelMedium
	LevelHigh
	LevelUltra
)

var levelNames = map[Level]string{
	LevelFast:   "fast",
	LevelLow:    "low",
	LevelMedium: "medium",
	LevelHigh:   "high",
	LevelUltra:  "ultra",
}

func (l Level) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return "medium"
}

// Priority returns the ordering rank: fast=1 < low=2 < medium=3 < high=4 < ultra=5.
func (l Level) Priority() int { return int(l) }

// ParseLevel resolves a level name case-insensitively. Unknown names map to medium.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fast":
		return LevelFast
	case "low":
		return LevelLow
	case "medium":
		return LevelMedium
	case "high":
		return LevelHigh
	case "ultra":
		return LevelUltra
	default:
		return LevelMedium
	}
}

// ModelCapability describes one concrete model in a provider's pool.
type ModelCapability struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	Level    Level  `json:"-"`
	Vision   bool   `json:"vision"`
	Think    bool   `json:"think"`
	Tool     bool   `json:"tool"`

	// Per-level generation parameter overrides. Nil means "use global default".
	MaxTokens        *int     `json:"maxTokens,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	TopK             *int     `json:"topK,omitempty"`
	TopP             *float64 `json:"topP,omitempty"`
	FrequencyPenalty *float64 `json:"frequencyPenalty,omitempty"`
}

// Key returns the fully-qualified model key "<provider>/<id>".
func (c ModelCapability) Key() string {
	return c.Provider + "/" + c.ID
}

// SplitModelKey splits "<provider>/<id>" at the first slash. Model IDs may
// themselves contain slashes (OpenRouter-style), so only the first counts.
func SplitModelKey(key string) (provider, id string) {
	if i := strings.Index(key, "/"); i >= 0 {
		return key[:i], key[i+1:]
	}
	return "", key
}

// MergeOptions overlays the capability's generation parameters onto defaults.
// The returned map is a fresh copy; defaults are not mutated.
func (c ModelCapability) MergeOptions(defaults map[string]interface{}) map[string]interface{} {
	opts := make(map[string]interface{}, len(defaults)+5)
	for k, v := range defaults {
		opts[k] = v
	}
	if c.MaxTokens != nil {
		opts[OptMaxTokens] = *c.MaxTokens
	}
	if c.Temperature != nil {
		opts[OptTemperature] = *c.Temperature
	}
	if c.TopK != nil {
		opts[OptTopK] = *c.TopK
	}
	if c.TopP != nil {
		opts[OptTopP] = *c.TopP
	}
	if c.FrequencyPenalty != nil {
		opts[OptFrequencyPenalty] = *c.FrequencyPenalty
	}
	return opts
}
