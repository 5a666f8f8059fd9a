package config

import (
	"time"

	"github.com/titanous/json5"
)

// Config is the root configuration for the agent runtime.
type Config struct {
	Agents    AgentsConfig              `json:"agents"`
	Providers map[string]ProviderConfig `json:"providers,omitempty"`
	Routing   RoutingConfig             `json:"routing"`
	Memory    MemoryConfig              `json:"memory"`
	Skills    SkillsConfig              `json:"skills,omitempty"`
	MCP       MCPConfig                 `json:"mcp,omitempty"`
	Channels  ChannelsConfig            `json:"channels,omitempty"`
	Bus       BusConfig                 `json:"bus,omitempty"`
	Telemetry TelemetryConfig           `json:"telemetry,omitempty"`
}

// AgentsConfig holds executor defaults and the named model slots.
type AgentsConfig struct {
	Workspace         string       `json:"workspace"`
	Models            ModelSlots   `json:"models"`
	MaxTokens         int          `json:"max_tokens"`
	Temperature       float64      `json:"temperature"`
	TopK              int          `json:"top_k,omitempty"`
	TopP              float64      `json:"top_p,omitempty"`
	FrequencyPenalty  float64      `json:"frequency_penalty,omitempty"`
	MaxToolIterations int          `json:"max_tool_iterations"`
	Auto              bool         `json:"auto"` // enable the model router
	Max               bool         `json:"max"`  // prefer higher capability levels
}

// ModelSlots are the named default models, each a "<provider>/<id>" key.
type ModelSlots struct {
	Chat   string `json:"chat"`
	Intent string `json:"intent,omitempty"`
	Vision string `json:"vision,omitempty"`
	Embed  string `json:"embed,omitempty"`
	Coder  string `json:"coder,omitempty"`
}

// ProviderConfig declares one upstream OpenAI-compatible endpoint.
type ProviderConfig struct {
	BaseURL  string      `json:"base_url"`
	APIKey   string      `json:"-"` // env only, never persisted
	Priority int         `json:"priority,omitempty"`
	Models   []ModelSpec `json:"models,omitempty"`
}

// ModelSpec accepts either a bare model id string or a capability object.
type ModelSpec struct {
	ID               string   `json:"id"`
	Level            string   `json:"level,omitempty"`
	Vision           bool     `json:"vision,omitempty"`
	Think            bool     `json:"think,omitempty"`
	Tool             bool     `json:"tool,omitempty"`
	MaxTokens        *int     `json:"maxTokens,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	TopK             *int     `json:"topK,omitempty"`
	TopP             *float64 `json:"topP,omitempty"`
	FrequencyPenalty *float64 `json:"frequencyPenalty,omitempty"`
}

func (m *ModelSpec) UnmarshalJSON(data []byte) error {
	var id string
	if err := json5.Unmarshal(data, &id); err == nil {
		*m = ModelSpec{ID: id}
		return nil
	}
	type raw ModelSpec
	var r raw
	if err := json5.Unmarshal(data, &r); err != nil {
		return err
	}
	*m = ModelSpec(r)
	return nil
}

// RoutingConfig drives the complexity scorer and rule table.
type RoutingConfig struct {
	Enabled        bool         `json:"enabled"`
	Rules          []RuleConfig `json:"rules,omitempty"`
	BaseScore      int          `json:"base_score"`
	LengthWeight   int          `json:"length_weight"`
	CodeBlockScore int          `json:"code_block_score"`
	ToolCallScore  int          `json:"tool_call_score"`
	MultiTurnScore int          `json:"multi_turn_score"`
}

// RuleConfig is one keyword routing rule.
type RuleConfig struct {
	Keywords  []string `json:"keywords"`
	MinLength int      `json:"min_length,omitempty"`
	MaxLength int      `json:"max_length,omitempty"`
	Level     string   `json:"level"`
	Priority  int      `json:"priority"`
}

// MemoryConfig configures the memory store and its migration engine.
type MemoryConfig struct {
	Enabled                bool             `json:"enabled"`
	StoragePath            string           `json:"storage_path"`
	SearchLimit            int              `json:"search_limit"`
	ShortTermRetentionDays int              `json:"short_term_retention_days"`
	AutoSummarize          bool             `json:"auto_summarize"`
	SummarizeThreshold     int              `json:"summarize_threshold"` // turns before a rollup
	IdleTimeout            string           `json:"idle_timeout"`        // Go duration, e.g. "30m"
	Embedding              EmbeddingConfig  `json:"embedding,omitempty"`
	MultiEmbed             MultiEmbedConfig `json:"multi_embed"`
}

// IdleTimeoutDuration parses the idle timeout, defaulting to 30 minutes.
func (m MemoryConfig) IdleTimeoutDuration() time.Duration {
	if d, err := time.ParseDuration(m.IdleTimeout); err == nil && d > 0 {
		return d
	}
	return 30 * time.Minute
}

// EmbeddingConfig selects the embedding endpoint. Empty model disables
// vector indexing; records degrade to fulltext-only.
type EmbeddingConfig struct {
	APIBase string `json:"api_base,omitempty"`
	APIKey  string `json:"-"` // env only
	Model   string `json:"model,omitempty"`
}

// MultiEmbedConfig governs the multi-model vector schema and migration.
type MultiEmbedConfig struct {
	Enabled           bool   `json:"enabled"`
	MaxModels         int    `json:"max_models"` // clamped to 1..10
	AutoMigrate       bool   `json:"auto_migrate"`
	BatchSize         int    `json:"batch_size"`
	MigrateInterval   string `json:"migrate_interval,omitempty"` // empty or "0" = adaptive pacing
	CleanupOldVectors bool   `json:"cleanup_old_vectors,omitempty"`
}

// MigrateIntervalDuration returns the fixed inter-batch interval, or 0 for
// adaptive pacing.
func (m MultiEmbedConfig) MigrateIntervalDuration() time.Duration {
	if d, err := time.ParseDuration(m.MigrateInterval); err == nil && d > 0 {
		return d
	}
	return 0
}

// SkillsConfig configures the markdown skill library.
type SkillsConfig struct {
	Dir       string `json:"dir,omitempty"`        // default <workspace>/skills
	HotReload bool   `json:"hot_reload,omitempty"` // watch the directory for edits
}

// MCPConfig lists external MCP servers whose tools join the registry.
type MCPConfig struct {
	Servers map[string]MCPServerConfig `json:"servers,omitempty"`
}

// MCPServerConfig describes one MCP server process or endpoint.
type MCPServerConfig struct {
	Command string            `json:"command,omitempty"` // stdio transport
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"` // streamable HTTP transport
}

// ChannelsConfig enables the message channels.
type ChannelsConfig struct {
	Console ConsoleConfig `json:"console,omitempty"`

	// RateLimitPerSec throttles outbound delivery across all channels.
	// Zero disables the limiter.
	RateLimitPerSec float64 `json:"rate_limit_per_sec,omitempty"`
}

// ConsoleConfig configures the interactive stdin/stdout channel.
type ConsoleConfig struct {
	Enabled bool `json:"enabled"`
}

// BusConfig bounds the in-process message queues.
type BusConfig struct {
	Capacity int `json:"capacity,omitempty"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}
