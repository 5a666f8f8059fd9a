package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agents: AgentsConfig{
			Workspace:         "~/.micro-agent/workspace",
			MaxTokens:         4096,
			Temperature:       0.7,
			MaxToolIterations: 20,
			Auto:              true,
		},
		Routing: RoutingConfig{
			Enabled:        true,
			BaseScore:      10,
			LengthWeight:   2,
			CodeBlockScore: 25,
			ToolCallScore:  20,
			MultiTurnScore: 2,
		},
		Memory: MemoryConfig{
			Enabled:                true,
			StoragePath:            "~/.micro-agent/memory",
			SearchLimit:            10,
			ShortTermRetentionDays: 30,
			AutoSummarize:          true,
			SummarizeThreshold:     20,
			IdleTimeout:            "30m",
			MultiEmbed: MultiEmbedConfig{
				Enabled:     true,
				MaxModels:   3,
				AutoMigrate: true,
				BatchSize:   50,
			},
		},
		Channels: ChannelsConfig{
			Console: ConsoleConfig{Enabled: true},
		},
		Telemetry: TelemetryConfig{
			ServiceName: "micro-agent",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			cfg.normalize()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.normalize()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	// Per-provider API keys: MICROAGENT_<NAME>_API_KEY, name uppercased
	// with dashes mapped to underscores.
	for name, pc := range c.Providers {
		envName := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		if v := os.Getenv("MICROAGENT_" + envName + "_API_KEY"); v != "" {
			pc.APIKey = v
			c.Providers[name] = pc
		}
	}

	envStr("MICROAGENT_WORKSPACE", &c.Agents.Workspace)
	envStr("MICROAGENT_CHAT_MODEL", &c.Agents.Models.Chat)
	envStr("MICROAGENT_INTENT_MODEL", &c.Agents.Models.Intent)
	envStr("MICROAGENT_EMBED_MODEL", &c.Agents.Models.Embed)

	envStr("MICROAGENT_MEMORY_PATH", &c.Memory.StoragePath)
	envStr("MICROAGENT_EMBED_API_KEY", &c.Memory.Embedding.APIKey)
	envStr("MICROAGENT_EMBED_API_BASE", &c.Memory.Embedding.APIBase)

	envStr("MICROAGENT_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	if v := os.Getenv("MICROAGENT_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
}

// normalize clamps and fills derived values after load.
func (c *Config) normalize() {
	if c.Agents.MaxToolIterations <= 0 {
		c.Agents.MaxToolIterations = 20
	}
	if c.Memory.SearchLimit <= 0 {
		c.Memory.SearchLimit = 10
	}
	if c.Memory.MultiEmbed.MaxModels < 1 {
		c.Memory.MultiEmbed.MaxModels = 1
	}
	if c.Memory.MultiEmbed.MaxModels > 10 {
		c.Memory.MultiEmbed.MaxModels = 10
	}
	if c.Memory.MultiEmbed.BatchSize <= 0 {
		c.Memory.MultiEmbed.BatchSize = 50
	}
	if c.Skills.Dir == "" {
		c.Skills.Dir = ExpandHome(c.Agents.Workspace) + "/skills"
	}
}

// WorkspacePath returns the expanded workspace path.
func (c *Config) WorkspacePath() string {
	return ExpandHome(c.Agents.Workspace)
}

// MemoryPath returns the expanded memory storage path.
func (c *Config) MemoryPath() string {
	return ExpandHome(c.Memory.StoragePath)
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
