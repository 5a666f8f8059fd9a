package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Agents.Auto {
		t.Error("auto routing should default on")
	}
	if cfg.Agents.MaxToolIterations != 20 {
		t.Errorf("max_tool_iterations = %d, want 20", cfg.Agents.MaxToolIterations)
	}
	if cfg.Memory.SummarizeThreshold != 20 {
		t.Errorf("summarize_threshold = %d, want 20", cfg.Memory.SummarizeThreshold)
	}
}

func TestLoadJSON5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		// comments are allowed
		agents: {
			workspace: "/tmp/ws",
			models: { chat: "openai/gpt-4o" },
			max: true,
		},
		providers: {
			openai: {
				base_url: "https://api.openai.com/v1",
				models: ["gpt-4o", { id: "gpt-4o-mini", level: "fast", tool: true }],
			},
		},
	}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agents.Models.Chat != "openai/gpt-4o" {
		t.Errorf("chat model = %q", cfg.Agents.Models.Chat)
	}
	if !cfg.Agents.Max {
		t.Error("max should be true")
	}

	p, ok := cfg.Providers["openai"]
	if !ok {
		t.Fatal("openai provider missing")
	}
	if len(p.Models) != 2 {
		t.Fatalf("models = %d, want 2", len(p.Models))
	}
	if p.Models[0].ID != "gpt-4o" {
		t.Errorf("bare string model = %q", p.Models[0].ID)
	}
	if p.Models[1].Level != "fast" || !p.Models[1].Tool {
		t.Errorf("capability model parsed wrong: %+v", p.Models[1])
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MICROAGENT_OPENAI_API_KEY", "sk-test")
	t.Setenv("MICROAGENT_CHAT_MODEL", "openai/gpt-4o-mini")

	path := filepath.Join(t.TempDir(), "config.json")
	content := `{providers: {openai: {base_url: "https://api.openai.com/v1"}}}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers["openai"].APIKey != "sk-test" {
		t.Error("provider API key not overlaid from env")
	}
	if cfg.Agents.Models.Chat != "openai/gpt-4o-mini" {
		t.Error("chat model not overlaid from env")
	}
}

func TestNormalizeClampsMaxModels(t *testing.T) {
	cfg := Default()
	cfg.Memory.MultiEmbed.MaxModels = 99
	cfg.normalize()
	if cfg.Memory.MultiEmbed.MaxModels != 10 {
		t.Errorf("max_models = %d, want 10", cfg.Memory.MultiEmbed.MaxModels)
	}

	cfg.Memory.MultiEmbed.MaxModels = 0
	cfg.normalize()
	if cfg.Memory.MultiEmbed.MaxModels != 1 {
		t.Errorf("max_models = %d, want 1", cfg.Memory.MultiEmbed.MaxModels)
	}
}

func TestIdleTimeoutDuration(t *testing.T) {
	m := MemoryConfig{IdleTimeout: "5m"}
	if got := m.IdleTimeoutDuration().Minutes(); got != 5 {
		t.Errorf("idle timeout = %v min, want 5", got)
	}
	m.IdleTimeout = "garbage"
	if got := m.IdleTimeoutDuration().Minutes(); got != 30 {
		t.Errorf("fallback idle timeout = %v min, want 30", got)
	}
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	if got := ExpandHome("~/x"); got != home+"/x" {
		t.Errorf("ExpandHome(~/x) = %q", got)
	}
	if got := ExpandHome("/abs/path"); got != "/abs/path" {
		t.Errorf("ExpandHome(/abs/path) = %q", got)
	}
}
