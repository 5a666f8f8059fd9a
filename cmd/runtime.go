package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/jesspig/micro-agent/internal/agent"
	"github.com/jesspig/micro-agent/internal/bus"
	"github.com/jesspig/micro-agent/internal/config"
	"github.com/jesspig/micro-agent/internal/mcp"
	"github.com/jesspig/micro-agent/internal/memory"
	"github.com/jesspig/micro-agent/internal/memory/migration"
	"github.com/jesspig/micro-agent/internal/providers"
	"github.com/jesspig/micro-agent/internal/router"
	"github.com/jesspig/micro-agent/internal/sessions"
	"github.com/jesspig/micro-agent/internal/skills"
	"github.com/jesspig/micro-agent/internal/summarizer"
	"github.com/jesspig/micro-agent/internal/tools"
)

// runtime is the assembled agent process: every long-lived component,
// wired and ready to start.
type runtime struct {
	cfg       *config.Config
	bus       *bus.MessageBus
	gateway   *providers.Registry
	sessions  *sessions.Manager
	executor  *agent.Executor
	toolReg   *tools.Registry
	skills    *skills.Loader
	mcp       *mcp.Manager
	store     *memory.Store
	migration *migration.Engine
	summarize *summarizer.Summarizer
}

func buildRuntime(cfg *config.Config) (*runtime, error) {
	gateway, err := buildGateway(cfg)
	if err != nil {
		return nil, err
	}

	workspace := cfg.WorkspacePath()
	toolReg := tools.NewRegistry()
	toolReg.Register(tools.NewShellExecTool(workspace))
	toolReg.Register(tools.NewReadFileTool(workspace, true))
	toolReg.Register(tools.NewWriteFileTool(workspace, true))
	toolReg.Register(tools.NewListDirTool(workspace, true))
	toolReg.Register(tools.NewWebFetchTool())

	skillLoader := skills.NewLoader(config.ExpandHome(cfg.Skills.Dir))
	if err := skillLoader.Load(); err != nil {
		slog.Warn("skills load failed", "dir", cfg.Skills.Dir, "error", err)
	}

	sessionMgr := sessions.NewManager(filepath.Join(cfg.MemoryPath(), "history"))

	rt := &runtime{
		cfg:      cfg,
		bus:      bus.New(cfg.Bus.Capacity),
		gateway:  gateway,
		sessions: sessionMgr,
		toolReg:  toolReg,
		skills:   skillLoader,
		mcp:      mcp.NewManager(toolReg, cfg.MCP.Servers),
	}

	var mem agent.Memory
	if cfg.Memory.Enabled {
		if err := rt.buildMemory(); err != nil {
			return nil, err
		}
		mem = &memoryAdapter{store: rt.store}
	}

	rt.executor = agent.NewExecutor(agent.ExecutorConfig{
		Gateway:       gateway,
		Router:        buildRouter(cfg, gateway),
		Sessions:      sessionMgr,
		Tools:         toolReg,
		Prompt:        agent.NewPromptBuilder(workspace, skillLoader),
		Memory:        mem,
		MaxIterations: cfg.Agents.MaxToolIterations,
		GenOptions:    genOptions(cfg),
	})

	if cfg.Memory.Enabled && cfg.Memory.AutoSummarize && rt.store != nil {
		rt.summarize = summarizer.New(sessionMgr, gateway, rt.store, summarizer.Options{
			Model:       cfg.Agents.Models.Chat,
			MinMessages: cfg.Memory.SummarizeThreshold,
			IdleTimeout: cfg.Memory.IdleTimeoutDuration(),
		})
	}

	return rt, nil
}

// buildGateway turns the provider table into the registry, deriving served
// patterns from the declared model ids.
func buildGateway(cfg *config.Config) (*providers.Registry, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}

	registry := providers.NewRegistry()
	for name, pc := range cfg.Providers {
		caps := make(map[string]providers.ModelCapability, len(pc.Models))
		patterns := make([]string, 0, len(pc.Models))
		for _, spec := range pc.Models {
			caps[spec.ID] = providers.ModelCapability{
				ID:               spec.ID,
				Provider:         name,
				Level:            providers.ParseLevel(spec.Level),
				Vision:           spec.Vision,
				Think:            spec.Think,
				Tool:             spec.Tool,
				MaxTokens:        spec.MaxTokens,
				Temperature:      spec.Temperature,
				TopK:             spec.TopK,
				TopP:             spec.TopP,
				FrequencyPenalty: spec.FrequencyPenalty,
			}
			patterns = append(patterns, spec.ID)
		}
		if len(patterns) == 0 {
			patterns = []string{"*"}
		}
		registry.Register(&providers.ProviderEntry{
			Provider:     providers.NewOpenAIProvider(name, pc.APIKey, pc.BaseURL),
			BaseURL:      pc.BaseURL,
			Patterns:     patterns,
			Priority:     pc.Priority,
			Capabilities: caps,
		})
	}
	return registry, nil
}

func buildRouter(cfg *config.Config, gateway *providers.Registry) *router.Router {
	rules := make([]router.Rule, 0, len(cfg.Routing.Rules))
	for _, rc := range cfg.Routing.Rules {
		rules = append(rules, router.Rule{
			Keywords:  rc.Keywords,
			MinLength: rc.MinLength,
			MaxLength: rc.MaxLength,
			Level:     providers.ParseLevel(rc.Level),
			Priority:  rc.Priority,
		})
	}
	return router.New(gateway, router.Options{
		Rules: rules,
		Params: router.ScoreParams{
			BaseScore:      cfg.Routing.BaseScore,
			LengthWeight:   cfg.Routing.LengthWeight,
			CodeBlockScore: cfg.Routing.CodeBlockScore,
			ToolCallScore:  cfg.Routing.ToolCallScore,
			MultiTurnScore: cfg.Routing.MultiTurnScore,
		},
		DefaultChat: cfg.Agents.Models.Chat,
		IntentModel: cfg.Agents.Models.Intent,
		Auto:        cfg.Agents.Auto && cfg.Routing.Enabled,
		Max:         cfg.Agents.Max,
	})
}

// buildMemory opens the store and prepares the migration engine when the
// configured embedding model has rows left to cover.
func (rt *runtime) buildMemory() error {
	cfg := rt.cfg

	var embedder providers.Embedder
	modelKey := cfg.Agents.Models.Embed
	if ec := cfg.Memory.Embedding; ec.Model != "" {
		embedder = providers.NewOpenAIEmbedder(ec.APIKey, ec.APIBase, ec.Model)
		if modelKey == "" {
			modelKey = ec.Model
		}
	}

	store, err := memory.Open(cfg.MemoryPath(), memory.StoreOptions{
		Embedder:      embedder,
		ModelKey:      modelKey,
		MaxModels:     cfg.Memory.MultiEmbed.MaxModels,
		RetentionDays: cfg.Memory.ShortTermRetentionDays,
		SearchLimit:   cfg.Memory.SearchLimit,
	})
	if err != nil {
		return err
	}
	rt.store = store

	if !cfg.Memory.MultiEmbed.Enabled || embedder == nil {
		return nil
	}
	engine, err := migration.New(cfg.MemoryPath(), store, embedder, migration.Options{
		TargetModel: modelKey,
		BatchSize:   cfg.Memory.MultiEmbed.BatchSize,
		Interval:    cfg.Memory.MultiEmbed.MigrateIntervalDuration(),
	})
	if err != nil {
		return err
	}
	rt.migration = engine
	store.SetMigrationProbe(engine.Probe())
	return nil
}

// startMigration kicks off or resumes re-embedding when rows are missing
// the current model's vectors.
func (rt *runtime) startMigration(ctx context.Context) {
	if rt.migration == nil || !rt.cfg.Memory.MultiEmbed.AutoMigrate {
		return
	}
	col := memory.ModelIDToVectorColumn(rt.store.ModelKey())
	missing, err := rt.store.CountMissingVectors(col)
	if err != nil {
		slog.Warn("migration check failed", "error", err)
		return
	}
	if missing == 0 {
		return
	}

	var startErr error
	if rt.migration.State().Status == migration.StatusPaused {
		startErr = rt.migration.Resume(ctx)
	} else {
		startErr = rt.migration.Start(ctx)
	}
	if startErr != nil {
		slog.Warn("migration start failed", "error", startErr)
	}
}

func (rt *runtime) shutdown() {
	if rt.migration != nil {
		rt.migration.Stop()
	}
	rt.mcp.Stop()
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			slog.Warn("memory close failed", "error", err)
		}
	}
}

func genOptions(cfg *config.Config) map[string]interface{} {
	opts := map[string]interface{}{}
	if cfg.Agents.MaxTokens > 0 {
		opts[providers.OptMaxTokens] = cfg.Agents.MaxTokens
	}
	if cfg.Agents.Temperature > 0 {
		opts[providers.OptTemperature] = cfg.Agents.Temperature
	}
	if cfg.Agents.TopK > 0 {
		opts[providers.OptTopK] = cfg.Agents.TopK
	}
	if cfg.Agents.TopP > 0 {
		opts[providers.OptTopP] = cfg.Agents.TopP
	}
	if cfg.Agents.FrequencyPenalty != 0 {
		opts[providers.OptFrequencyPenalty] = cfg.Agents.FrequencyPenalty
	}
	return opts
}

// memoryAdapter bridges the store into the executor's narrow view of it.
type memoryAdapter struct {
	store *memory.Store
}

func (a *memoryAdapter) StoreTurn(ctx context.Context, sessionID, role, content string) error {
	e := memory.NewEntry(sessionID, memory.TypeConversation, content)
	e.Metadata = map[string]interface{}{"role": role}
	return a.store.Add(ctx, e, nil)
}

// Recall searches across all sessions: summaries and entities from other
// conversations are part of the assistant's long-term context.
func (a *memoryAdapter) Recall(ctx context.Context, _ string, query string, limit int) ([]string, error) {
	entries, err := a.store.Search(ctx, query, memory.SearchOptions{
		Mode:  memory.SearchAuto,
		Limit: limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Content
	}
	return out, nil
}
