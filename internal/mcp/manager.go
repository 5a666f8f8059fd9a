package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/jesspig/micro-agent/internal/config"
	"github.com/jesspig/micro-agent/internal/tools"
)

// serverState tracks a single MCP server connection.
type serverState struct {
	name      string
	client    *mcpclient.Client
	toolNames []string
}

// Manager connects to configured MCP servers and registers their tools
// into the shared registry under an "mcp_<server>_" prefix.
type Manager struct {
	mu       sync.Mutex
	servers  map[string]*serverState
	registry *tools.Registry
	configs  map[string]config.MCPServerConfig
}

func NewManager(registry *tools.Registry, configs map[string]config.MCPServerConfig) *Manager {
	return &Manager{
		servers:  make(map[string]*serverState),
		registry: registry,
		configs:  configs,
	}
}

// Start connects to all configured servers. Non-fatal: servers that fail
// to connect are logged and skipped.
func (m *Manager) Start(ctx context.Context) {
	for name, cfg := range m.configs {
		if err := m.connectServer(ctx, name, cfg); err != nil {
			slog.Warn("mcp server connect failed", "server", name, "error", err)
		}
	}
}

func (m *Manager) connectServer(ctx context.Context, name string, cfg config.MCPServerConfig) error {
	client, err := createClient(cfg)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	if cfg.URL != "" {
		if err := client.Start(ctx); err != nil {
			_ = client.Close()
			return fmt.Errorf("start transport: %w", err)
		}
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{
		Name:    "micro-agent",
		Version: "1.0.0",
	}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	listed, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	ss := &serverState{name: name, client: client}
	for _, mt := range listed.Tools {
		bt := newBridgeTool(name, mt, client)
		if _, exists := m.registry.Get(bt.Name()); exists {
			slog.Warn("mcp tool name collision, skipped", "server", name, "tool", bt.Name())
			continue
		}
		m.registry.Register(bt)
		ss.toolNames = append(ss.toolNames, bt.Name())
	}

	m.mu.Lock()
	m.servers[name] = ss
	m.mu.Unlock()

	slog.Info("mcp server connected", "server", name, "tools", len(ss.toolNames))
	return nil
}

func createClient(cfg config.MCPServerConfig) (*mcpclient.Client, error) {
	switch {
	case cfg.Command != "":
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		return mcpclient.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	case cfg.URL != "":
		return mcpclient.NewStreamableHttpClient(cfg.URL)
	default:
		return nil, fmt.Errorf("server needs either command or url")
	}
}

// Stop closes all connections and unregisters their tools.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, ss := range m.servers {
		if err := ss.client.Close(); err != nil {
			slog.Debug("mcp server close", "server", name, "error", err)
		}
		for _, toolName := range ss.toolNames {
			m.registry.Remove(toolName)
		}
	}
	m.servers = make(map[string]*serverState)
}

// ToolNames returns all registered MCP tool names.
func (m *Manager) ToolNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var names []string
	for _, ss := range m.servers {
		names = append(names, ss.toolNames...)
	}
	return names
}
