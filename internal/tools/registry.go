package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/jesspig/micro-agent/internal/providers"
)

// Tool is the interface all agent tools implement.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// actionAliases maps shorthand action names the model tends to emit onto
// canonical tool names. Resolution is case-insensitive. "finish" is not a
// tool; the agent loop handles it before dispatch.
var actionAliases = map[string]string{
	"exec":   "shell_exec",
	"run":    "shell_exec",
	"bash":   "shell_exec",
	"sh":     "shell_exec",
	"shell":  "shell_exec",
	"done":   "finish",
	"answer": "finish",
	"final":  "finish",
	"ls":     "list_dir",
	"dir":    "list_dir",
	"cat":    "read_file",
	"read":   "read_file",
	"write":  "write_file",
	"fetch":  "web_fetch",
	"get":    "web_fetch",
	"browse": "web_fetch",
}

// ResolveAction canonicalizes a ReAct action to a tool name.
func ResolveAction(action string) string {
	key := strings.ToLower(strings.TrimSpace(action))
	if canonical, ok := actionAliases[key]; ok {
		return canonical
	}
	return key
}

// Registry holds the available tools by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Later registrations with the same name win.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Get looks up a tool by canonical name or alias.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[ResolveAction(name)]
	return t, ok
}

// Names returns registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Remove drops a tool, keeping order stable for the rest.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Definitions returns the tool schemas in a stable order for prompts and
// function-calling requests.
func (r *Registry) Definitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	sort.Strings(names)

	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Catalog renders a plain-text tool listing for the ReAct system prompt.
func (r *Registry) Catalog() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sb strings.Builder
	for _, name := range r.order {
		t := r.tools[name]
		fmt.Fprintf(&sb, "- %s: %s\n", t.Name(), t.Description())
	}
	return sb.String()
}

// Execute runs a tool and converts panics and failures into JSON error
// observations so the model can recover.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) *Result {
	tool, ok := r.Get(name)
	if !ok {
		obs, _ := json.Marshal(map[string]interface{}{
			"error":        true,
			"action":       name,
			"resolvedTool": ResolveAction(name),
			"message":      "unknown tool",
		})
		return ErrorResult(string(obs))
	}

	result := func() (res *Result) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("tool panicked", "tool", tool.Name(), "panic", rec)
				obs, _ := json.Marshal(map[string]interface{}{
					"error":   true,
					"tool":    tool.Name(),
					"message": fmt.Sprintf("panic: %v", rec),
				})
				res = ErrorResult(string(obs))
			}
		}()
		return tool.Execute(ctx, args)
	}()

	if result == nil {
		result = ErrorResult("tool returned no result")
	}
	if result.IsError && !strings.HasPrefix(result.ForLLM, "{") {
		obs, _ := json.Marshal(map[string]interface{}{
			"error":   true,
			"tool":    tool.Name(),
			"message": result.ForLLM,
		})
		result.ForLLM = string(obs)
	}
	return result
}
