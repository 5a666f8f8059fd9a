package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// ProviderEntry is one registered provider with its serving metadata.
type ProviderEntry struct {
	Provider Provider
	BaseURL  string
	Patterns []string // served model patterns, "*" = catch-all
	Priority int      // lower = preferred during fallback

	// Capabilities declared for this provider's models, keyed by model id.
	Capabilities map[string]ModelCapability
}

// Registry is the LLM gateway: it resolves "<provider>/<id>" model keys,
// forwards chat calls, and falls back across providers on transport errors.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*ProviderEntry
	order   []string // insertion order, for stable pool listing
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*ProviderEntry)}
}

// Register adds a provider under its name. Re-registering a name replaces
// the previous entry but keeps its position in the pool order.
func (r *Registry) Register(entry *ProviderEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := entry.Provider.Name()
	if _, exists := r.entries[name]; !exists {
		r.order = append(r.order, name)
	}
	if entry.Capabilities == nil {
		entry.Capabilities = make(map[string]ModelCapability)
	}
	r.entries[name] = entry
}

// Get returns the entry registered under name.
func (r *Registry) Get(name string) (*ProviderEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Pool returns every declared model capability in stable order: provider
// insertion order first, then model id order within a provider.
func (r *Registry) Pool() []ModelCapability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var pool []ModelCapability
	for _, name := range r.order {
		entry := r.entries[name]
		ids := make([]string, 0, len(entry.Capabilities))
		for id := range entry.Capabilities {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			pool = append(pool, entry.Capabilities[id])
		}
	}
	return pool
}

// Capability looks up the declared capability for a "<provider>/<id>" key.
func (r *Registry) Capability(modelKey string) (ModelCapability, bool) {
	providerName, modelID := SplitModelKey(modelKey)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if providerName != "" {
		if entry, ok := r.entries[providerName]; ok {
			if cap, ok := entry.Capabilities[modelID]; ok {
				return cap, true
			}
		}
		return ModelCapability{}, false
	}
	for _, name := range r.order {
		if cap, ok := r.entries[name].Capabilities[modelID]; ok {
			return cap, true
		}
	}
	return ModelCapability{}, false
}

// Chat resolves the request's model key, forwards the call, and on a
// retryable failure tries the next provider whose patterns match the model
// id, in ascending priority order. Tools are forwarded only when the caller
// supplied a non-empty list and the resolved model declares tool support.
func (r *Registry) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	providerName, modelID := SplitModelKey(req.Model)
	if modelID == "" {
		return nil, fmt.Errorf("gateway: empty model key")
	}

	candidates := r.candidatesFor(providerName, modelID)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("gateway: no provider serves model %q", req.Model)
	}

	var lastErr error
	for _, entry := range candidates {
		attempt := req
		attempt.Model = modelID

		cap, hasCap := entry.Capabilities[modelID]
		if len(req.Tools) > 0 && !(hasCap && cap.Tool) {
			attempt.Tools = nil
		}
		if hasCap {
			attempt.Options = cap.MergeOptions(req.Options)
		}

		resp, err := entry.Provider.Chat(ctx, attempt)
		if err == nil {
			resp.UsedProvider = entry.Provider.Name()
			resp.UsedModel = modelID
			if hasCap {
				resp.UsedLevel = cap.Level.String()
			}
			return resp, nil
		}

		lastErr = err
		if !Retryable(err) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		slog.Warn("gateway: provider failed, trying next",
			"provider", entry.Provider.Name(), "model", modelID, "error", err)
	}
	return nil, fmt.Errorf("gateway: all providers failed for %q: %w", req.Model, lastErr)
}

// candidatesFor returns the fallback chain: the named provider first (when
// given), then every other provider whose patterns match, by priority.
func (r *Registry) candidatesFor(providerName, modelID string) []*ProviderEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var primary *ProviderEntry
	if providerName != "" {
		primary = r.entries[providerName]
	}

	var rest []*ProviderEntry
	for _, name := range r.order {
		entry := r.entries[name]
		if entry == primary {
			continue
		}
		if matchesAny(entry.Patterns, modelID) {
			rest = append(rest, entry)
		}
	}
	sort.SliceStable(rest, func(i, j int) bool { return rest[i].Priority < rest[j].Priority })

	if primary != nil {
		return append([]*ProviderEntry{primary}, rest...)
	}
	return rest
}

func matchesAny(patterns []string, modelID string) bool {
	for _, p := range patterns {
		if matchPattern(p, modelID) {
			return true
		}
	}
	return false
}

// matchPattern supports "*" as catch-all and a single trailing "*" as a
// prefix wildcard; anything else is an exact match.
func matchPattern(pattern, modelID string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(modelID, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == modelID
}
