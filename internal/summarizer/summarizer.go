package summarizer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jesspig/micro-agent/internal/memory"
	"github.com/jesspig/micro-agent/internal/providers"
	"github.com/jesspig/micro-agent/internal/sessions"
)

// Chatter is the slice of the gateway the summarizer needs.
type Chatter interface {
	Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error)
}

// Store receives the produced summary entries.
type Store interface {
	Add(ctx context.Context, e *memory.Entry, vector []float32) error
}

// Options tunes the rollup triggers.
type Options struct {
	// Model is the gateway model key used for rollups.
	Model string

	// MinMessages triggers a rollup once a session reaches this many
	// turns. Defaults to 20.
	MinMessages int

	// IdleTimeout triggers a rollup for sessions quiet this long.
	// Defaults to 30 minutes.
	IdleTimeout time.Duration

	// MaxLength bounds the summary in characters. Defaults to 2000.
	MaxLength int

	// KeepLast is how many trailing turns survive the trim. Defaults to 4.
	KeepLast int

	// CheckInterval is the watcher tick. Defaults to one minute.
	CheckInterval time.Duration
}

func (o *Options) setDefaults() {
	if o.MinMessages <= 0 {
		o.MinMessages = 20
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 30 * time.Minute
	}
	if o.MaxLength <= 0 {
		o.MaxLength = 2000
	}
	if o.KeepLast <= 0 {
		o.KeepLast = 4
	}
	if o.CheckInterval <= 0 {
		o.CheckInterval = time.Minute
	}
}

const summaryPrompt = `You condense conversation history for an AI assistant's long-term memory.
Summarize the transcript below into a compact brief: key facts, decisions,
user preferences, and unresolved threads. Write plain prose, at most %d
characters, in the language the conversation is held in.`

// Summarizer is the background watcher that rolls long or idle sessions
// into summary memories. Rollup failures are logged and retried on the
// next tick; the foreground loop is never blocked.
type Summarizer struct {
	sessions *sessions.Manager
	gateway  Chatter
	store    Store
	opts     Options
}

func New(mgr *sessions.Manager, gateway Chatter, store Store, opts Options) *Summarizer {
	opts.setDefaults()
	return &Summarizer{sessions: mgr, gateway: gateway, store: store, opts: opts}
}

// Run ticks until the context is canceled.
func (s *Summarizer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep summarizes every session that currently meets a trigger.
func (s *Summarizer) Sweep(ctx context.Context) {
	now := time.Now()
	keys := make(map[string]struct{})
	for _, k := range s.sessions.IdleSessions(now, s.opts.MinMessages) {
		keys[k] = struct{}{}
	}
	// The idle trigger only fires for sessions that grew past the trimmed
	// tail, so an already-summarized quiet session is left alone.
	for _, k := range s.sessions.IdleSessions(now.Add(-s.opts.IdleTimeout), s.opts.KeepLast+1) {
		keys[k] = struct{}{}
	}

	for key := range keys {
		if ctx.Err() != nil {
			return
		}
		if err := s.summarize(ctx, key); err != nil {
			slog.Warn("summarizer: rollup failed", "session", key, "error", err)
		}
	}
}

func (s *Summarizer) summarize(ctx context.Context, key string) error {
	history := s.sessions.History(key)
	if len(history) == 0 {
		return nil
	}

	var b strings.Builder
	if prior := s.sessions.Summary(key); prior != "" {
		b.WriteString("Earlier summary:\n")
		b.WriteString(prior)
		b.WriteString("\n\nNew transcript:\n")
	}
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}

	resp, err := s.gateway.Chat(ctx, providers.ChatRequest{
		Model: s.opts.Model,
		Messages: []providers.Message{
			{Role: "system", Content: fmt.Sprintf(summaryPrompt, s.opts.MaxLength)},
			{Role: "user", Content: b.String()},
		},
	})
	if err != nil {
		return fmt.Errorf("summarize chat: %w", err)
	}

	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return fmt.Errorf("summarize chat: empty reply")
	}
	if runes := []rune(summary); len(runes) > s.opts.MaxLength {
		summary = string(runes[:s.opts.MaxLength])
	}

	entry := memory.NewEntry(key, memory.TypeSummary, summary)
	if err := s.store.Add(ctx, entry, nil); err != nil {
		return fmt.Errorf("store summary: %w", err)
	}

	s.sessions.SetSummary(key, summary, s.opts.KeepLast)
	slog.Info("summarizer: session rolled up",
		"session", key, "turns", len(history), "summary_chars", len(summary))
	return nil
}
