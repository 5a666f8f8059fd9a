package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jesspig/micro-agent/internal/bus"
	"github.com/jesspig/micro-agent/internal/providers"
	"github.com/jesspig/micro-agent/internal/router"
	"github.com/jesspig/micro-agent/internal/sessions"
	"github.com/jesspig/micro-agent/internal/tools"
)

const (
	apologyReply   = "Sorry, I ran into a problem handling that. Please try again."
	truncatedReply = "I could not finish reasoning about this within my step limit. Here is where I stopped."
)

// Memory is the slice of the memory store the executor needs: record the
// turn, recall related entries for context.
type Memory interface {
	StoreTurn(ctx context.Context, sessionID, role, content string) error
	Recall(ctx context.Context, sessionID, query string, limit int) ([]string, error)
}

// Executor runs the ReAct loop for inbound messages.
type Executor struct {
	gateway       *providers.Registry
	router        *router.Router
	sessions      *sessions.Manager
	tools         *tools.Registry
	prompt        *PromptBuilder
	memory        Memory // nil = memory disabled
	maxIterations int
	recallLimit   int
	genOptions    map[string]interface{}
	tracer        trace.Tracer
}

// ExecutorConfig wires an Executor.
type ExecutorConfig struct {
	Gateway       *providers.Registry
	Router        *router.Router
	Sessions      *sessions.Manager
	Tools         *tools.Registry
	Prompt        *PromptBuilder
	Memory        Memory
	MaxIterations int
	RecallLimit   int
	GenOptions    map[string]interface{}
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 20
	}
	if cfg.RecallLimit <= 0 {
		cfg.RecallLimit = 5
	}
	return &Executor{
		gateway:       cfg.Gateway,
		router:        cfg.Router,
		sessions:      cfg.Sessions,
		tools:         cfg.Tools,
		prompt:        cfg.Prompt,
		memory:        cfg.Memory,
		maxIterations: cfg.MaxIterations,
		recallLimit:   cfg.RecallLimit,
		genOptions:    cfg.GenOptions,
		tracer:        otel.Tracer("agent"),
	}
}

// Run processes one inbound message and returns the reply text. Failures
// inside the loop surface to the model as observations; failures outside
// it collapse into a redacted apology.
func (e *Executor) Run(ctx context.Context, msg bus.InboundMessage) string {
	ctx, span := e.tracer.Start(ctx, "agent.run",
		trace.WithAttributes(
			attribute.String("channel", msg.Channel),
			attribute.String("chat_id", msg.ChatID),
		))
	defer span.End()

	start := time.Now()
	reply, finished, err := e.runLoop(ctx, msg)
	if err != nil {
		slog.Error("agent run failed",
			"session", msg.SessionKey(), "error", err, "elapsed", time.Since(start))
		span.RecordError(err)
		return Apology(err)
	}

	// An exhausted loop produced no real answer; the turn never enters
	// history or memory.
	if finished {
		e.updateHistory(ctx, msg, reply)
	}
	slog.Info("agent run completed",
		"session", msg.SessionKey(), "elapsed", time.Since(start))
	return reply
}

// runLoop returns the reply text and whether the loop reached a real
// answer. finished=false means the iteration budget ran out.
func (e *Executor) runLoop(ctx context.Context, msg bus.InboundMessage) (reply string, finished bool, err error) {
	sessionKey := msg.SessionKey()
	history := e.sessions.History(sessionKey)
	memories := e.recallMemories(ctx, sessionKey, msg.Content)
	hasImages := HasImages(msg.Media)

	// Turns accumulated inside this run: assistant actions and their
	// observations. They are working state, never persisted.
	var loopTurns []providers.Message

	for iteration := 1; iteration <= e.maxIterations; iteration++ {
		decision := e.router.Select(ctx, msg.Content, len(history), hasImages, iteration)
		slog.Debug("model selected",
			"model", decision.Model, "complexity", decision.Complexity, "reason", decision.Reason)

		messages := e.buildMessages(msg, history, memories, loopTurns, decision.Capability.Vision)

		resp, err := e.gateway.Chat(ctx, providers.ChatRequest{
			Messages: messages,
			Model:    decision.Model,
			Options:  e.genOptions,
		})
		if err != nil {
			return "", false, fmt.Errorf("gateway: %w", err)
		}

		step := ParseReAct(resp.Content)
		if step == nil {
			// Malformed reply: treat the raw content as the answer.
			return SanitizeReply(resp.Content), true, nil
		}
		if step.IsFinish() {
			return SanitizeReply(step.InputString()), true, nil
		}

		result := e.executeTool(ctx, step)

		loopTurns = append(loopTurns,
			providers.Message{Role: "assistant", Content: resp.Content},
			providers.Message{Role: "user", Content: "Observation: " + result.ForLLM},
		)
	}

	return truncatedReply, false, nil
}

func (e *Executor) executeTool(ctx context.Context, step *ReActStep) *tools.Result {
	name := tools.ResolveAction(step.Action)

	ctx, span := e.tracer.Start(ctx, "agent.tool",
		trace.WithAttributes(attribute.String("tool", name)))
	defer span.End()

	result := e.tools.Execute(ctx, name, step.InputArgs())
	if result.IsError {
		span.SetAttributes(attribute.Bool("error", true))
		slog.Warn("tool failed", "tool", name, "observation", result.ForLLM)
	}
	return result
}

// buildMessages assembles system block, recalled memories, recent history,
// the current turn, and the in-loop working turns.
func (e *Executor) buildMessages(msg bus.InboundMessage, history []providers.Message, memories []string, loopTurns []providers.Message, vision bool) []providers.Message {
	system := e.prompt.SystemPrompt(e.tools.Catalog())
	if len(memories) > 0 {
		system += "\n\n## Related memories\n" + strings.Join(memories, "\n---\n")
	}

	messages := make([]providers.Message, 0, len(history)+len(loopTurns)+2)
	messages = append(messages, providers.Message{Role: "system", Content: system})
	messages = append(messages, history...)

	images, placeholders := FoldMedia(msg.Media, vision)
	content := msg.Content
	if placeholders != "" {
		content = strings.TrimSpace(content + "\n" + placeholders)
	}
	messages = append(messages, providers.Message{Role: "user", Content: content, Images: images})

	return append(messages, loopTurns...)
}

func (e *Executor) recallMemories(ctx context.Context, sessionKey, query string) []string {
	if e.memory == nil || strings.TrimSpace(query) == "" {
		return nil
	}
	found, err := e.memory.Recall(ctx, sessionKey, query, e.recallLimit)
	if err != nil {
		slog.Warn("memory recall failed", "error", err)
		return nil
	}
	return found
}

// updateHistory persists the final (user, assistant) pair and mirrors both
// turns into the memory store.
func (e *Executor) updateHistory(ctx context.Context, msg bus.InboundMessage, reply string) {
	sessionKey := msg.SessionKey()
	e.sessions.AppendTurn(sessionKey,
		providers.Message{Role: "user", Content: msg.Content},
		providers.Message{Role: "assistant", Content: reply},
	)

	if e.memory == nil {
		return
	}
	if err := e.memory.StoreTurn(ctx, sessionKey, "user", msg.Content); err != nil {
		slog.Warn("memory store failed", "role", "user", "error", err)
	}
	if err := e.memory.StoreTurn(ctx, sessionKey, "assistant", reply); err != nil {
		slog.Warn("memory store failed", "role", "assistant", "error", err)
	}
}

// Apology returns the redacted user-visible message for an error.
func Apology(err error) string {
	if err == nil {
		return apologyReply
	}
	return apologyReply + " (" + Redact(err.Error()) + ")"
}
