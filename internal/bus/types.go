package bus

import (
	"context"
	"time"
)

// InboundMessage represents a message received from a channel (console, HTTP, etc.)
type InboundMessage struct {
	Channel    string            `json:"channel"`
	SenderID   string            `json:"sender_id"`
	ChatID     string            `json:"chat_id"`
	Content    string            `json:"content"`
	Media      []string          `json:"media,omitempty"` // URIs or data URIs, resolved by the channel
	Timestamp  time.Time         `json:"timestamp"`
	CurrentDir string            `json:"current_dir,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// SessionKey returns the canonical session identifier "channel:chatId".
func (m InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// OutboundMessage represents a message to be sent back to a channel.
type OutboundMessage struct {
	Channel  string            `json:"channel"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Media    []string          `json:"media,omitempty"` // URIs or local paths for the channel to attach
	Metadata map[string]string `json:"metadata,omitempty"`
}

// MessageRouter abstracts inbound/outbound message routing between channels
// and the agent runtime. Consume calls block until a message arrives or the
// context is cancelled (ok=false).
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage)
	ConsumeOutbound(ctx context.Context) (OutboundMessage, bool)
}
