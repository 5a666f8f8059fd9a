package bus

import (
	"context"
	"log/slog"
)

const (
	// DefaultCapacity bounds each queue when no capacity is configured.
	DefaultCapacity = 1024

	// highWaterRatio is the advisory fill level that triggers a warning.
	highWaterRatio = 0.8
)

// MessageBus is an in-process message router backed by two bounded FIFO
// queues. Delivery is at-least-once within the process; producers tolerate
// dropped enqueues under backpressure. FIFO holds within a single session
// because each queue is a single channel drained by one consumer.
type MessageBus struct {
	inbound   chan InboundMessage
	outbound  chan OutboundMessage
	highWater int
}

func New(capacity int) *MessageBus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MessageBus{
		inbound:   make(chan InboundMessage, capacity),
		outbound:  make(chan OutboundMessage, capacity),
		highWater: int(float64(capacity) * highWaterRatio),
	}
}

// PublishInbound enqueues a message for the executor. A full queue drops
// the message with a warning rather than blocking the producing channel.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	select {
	case b.inbound <- msg:
		if depth := len(b.inbound); depth >= b.highWater {
			slog.Warn("inbound queue near capacity", "depth", depth, "capacity", cap(b.inbound))
		}
	default:
		slog.Warn("inbound queue full, dropping message",
			"channel", msg.Channel, "chat_id", msg.ChatID)
	}
}

// ConsumeInbound blocks until a message is available or ctx is cancelled.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishOutbound enqueues a reply for channel dispatch.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	select {
	case b.outbound <- msg:
		if depth := len(b.outbound); depth >= b.highWater {
			slog.Warn("outbound queue near capacity", "depth", depth, "capacity", cap(b.outbound))
		}
	default:
		slog.Warn("outbound queue full, dropping message",
			"channel", msg.Channel, "chat_id", msg.ChatID)
	}
}

// ConsumeOutbound blocks until a reply is available or ctx is cancelled.
func (b *MessageBus) ConsumeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-b.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

// InboundDepth reports the current inbound queue depth.
func (b *MessageBus) InboundDepth() int { return len(b.inbound) }
