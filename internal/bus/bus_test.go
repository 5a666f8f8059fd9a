package bus

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestInboundFIFO(t *testing.T) {
	b := New(8)
	for i := 0; i < 5; i++ {
		b.PublishInbound(InboundMessage{Channel: "console", ChatID: "c1", Content: fmt.Sprintf("msg-%d", i)})
	}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		msg, ok := b.ConsumeInbound(ctx)
		if !ok {
			t.Fatalf("consume %d: not ok", i)
		}
		if want := fmt.Sprintf("msg-%d", i); msg.Content != want {
			t.Errorf("consume %d: got %q, want %q", i, msg.Content, want)
		}
	}
}

func TestPublishInboundDropsWhenFull(t *testing.T) {
	b := New(2)
	for i := 0; i < 5; i++ {
		b.PublishInbound(InboundMessage{Content: fmt.Sprintf("msg-%d", i)})
	}
	if got := b.InboundDepth(); got != 2 {
		t.Errorf("depth = %d, want 2", got)
	}

	msg, _ := b.ConsumeInbound(context.Background())
	if msg.Content != "msg-0" {
		t.Errorf("oldest message should survive, got %q", msg.Content)
	}
}

func TestConsumeCancelled(t *testing.T) {
	b := New(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, ok := b.ConsumeInbound(ctx); ok {
		t.Error("expected ok=false on cancelled context")
	}
	if _, ok := b.ConsumeOutbound(ctx); ok {
		t.Error("expected ok=false on cancelled context")
	}
}

func TestOutboundRoundTrip(t *testing.T) {
	b := New(4)
	b.PublishOutbound(OutboundMessage{Channel: "console", ChatID: "c1", Content: "reply"})

	msg, ok := b.ConsumeOutbound(context.Background())
	if !ok || msg.Content != "reply" {
		t.Fatalf("got (%v, %v), want reply", msg, ok)
	}
}

func TestSessionKey(t *testing.T) {
	m := InboundMessage{Channel: "telegram", ChatID: "42"}
	if got := m.SessionKey(); got != "telegram:42" {
		t.Errorf("SessionKey = %q, want telegram:42", got)
	}
}
