package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/jesspig/micro-agent/internal/bus"
)

// Channel is one chat surface: it produces inbound messages onto the bus
// and delivers replies addressed to it.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(msg bus.OutboundMessage) error
	IsRunning() bool
}

// Manager owns the channel set and the outbound dispatch loop.
type Manager struct {
	bus     *bus.MessageBus
	limiter *rate.Limiter

	mu       sync.Mutex
	channels map[string]Channel
}

// NewManager builds a manager. msgsPerSecond throttles outbound delivery
// across all channels; zero disables throttling.
func NewManager(b *bus.MessageBus, msgsPerSecond float64) *Manager {
	var limiter *rate.Limiter
	if msgsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(msgsPerSecond), 1)
	}
	return &Manager{
		bus:      b,
		limiter:  limiter,
		channels: make(map[string]Channel),
	}
}

func (m *Manager) Register(c Channel) {
	m.mu.Lock()
	m.channels[c.Name()] = c
	m.mu.Unlock()
}

// StartAll starts every registered channel. One channel failing to start
// does not prevent the others.
func (m *Manager) StartAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, c := range m.channels {
		if err := c.Start(ctx); err != nil {
			slog.Error("channel failed to start", "channel", name, "error", err)
			continue
		}
		slog.Info("channel started", "channel", name)
	}
}

func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, c := range m.channels {
		if !c.IsRunning() {
			continue
		}
		if err := c.Stop(); err != nil {
			slog.Warn("channel stop failed", "channel", name, "error", err)
		}
	}
}

// Dispatch drains the outbound queue until ctx is canceled.
func (m *Manager) Dispatch(ctx context.Context) {
	for {
		msg, ok := m.bus.ConsumeOutbound(ctx)
		if !ok {
			return
		}
		if m.limiter != nil {
			if err := m.limiter.Wait(ctx); err != nil {
				return
			}
		}
		if err := m.deliver(msg); err != nil {
			slog.Warn("outbound delivery failed",
				"channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
		}
	}
}

func (m *Manager) deliver(msg bus.OutboundMessage) error {
	m.mu.Lock()
	c, ok := m.channels[msg.Channel]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no channel named %q", msg.Channel)
	}
	return c.Send(msg)
}
