package sessions

import (
	"fmt"
	"testing"
	"time"

	"github.com/jesspig/micro-agent/internal/providers"
)

func TestAppendTurnTrimsHistory(t *testing.T) {
	m := NewManager("")
	for i := 0; i < MaxTurns+20; i++ {
		m.AppendTurn("console:1", providers.Message{Role: "user", Content: fmt.Sprintf("t%d", i)})
	}

	h := m.History("console:1")
	if len(h) != MaxTurns {
		t.Fatalf("history length = %d, want %d", len(h), MaxTurns)
	}
	if h[len(h)-1].Content != fmt.Sprintf("t%d", MaxTurns+19) {
		t.Errorf("newest turn missing, got %q", h[len(h)-1].Content)
	}
	if h[0].Content != "t20" {
		t.Errorf("oldest surviving turn = %q, want t20", h[0].Content)
	}
}

func TestLRUEviction(t *testing.T) {
	m := NewManager("")
	for i := 0; i < MaxSessions; i++ {
		s := m.GetOrCreate(fmt.Sprintf("console:%d", i))
		s.Updated = time.Now().Add(-time.Duration(MaxSessions-i) * time.Second)
	}
	if m.Len() != MaxSessions {
		t.Fatalf("len = %d, want %d", m.Len(), MaxSessions)
	}

	m.GetOrCreate("console:new")
	if m.Len() != MaxSessions {
		t.Fatalf("len after insert = %d, want %d", m.Len(), MaxSessions)
	}
	if h := m.History("console:0"); h != nil {
		t.Error("oldest session should have been evicted")
	}
	if m.GetOrCreate("console:new") == nil {
		t.Error("new session should survive")
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()

	m := NewManager(dir)
	m.AppendTurn("console:1",
		providers.Message{Role: "user", Content: "hello"},
		providers.Message{Role: "assistant", Content: "hi there"},
	)
	m.SetSummary("console:1", "greeting exchange", 2)

	m2 := NewManager(dir)
	h := m2.History("console:1")
	if len(h) != 2 {
		t.Fatalf("reloaded history = %d messages, want 2", len(h))
	}
	if h[1].Content != "hi there" {
		t.Errorf("reloaded content = %q", h[1].Content)
	}
	if m2.Summary("console:1") != "greeting exchange" {
		t.Errorf("reloaded summary = %q", m2.Summary("console:1"))
	}
}

func TestSetSummaryTrims(t *testing.T) {
	m := NewManager("")
	for i := 0; i < 10; i++ {
		m.AppendTurn("k", providers.Message{Role: "user", Content: fmt.Sprintf("m%d", i)})
	}
	m.SetSummary("k", "rollup", 4)

	if h := m.History("k"); len(h) != 4 {
		t.Errorf("history after summary = %d, want 4", len(h))
	}
}

func TestIdleSessions(t *testing.T) {
	m := NewManager("")
	m.AppendTurn("old", providers.Message{Role: "user", Content: "x"})
	m.AppendTurn("fresh", providers.Message{Role: "user", Content: "y"})

	m.mu.Lock()
	m.sessions["old"].Updated = time.Now().Add(-time.Hour)
	m.mu.Unlock()

	idle := m.IdleSessions(time.Now().Add(-30*time.Minute), 1)
	if len(idle) != 1 || idle[0] != "old" {
		t.Errorf("idle = %v, want [old]", idle)
	}
}
