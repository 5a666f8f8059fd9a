package summarizer

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jesspig/micro-agent/internal/memory"
	"github.com/jesspig/micro-agent/internal/providers"
	"github.com/jesspig/micro-agent/internal/sessions"
)

type stubChatter struct {
	reply string
	err   error
	calls int
	last  providers.ChatRequest
}

func (c *stubChatter) Chat(_ context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	c.calls++
	c.last = req
	if c.err != nil {
		return nil, c.err
	}
	return &providers.ChatResponse{Content: c.reply, FinishReason: "stop"}, nil
}

type stubStore struct {
	entries []*memory.Entry
	err     error
}

func (s *stubStore) Add(_ context.Context, e *memory.Entry, _ []float32) error {
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, e)
	return nil
}

func fillSession(mgr *sessions.Manager, key string, turns int) {
	for i := 0; i < turns/2; i++ {
		mgr.AppendTurn(key,
			providers.Message{Role: "user", Content: fmt.Sprintf("question %d", i)},
			providers.Message{Role: "assistant", Content: fmt.Sprintf("answer %d", i)},
		)
	}
}

func TestSweepRollsUpLongSession(t *testing.T) {
	mgr := sessions.NewManager("")
	chatter := &stubChatter{reply: "User is planning a move to Berlin."}
	store := &stubStore{}
	s := New(mgr, chatter, store, Options{Model: "p/chat", MinMessages: 10, KeepLast: 4})

	fillSession(mgr, "console:1", 12)
	s.Sweep(context.Background())

	if chatter.calls != 1 {
		t.Fatalf("chat calls = %d, want 1", chatter.calls)
	}
	if len(store.entries) != 1 {
		t.Fatalf("stored entries = %d, want 1", len(store.entries))
	}
	e := store.entries[0]
	if e.Type != memory.TypeSummary || e.SessionID != "console:1" {
		t.Errorf("entry = %+v", e)
	}
	if got := mgr.Summary("console:1"); got != chatter.reply {
		t.Errorf("session summary = %q", got)
	}
	if got := len(mgr.History("console:1")); got != 4 {
		t.Errorf("trimmed history = %d turns, want 4", got)
	}

	// The transcript must reach the model.
	if !strings.Contains(chatter.last.Messages[1].Content, "question 0") {
		t.Error("transcript missing from rollup request")
	}
}

func TestSweepSkipsShortActiveSessions(t *testing.T) {
	mgr := sessions.NewManager("")
	chatter := &stubChatter{reply: "should not run"}
	s := New(mgr, chatter, &stubStore{}, Options{Model: "p/chat", MinMessages: 10, IdleTimeout: time.Hour})

	fillSession(mgr, "console:1", 4)
	s.Sweep(context.Background())

	if chatter.calls != 0 {
		t.Errorf("chat calls = %d, want 0", chatter.calls)
	}
}

func TestSweepRetriesAfterFailure(t *testing.T) {
	mgr := sessions.NewManager("")
	chatter := &stubChatter{err: fmt.Errorf("gateway down")}
	store := &stubStore{}
	s := New(mgr, chatter, store, Options{Model: "p/chat", MinMessages: 10, KeepLast: 4})

	fillSession(mgr, "console:1", 12)
	s.Sweep(context.Background())
	if len(store.entries) != 0 {
		t.Fatal("failed rollup must not store anything")
	}
	if got := len(mgr.History("console:1")); got != 12 {
		t.Errorf("history trimmed despite failure: %d", got)
	}

	chatter.err = nil
	chatter.reply = "recovered summary"
	s.Sweep(context.Background())
	if len(store.entries) != 1 {
		t.Errorf("retry should succeed, entries = %d", len(store.entries))
	}
}

func TestSummaryTruncatedToMaxLength(t *testing.T) {
	mgr := sessions.NewManager("")
	chatter := &stubChatter{reply: strings.Repeat("长", 3000)}
	store := &stubStore{}
	s := New(mgr, chatter, store, Options{Model: "p/chat", MinMessages: 10, MaxLength: 2000})

	fillSession(mgr, "console:1", 12)
	s.Sweep(context.Background())

	if len(store.entries) != 1 {
		t.Fatal("expected one entry")
	}
	if got := len([]rune(store.entries[0].Content)); got != 2000 {
		t.Errorf("summary length = %d runes, want 2000", got)
	}
}

func TestPriorSummaryFeedsNextRollup(t *testing.T) {
	mgr := sessions.NewManager("")
	chatter := &stubChatter{reply: "second rollup"}
	store := &stubStore{}
	s := New(mgr, chatter, store, Options{Model: "p/chat", MinMessages: 10, KeepLast: 4})

	fillSession(mgr, "console:1", 12)
	mgr.SetSummary("console:1", "first rollup", 12)

	s.Sweep(context.Background())
	if !strings.Contains(chatter.last.Messages[1].Content, "first rollup") {
		t.Error("earlier summary missing from rollup request")
	}
}
