package migration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jesspig/micro-agent/internal/memory"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1, 2}, nil
}
func (stubEmbedder) Dimension(context.Context) (int, error) { return 3, nil }
func (stubEmbedder) Model() string                          { return "embed-new" }

// fakeTable is an in-memory stand-in for the sqlite store.
type fakeTable struct {
	mu      sync.Mutex
	entries map[string]*memory.Entry
	failIDs map[string]bool
	updates map[string]int
}

func newFakeTable(n int) *fakeTable {
	t := &fakeTable{
		entries: make(map[string]*memory.Entry),
		failIDs: make(map[string]bool),
		updates: make(map[string]int),
	}
	base := time.Now().Add(-time.Hour)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("rec-%03d", i)
		t.entries[id] = &memory.Entry{
			ID:        id,
			Type:      memory.TypeConversation,
			Content:   fmt.Sprintf("record number %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
	}
	return t
}

func (t *fakeTable) Count() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries), nil
}

func (t *fakeTable) Get(id string) (*memory.Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return nil, fmt.Errorf("not found: %s", id)
	}
	cp := *e
	return &cp, nil
}

func (t *fakeTable) FetchNextBatch(column string, exclude []string, limit int) ([]*memory.Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	var out []*memory.Entry
	for _, e := range t.entries {
		if skip[e.ID] || len(e.Vectors[column]) > 0 {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *fakeTable) UpdateVector(id, column string, vector []float32, modelID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updates[id]++
	if t.failIDs[id] {
		return fmt.Errorf("simulated write failure")
	}
	e, ok := t.entries[id]
	if !ok {
		return fmt.Errorf("not found: %s", id)
	}
	if e.Vectors == nil {
		e.Vectors = make(map[string][]float32)
	}
	e.Vectors[column] = vector
	e.ActiveEmbed = modelID
	e.UpdatedAt = time.Now()
	return nil
}

func newTestEngine(t *testing.T, dir string, table *fakeTable, events chan Event) *Engine {
	t.Helper()
	eng, err := New(dir, table, stubEmbedder{}, Options{
		TargetModel: "test/embed-new",
		BatchSize:   2,
		Interval:    time.Millisecond,
		OnEvent: func(ev Event) {
			select {
			case events <- ev:
			default:
			}
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return eng
}

func waitFor(t *testing.T, events chan Event, typ string) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", typ)
		}
	}
}

func TestEngineRunsToCompletion(t *testing.T) {
	dir := t.TempDir()
	table := newFakeTable(5)
	events := make(chan Event, 64)
	eng := newTestEngine(t, dir, table, events)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	ev := waitFor(t, events, "complete")
	if ev.MigratedCount != 5 || ev.Progress != 100 {
		t.Errorf("complete event = %+v", ev)
	}

	st := eng.State()
	if st.Status != StatusCompleted || st.CompletedAt == nil {
		t.Errorf("state = %+v", st)
	}
	col := memory.ModelIDToVectorColumn("test/embed-new")
	newest := int64(0)
	for _, e := range table.entries {
		if len(e.Vectors[col]) == 0 {
			t.Errorf("record %s not migrated", e.ID)
		}
		if ms := e.CreatedAt.UnixMilli(); ms > newest {
			newest = ms
		}
	}
	if st.MigratedUntil != newest {
		t.Errorf("cursor = %d, want newest %d", st.MigratedUntil, newest)
	}
}

func TestEnginePauseAndResume(t *testing.T) {
	dir := t.TempDir()
	table := newFakeTable(10)
	events := make(chan Event, 64)
	eng := newTestEngine(t, dir, table, events)
	// A generous interval so the pause lands between batches.
	eng.opts.Interval = 200 * time.Millisecond

	if err := eng.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, events, "progress")
	if err := eng.Pause(); err != nil {
		t.Fatal(err)
	}

	st := eng.State()
	if st.Status != StatusPaused {
		t.Fatalf("status = %s, want paused", st.Status)
	}
	if st.MigratedCount == 0 || st.MigratedCount >= 10 {
		t.Fatalf("migrated = %d, want a partial count", st.MigratedCount)
	}

	// Simulate a process restart: a fresh engine over the same state dir.
	events2 := make(chan Event, 64)
	eng2 := newTestEngine(t, dir, table, events2)
	if got := eng2.State(); got.Status != StatusPaused || got.MigratedCount != st.MigratedCount {
		t.Fatalf("reloaded state = %+v", got)
	}

	if err := eng2.Resume(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, events2, "complete")

	table.mu.Lock()
	defer table.mu.Unlock()
	total := 0
	for id, n := range table.updates {
		if n > 1 {
			t.Errorf("record %s re-embedded %d times", id, n)
		}
		total += n
	}
	if total != 10 {
		t.Errorf("update calls = %d, want 10", total)
	}
}

func TestEngineRecordsAndRetriesFailures(t *testing.T) {
	dir := t.TempDir()
	table := newFakeTable(4)
	table.failIDs["rec-001"] = true
	events := make(chan Event, 64)
	eng := newTestEngine(t, dir, table, events)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, events, "complete")

	st := eng.State()
	if len(st.FailedRecords) != 1 || st.FailedRecords[0].ID != "rec-001" {
		t.Fatalf("failed records = %v", st.FailedRecords)
	}
	if st.MigratedCount != 3 {
		t.Errorf("migrated = %d, want 3", st.MigratedCount)
	}

	table.mu.Lock()
	delete(table.failIDs, "rec-001")
	table.mu.Unlock()

	if err := eng.RetryFailed(context.Background()); err != nil {
		t.Fatal(err)
	}
	st = eng.State()
	if len(st.FailedRecords) != 0 {
		t.Errorf("failed records after retry = %v", st.FailedRecords)
	}
	if st.MigratedCount != 4 {
		t.Errorf("migrated after retry = %d, want 4", st.MigratedCount)
	}
}

func TestEngineRejectsDoubleStart(t *testing.T) {
	dir := t.TempDir()
	table := newFakeTable(200)
	events := make(chan Event, 64)
	eng := newTestEngine(t, dir, table, events)
	eng.opts.Interval = 100 * time.Millisecond

	if err := eng.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer eng.Stop()

	if err := eng.Start(context.Background()); err == nil {
		t.Error("second start must fail while a run is active")
	}
}
