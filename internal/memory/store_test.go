package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// fakeEmbedder returns deterministic vectors so similarity ordering is
// predictable in tests.
type fakeEmbedder struct {
	model string
	dim   int
	fail  bool
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, fmt.Errorf("embedder offline")
	}
	v := make([]float32, f.dim)
	for i, r := range text {
		v[i%f.dim] += float32(r%13) + 1
	}
	if len(text) == 0 {
		v[0] = 1
	}
	return v, nil
}

func (f *fakeEmbedder) Dimension(context.Context) (int, error) { return f.dim, nil }
func (f *fakeEmbedder) Model() string                          { return f.model }

func newTestStore(t *testing.T, emb *fakeEmbedder) *Store {
	t.Helper()
	opts := StoreOptions{MaxModels: 3, SearchLimit: 10}
	if emb != nil {
		opts.Embedder = emb
		opts.ModelKey = "test/" + emb.model
	}
	s, err := Open(t.TempDir(), opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddGetRoundTrip(t *testing.T) {
	emb := &fakeEmbedder{model: "embed-a", dim: 8}
	s := newTestStore(t, emb)

	e := NewEntry("console:1", TypeConversation, "the deploy finished at noon")
	e.Metadata = map[string]interface{}{"tags": []interface{}{"deploy", "ops"}}
	if err := s.Add(context.Background(), e, nil); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != e.Content || got.SessionID != "console:1" || got.Type != TypeConversation {
		t.Errorf("round trip mismatch: %+v", got)
	}
	col := ModelIDToVectorColumn("test/embed-a")
	if len(got.Vectors[col]) != 8 {
		t.Errorf("vector missing: %v", got.Vectors)
	}
	if got.ActiveEmbed != "test/embed-a" {
		t.Errorf("active_embed = %q, want the model key", got.ActiveEmbed)
	}
	if _, ok := got.EmbedVersions["test/embed-a"]; !ok {
		t.Errorf("embed_versions = %v", got.EmbedVersions)
	}
	if tags := got.Tags(); len(tags) != 2 || tags[0] != "deploy" {
		t.Errorf("tags = %v", tags)
	}
}

func TestAddDegradesToFulltextOnEmbedFailure(t *testing.T) {
	emb := &fakeEmbedder{model: "embed-a", dim: 8, fail: true}
	s := newTestStore(t, emb)

	e := NewEntry("console:1", TypeConversation, "stored without a vector")
	if err := s.Add(context.Background(), e, nil); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Vectors) != 0 {
		t.Errorf("expected no vectors, got %v", got.Vectors)
	}

	hits, err := s.Search(context.Background(), "vector", SearchOptions{Mode: SearchFulltext})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ID != e.ID {
		t.Errorf("fulltext hits = %v", hits)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t, nil)
	e := NewEntry("", TypeEntity, "favorite editor is helix")
	if err := s.Add(context.Background(), e, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(e.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(e.ID); err == nil {
		t.Error("deleted entry still readable")
	}
}

func TestFulltextCaseInsensitive(t *testing.T) {
	s := newTestStore(t, nil)
	e := NewEntry("", TypeConversation, "The Kubernetes cluster upgrade went fine")
	if err := s.Add(context.Background(), e, nil); err != nil {
		t.Fatal(err)
	}

	hits, err := s.Search(context.Background(), "KUBERNETES", SearchOptions{Mode: SearchFulltext})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Fatalf("hits = %d, want 1", len(hits))
	}
}

func TestFulltextScoresAndFilters(t *testing.T) {
	s := newTestStore(t, nil)
	for _, row := range []struct {
		sid, content string
		typ          Type
	}{
		{"a", "redis redis redis cache", TypeConversation},
		{"a", "redis once", TypeConversation},
		{"b", "redis in another session", TypeConversation},
		{"a", "nothing relevant here", TypeConversation},
	} {
		e := NewEntry(row.sid, row.typ, row.content)
		if err := s.Add(context.Background(), e, nil); err != nil {
			t.Fatal(err)
		}
	}

	hits, err := s.Search(context.Background(), "redis", SearchOptions{
		Mode: SearchFulltext, SessionID: "a",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %d, want 2", len(hits))
	}
	if hits[0].Content != "redis redis redis cache" {
		t.Errorf("highest score first, got %q", hits[0].Content)
	}
}

func TestVectorSearchRanksBySimilarity(t *testing.T) {
	emb := &fakeEmbedder{model: "embed-a", dim: 8}
	s := newTestStore(t, emb)

	close := NewEntry("", TypeConversation, "weekly planning call")
	far := NewEntry("", TypeConversation, "zzzzzzzzzzzzzzzzzzzzzzzzzzzz")
	for _, e := range []*Entry{far, close} {
		if err := s.Add(context.Background(), e, nil); err != nil {
			t.Fatal(err)
		}
	}

	hits, err := s.Search(context.Background(), "weekly planning call", SearchOptions{Mode: SearchVector})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %d, want 2", len(hits))
	}
	if hits[0].ID != close.ID {
		t.Errorf("nearest entry should rank first")
	}
}

func TestHybridDedup(t *testing.T) {
	emb := &fakeEmbedder{model: "embed-a", dim: 8}
	s := newTestStore(t, emb)

	e := NewEntry("", TypeConversation, "grafana dashboard for latency")
	if err := s.Add(context.Background(), e, nil); err != nil {
		t.Fatal(err)
	}

	// The row matches both sub-queries; it must appear once.
	hits, err := s.Search(context.Background(), "grafana dashboard for latency", SearchOptions{Mode: SearchHybrid})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Errorf("hits = %d, want 1 after dedup", len(hits))
	}
}

func TestUpdateVector(t *testing.T) {
	emb := &fakeEmbedder{model: "embed-a", dim: 8}
	s := newTestStore(t, emb)

	e := NewEntry("", TypeConversation, "migrate me")
	if err := s.Add(context.Background(), e, nil); err != nil {
		t.Fatal(err)
	}
	before, _ := s.Get(e.ID)

	newCol := ModelIDToVectorColumn("test/embed-b")
	newVec := []float32{1, 2, 3, 4}
	if err := s.UpdateVector(e.ID, newCol, newVec, "test/embed-b"); err != nil {
		t.Fatal(err)
	}

	after, err := s.Get(e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(after.Vectors[newCol]) != 4 {
		t.Errorf("new vector missing: %v", after.Vectors)
	}
	oldCol := ModelIDToVectorColumn("test/embed-a")
	if len(after.Vectors[oldCol]) != 8 {
		t.Errorf("old vector should be preserved: %v", after.Vectors)
	}
	if after.ActiveEmbed != "test/embed-b" {
		t.Errorf("active_embed = %q, want the new model key", after.ActiveEmbed)
	}
	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Errorf("updated_at must strictly increase: %v -> %v", before.UpdatedAt, after.UpdatedAt)
	}
}

func TestAutoSearchMigrationAware(t *testing.T) {
	emb := &fakeEmbedder{model: "embed-new", dim: 8}
	s := newTestStore(t, emb)

	cursor := time.Now().Add(-time.Hour)

	// Migrated row: carries the new-model vector, created before the cursor.
	migrated := NewEntry("", TypeConversation, "postgres backup schedule")
	migrated.CreatedAt = cursor.Add(-time.Minute)
	if err := s.Add(context.Background(), migrated, nil); err != nil {
		t.Fatal(err)
	}

	// Unmigrated but fresh: no vector, created after the cursor. Fulltext
	// must still surface it.
	fresh := NewEntry("", TypeConversation, "postgres vacuum ran today")
	fresh.CreatedAt = cursor.Add(time.Minute)
	if err := s.Add(context.Background(), fresh, []float32{}); err != nil {
		t.Fatal(err)
	}

	// Unmigrated and stale: no vector, created before the cursor. The
	// migration-aware path skips it on both sides.
	stale := NewEntry("", TypeConversation, "postgres incident last month")
	stale.CreatedAt = cursor.Add(-2 * time.Hour)
	if err := s.Add(context.Background(), stale, []float32{}); err != nil {
		t.Fatal(err)
	}

	s.SetMigrationProbe(func() (bool, string, time.Time) {
		return true, "test/embed-new", cursor
	})

	hits, err := s.Search(context.Background(), "postgres", SearchOptions{Mode: SearchAuto})
	if err != nil {
		t.Fatal(err)
	}

	ids := make(map[string]bool)
	for _, h := range hits {
		if ids[h.ID] {
			t.Errorf("duplicate id %s", h.ID)
		}
		ids[h.ID] = true
	}
	if !ids[migrated.ID] {
		t.Error("migrated row missing from vector side")
	}
	if !ids[fresh.ID] {
		t.Error("fresh row missing from fulltext side")
	}
	if ids[stale.ID] {
		t.Error("stale unmigrated row should be skipped while migration runs")
	}
}

func TestAutoSearchFallsBackToFulltext(t *testing.T) {
	s := newTestStore(t, nil) // no embedder: vector search always errors
	e := NewEntry("", TypeConversation, "fallback works")
	if err := s.Add(context.Background(), e, nil); err != nil {
		t.Fatal(err)
	}

	hits, err := s.Search(context.Background(), "fallback", SearchOptions{Mode: SearchAuto})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Errorf("hits = %d, want 1", len(hits))
	}
}

func TestFetchNextBatchNewestFirst(t *testing.T) {
	s := newTestStore(t, nil)
	base := time.Now().Add(-time.Hour)
	var ids []string
	for i := 0; i < 5; i++ {
		e := NewEntry("", TypeConversation, fmt.Sprintf("record %d", i))
		e.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := s.Add(context.Background(), e, nil); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, e.ID)
	}

	col := ModelIDToVectorColumn("test/embed-new")
	batch, err := s.FetchNextBatch(col, nil, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 3 {
		t.Fatalf("batch = %d, want 3", len(batch))
	}
	if batch[0].ID != ids[4] || batch[2].ID != ids[2] {
		t.Errorf("expected newest first, got %s .. %s", batch[0].ID, batch[2].ID)
	}

	// Excluded ids are skipped.
	batch, err = s.FetchNextBatch(col, []string{ids[4]}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if batch[0].ID != ids[3] {
		t.Errorf("exclusion ignored, got %s", batch[0].ID)
	}
}

func TestRetentionPurgesOnlyConversations(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, StoreOptions{SearchLimit: 10})
	if err != nil {
		t.Fatal(err)
	}

	old := time.Now().AddDate(0, 0, -30)
	conv := NewEntry("", TypeConversation, "ancient chat")
	conv.CreatedAt = old
	sum := NewEntry("", TypeSummary, "ancient summary")
	sum.CreatedAt = old
	for _, e := range []*Entry{conv, sum} {
		if err := s.Add(context.Background(), e, nil); err != nil {
			t.Fatal(err)
		}
	}
	s.Close()

	s2, err := Open(dir, StoreOptions{SearchLimit: 10, RetentionDays: 7})
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	if _, err := s2.Get(conv.ID); err == nil {
		t.Error("expired conversation should be purged")
	}
	if _, err := s2.Get(sum.ID); err != nil {
		t.Error("summaries must survive retention")
	}
}

func TestLegacyVectorColumnMigration(t *testing.T) {
	dir := t.TempDir()

	// Build a pre-multi-model table by hand.
	s, err := Open(dir, StoreOptions{SearchLimit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.Exec(`ALTER TABLE memories ADD COLUMN vector BLOB`); err != nil {
		t.Fatal(err)
	}
	vec := []float32{1, 2, 3}
	_, err = s.db.Exec(
		`INSERT INTO memories (id, session_id, type, content, metadata, created_at, updated_at, vector)
		 VALUES ('legacy-1', '', 'conversation', 'old row', '{}', ?, ?, ?)`,
		time.Now().UnixMilli(), time.Now().UnixMilli(), EncodeVector(vec))
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	emb := &fakeEmbedder{model: "embed-a", dim: 3}
	s2, err := Open(dir, StoreOptions{Embedder: emb, ModelKey: "test/embed-a", SearchLimit: 10})
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	got, err := s2.Get("legacy-1")
	if err != nil {
		t.Fatal(err)
	}
	col := ModelIDToVectorColumn("test/embed-a")
	if len(got.Vectors[col]) != 3 {
		t.Errorf("legacy vector not migrated: %v", got.Vectors)
	}
	if got.ActiveEmbed != "test/embed-a" {
		t.Errorf("active_embed = %q", got.ActiveEmbed)
	}
}

func TestMarkdownMirror(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, StoreOptions{SearchLimit: 10})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	e := NewEntry("console:1", TypeSummary, "day went well")
	if err := s.Add(context.Background(), e, nil); err != nil {
		t.Fatal(err)
	}

	day := e.CreatedAt.UTC().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(dir, "sessions", day+".md"))
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	for _, want := range []string{"## 📝 摘要", e.ID, "day went well", "---"} {
		if !strings.Contains(text, want) {
			t.Errorf("mirror missing %q:\n%s", want, text)
		}
	}
}
