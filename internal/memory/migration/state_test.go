package migration

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestStateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().Truncate(time.Millisecond)
	st := &State{
		TargetModel:   "openai/text-embedding-3-small",
		Status:        StatusPaused,
		TotalRecords:  200,
		MigratedCount: 150,
		MigratedUntil: now.UnixMilli(),
		BatchSize:     50,
		FailedRecords: []FailedRecord{{ID: "x", Error: "boom", Timestamp: now}},
		StartedAt:     &now,
	}
	if err := SaveState(dir, st); err != nil {
		t.Fatal(err)
	}

	got, err := LoadState(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusPaused || got.MigratedCount != 150 || got.MigratedUntil != st.MigratedUntil {
		t.Errorf("round trip = %+v", got)
	}
	if len(got.FailedRecords) != 1 || got.FailedRecords[0].ID != "x" {
		t.Errorf("failed records = %v", got.FailedRecords)
	}
}

func TestLoadStateMissingFile(t *testing.T) {
	st, err := LoadState(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != StatusIdle {
		t.Errorf("status = %s, want idle", st.Status)
	}
}

func TestLoadStateCorruptBacksUp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, stateFileName)
	garbage := []byte(`{"status": "running", "migrated_count": -`)
	if err := os.WriteFile(path, garbage, 0o644); err != nil {
		t.Fatal(err)
	}

	st, err := LoadState(dir)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != StatusIdle {
		t.Errorf("corrupt state should read as idle, got %s", st.Status)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var backedUp bool
	for _, e := range entries {
		if strings.Contains(e.Name(), ".corrupted.") {
			backedUp = true
			data, _ := os.ReadFile(filepath.Join(dir, e.Name()))
			if string(data) != string(garbage) {
				t.Error("backup content differs from the original")
			}
		}
	}
	if !backedUp {
		t.Error("no backup written for the corrupt file")
	}
}

func TestLoadStateRejectsInvalidFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, stateFileName)
	// Parses fine but violates the counters invariant.
	body := `{"target_model":"m","status":"running","total_records":10,"migrated_count":20,"batch_size":50,"failed_records":[]}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	st, err := LoadState(dir)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != StatusIdle {
		t.Errorf("invalid state should read as idle, got %s", st.Status)
	}
}
