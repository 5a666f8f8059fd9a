package migration

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Status is the lifecycle of a migration run.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

func validStatus(s Status) bool {
	switch s {
	case StatusIdle, StatusRunning, StatusPaused, StatusCompleted, StatusError:
		return true
	}
	return false
}

// FailedRecord remembers one record that could not be re-embedded.
type FailedRecord struct {
	ID        string    `json:"id"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// State is the persisted progress of one migration. MigratedUntil is the
// newest creation timestamp covered so far, in epoch milliseconds; zero
// means the cursor is unset.
type State struct {
	TargetModel   string         `json:"target_model"`
	Status        Status         `json:"status"`
	TotalRecords  int            `json:"total_records"`
	MigratedCount int            `json:"migrated_count"`
	MigratedUntil int64          `json:"migrated_until,omitempty"`
	BatchSize     int            `json:"batch_size"`
	FailedRecords []FailedRecord `json:"failed_records"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

const stateFileName = "migration-state.json"

// LoadState reads the state file under dir. A missing file yields a fresh
// idle state. A corrupt file is backed up with a timestamp suffix and
// treated as idle; the original is never deleted without the backup.
func LoadState(dir string) (*State, error) {
	path := filepath.Join(dir, stateFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &State{Status: StatusIdle, FailedRecords: []FailedRecord{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("migration: read state: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return backupCorrupt(path, data, fmt.Errorf("parse: %w", err))
	}
	if err := st.validate(); err != nil {
		return backupCorrupt(path, data, err)
	}
	if st.FailedRecords == nil {
		st.FailedRecords = []FailedRecord{}
	}
	return &st, nil
}

func (s *State) validate() error {
	if !validStatus(s.Status) {
		return fmt.Errorf("invalid status %q", s.Status)
	}
	if s.MigratedCount < 0 || s.TotalRecords < 0 {
		return fmt.Errorf("negative counters")
	}
	if s.MigratedCount > s.TotalRecords {
		return fmt.Errorf("migrated_count %d exceeds total_records %d", s.MigratedCount, s.TotalRecords)
	}
	if s.Status != StatusIdle && s.TargetModel == "" {
		return fmt.Errorf("missing target_model")
	}
	return nil
}

func backupCorrupt(path string, data []byte, cause error) (*State, error) {
	backup := fmt.Sprintf("%s.corrupted.%s", path,
		time.Now().UTC().Format("2006-01-02T15-04-05Z"))
	if err := os.WriteFile(backup, data, 0o644); err != nil {
		return nil, fmt.Errorf("migration: state corrupt (%v) and backup failed: %w", cause, err)
	}
	slog.Warn("migration: corrupt state file backed up",
		"backup", backup, "error", cause)
	return &State{Status: StatusIdle, FailedRecords: []FailedRecord{}}, nil
}

// SaveState writes the state atomically and fsyncs before the rename.
func SaveState(dir string, st *State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("migration: marshal state: %w", err)
	}

	path := filepath.Join(dir, stateFileName)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("migration: open temp state: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("migration: write state: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("migration: sync state: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("migration: close state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("migration: rename state: %w", err)
	}
	return nil
}
