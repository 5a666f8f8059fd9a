package migration

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jesspig/micro-agent/internal/memory"
	"github.com/jesspig/micro-agent/internal/providers"
)

// Table is the slice of the memory store the engine drives.
type Table interface {
	Count() (int, error)
	FetchNextBatch(column string, exclude []string, limit int) ([]*memory.Entry, error)
	UpdateVector(id, column string, vector []float32, modelID string) error
}

// Event reports worker progress to the configured listener.
type Event struct {
	Type          string // progress, complete, error
	MigratedCount int
	TotalRecords  int
	Progress      float64 // percent
	BatchSize     int
	SuccessCount  int
	FailCount     int
}

// Options configures an Engine.
type Options struct {
	TargetModel string

	// BatchSize defaults to 50.
	BatchSize int

	// Interval fixes the inter-batch sleep; zero selects adaptive pacing.
	Interval time.Duration

	OnEvent func(Event)
}

const defaultBatchSize = 50

// Engine re-embeds existing records into a new model's vector column with
// a single background worker. Only one run may be active at a time.
type Engine struct {
	table    Table
	embedder providers.Embedder
	dir      string
	opts     Options

	mu     sync.Mutex
	state  *State
	pacer  *pacer
	cancel context.CancelFunc
	done   chan struct{}
}

// New loads any persisted state from dir and prepares an engine.
func New(dir string, table Table, embedder providers.Embedder, opts Options) (*Engine, error) {
	if opts.TargetModel == "" {
		return nil, fmt.Errorf("migration: target model required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	st, err := LoadState(dir)
	if err != nil {
		return nil, err
	}
	// A run interrupted by a crash resumes as paused, never silently
	// running without a worker.
	if st.Status == StatusRunning {
		st.Status = StatusPaused
	}

	return &Engine{
		table:    table,
		embedder: embedder,
		dir:      dir,
		opts:     opts,
		state:    st,
		pacer:    newPacer(),
	}, nil
}

// State returns a snapshot of the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := *e.state
	st.FailedRecords = append([]FailedRecord(nil), e.state.FailedRecords...)
	return st
}

// Probe exposes the running/target/cursor triple to the store's auto
// search without an import cycle.
func (e *Engine) Probe() memory.MigrationProbe {
	return func() (bool, string, time.Time) {
		e.mu.Lock()
		defer e.mu.Unlock()
		var until time.Time
		if e.state.MigratedUntil > 0 {
			until = time.UnixMilli(e.state.MigratedUntil)
		}
		return e.state.Status == StatusRunning, e.state.TargetModel, until
	}
}

// Start begins a fresh run, counting rows and resetting progress.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state.Status == StatusRunning {
		e.mu.Unlock()
		return fmt.Errorf("migration: already running")
	}

	total, err := e.table.Count()
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("migration: count rows: %w", err)
	}
	now := time.Now()
	e.state = &State{
		TargetModel:   e.opts.TargetModel,
		Status:        StatusRunning,
		TotalRecords:  total,
		BatchSize:     e.opts.BatchSize,
		FailedRecords: []FailedRecord{},
		StartedAt:     &now,
	}
	e.pacer = newPacer()
	if err := SaveState(e.dir, e.state); err != nil {
		e.state.Status = StatusIdle
		e.mu.Unlock()
		return err
	}
	e.spawnLocked(ctx)
	e.mu.Unlock()

	slog.Info("migration: started",
		"target", e.opts.TargetModel, "total", total, "batch_size", e.opts.BatchSize)
	return nil
}

// Resume continues a paused run from the persisted cursor. Records that
// already carry the target vector are never re-embedded.
func (e *Engine) Resume(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state.Status {
	case StatusRunning:
		return fmt.Errorf("migration: already running")
	case StatusCompleted:
		return fmt.Errorf("migration: already completed")
	}
	if e.state.TargetModel == "" {
		e.state.TargetModel = e.opts.TargetModel
	}
	if e.state.BatchSize <= 0 {
		e.state.BatchSize = e.opts.BatchSize
	}
	e.state.Status = StatusRunning
	if err := SaveState(e.dir, e.state); err != nil {
		e.state.Status = StatusPaused
		return err
	}
	e.spawnLocked(ctx)
	slog.Info("migration: resumed", "migrated", e.state.MigratedCount)
	return nil
}

// Pause stops the worker after its current record and persists progress.
func (e *Engine) Pause() error {
	e.mu.Lock()
	if e.state.Status != StatusRunning {
		e.mu.Unlock()
		return fmt.Errorf("migration: not running")
	}
	e.state.Status = StatusPaused
	err := SaveState(e.dir, e.state)
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	slog.Info("migration: paused")
	return err
}

// Stop halts any worker without changing persisted status beyond what
// Pause would record.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	if e.state.Status == StatusRunning {
		e.state.Status = StatusPaused
		if err := SaveState(e.dir, e.state); err != nil {
			slog.Warn("migration: save state on stop failed", "error", err)
		}
	}
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// RetryFailed re-attempts the named failed records, or all of them when
// ids is empty. Successes leave failedRecords and count as migrated.
func (e *Engine) RetryFailed(ctx context.Context, ids ...string) error {
	e.mu.Lock()
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var todo []FailedRecord
	for _, fr := range e.state.FailedRecords {
		if len(ids) == 0 || wanted[fr.ID] {
			todo = append(todo, fr)
		}
	}
	col := memory.ModelIDToVectorColumn(e.state.TargetModel)
	target := e.state.TargetModel
	e.mu.Unlock()

	recovered := make(map[string]bool, len(todo))
	for _, fr := range todo {
		if err := e.migrateOne(ctx, fr.ID, col, target); err != nil {
			slog.Warn("migration: retry failed", "id", fr.ID, "error", err)
			continue
		}
		recovered[fr.ID] = true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.state.FailedRecords[:0]
	for _, fr := range e.state.FailedRecords {
		if recovered[fr.ID] {
			e.state.MigratedCount++
		} else {
			kept = append(kept, fr)
		}
	}
	e.state.FailedRecords = kept
	if e.state.MigratedCount > e.state.TotalRecords {
		e.state.TotalRecords = e.state.MigratedCount
	}
	return SaveState(e.dir, e.state)
}

func (e *Engine) migrateOne(ctx context.Context, id, col, target string) error {
	entry, err := e.fetchByID(id)
	if err != nil {
		return err
	}
	vec, err := e.embedder.Embed(ctx, entry.Content)
	if err != nil {
		return err
	}
	return e.table.UpdateVector(id, col, vec, target)
}

func (e *Engine) fetchByID(id string) (*memory.Entry, error) {
	type getter interface {
		Get(id string) (*memory.Entry, error)
	}
	g, ok := e.table.(getter)
	if !ok {
		return nil, fmt.Errorf("migration: table cannot fetch by id")
	}
	return g.Get(id)
}

func (e *Engine) spawnLocked(ctx context.Context) {
	wctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.worker(wctx, e.done)
}

func (e *Engine) worker(ctx context.Context, done chan struct{}) {
	defer close(done)

	e.mu.Lock()
	target := e.state.TargetModel
	e.mu.Unlock()
	col := memory.ModelIDToVectorColumn(target)

	for {
		if ctx.Err() != nil {
			return
		}

		e.mu.Lock()
		if e.state.Status != StatusRunning {
			e.mu.Unlock()
			return
		}
		batchSize := e.state.BatchSize
		exclude := make([]string, 0, len(e.state.FailedRecords))
		for _, fr := range e.state.FailedRecords {
			exclude = append(exclude, fr.ID)
		}
		e.mu.Unlock()

		batch, err := e.table.FetchNextBatch(col, exclude, batchSize)
		if err != nil {
			e.fail(fmt.Errorf("fetch batch: %w", err))
			return
		}
		if len(batch) == 0 {
			e.complete()
			return
		}

		start := time.Now()
		success, failed := 0, 0
		for _, rec := range batch {
			if ctx.Err() != nil {
				break
			}
			vec, err := e.embedder.Embed(ctx, rec.Content)
			if err == nil {
				err = e.table.UpdateVector(rec.ID, col, vec, target)
			}

			e.mu.Lock()
			if err != nil {
				failed++
				e.state.FailedRecords = append(e.state.FailedRecords, FailedRecord{
					ID: rec.ID, Error: err.Error(), Timestamp: time.Now(),
				})
				e.pacer.failure()
			} else {
				success++
				e.state.MigratedCount++
				if ms := rec.CreatedAt.UnixMilli(); ms > e.state.MigratedUntil {
					e.state.MigratedUntil = ms
				}
				if e.state.MigratedCount > e.state.TotalRecords {
					e.state.TotalRecords = e.state.MigratedCount
				}
			}
			e.mu.Unlock()
		}

		e.mu.Lock()
		if success > 0 {
			e.pacer.success(time.Since(start) / time.Duration(success+failed))
		}
		if err := SaveState(e.dir, e.state); err != nil {
			slog.Warn("migration: save state failed", "error", err)
		}
		ev := Event{
			Type:          "progress",
			MigratedCount: e.state.MigratedCount,
			TotalRecords:  e.state.TotalRecords,
			BatchSize:     e.state.BatchSize,
			SuccessCount:  success,
			FailCount:     failed,
		}
		if ev.TotalRecords > 0 {
			ev.Progress = 100 * float64(ev.MigratedCount) / float64(ev.TotalRecords)
		}
		interval := e.opts.Interval
		if interval <= 0 {
			interval = e.pacer.next()
		}
		e.mu.Unlock()

		e.emit(ev)

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func (e *Engine) complete() {
	e.mu.Lock()
	now := time.Now()
	e.state.Status = StatusCompleted
	e.state.CompletedAt = &now
	if err := SaveState(e.dir, e.state); err != nil {
		slog.Warn("migration: save state failed", "error", err)
	}
	ev := Event{
		Type:          "complete",
		MigratedCount: e.state.MigratedCount,
		TotalRecords:  e.state.TotalRecords,
		Progress:      100,
		BatchSize:     e.state.BatchSize,
	}
	e.mu.Unlock()

	e.emit(ev)
	slog.Info("migration: completed",
		"migrated", ev.MigratedCount, "failed", len(e.State().FailedRecords))
}

func (e *Engine) fail(err error) {
	e.mu.Lock()
	e.state.Status = StatusError
	if saveErr := SaveState(e.dir, e.state); saveErr != nil {
		slog.Warn("migration: save state failed", "error", saveErr)
	}
	ev := Event{
		Type:          "error",
		MigratedCount: e.state.MigratedCount,
		TotalRecords:  e.state.TotalRecords,
		BatchSize:     e.state.BatchSize,
	}
	e.mu.Unlock()

	e.emit(ev)
	slog.Error("migration: worker stopped", "error", err)
}

func (e *Engine) emit(ev Event) {
	if e.opts.OnEvent != nil {
		e.opts.OnEvent(ev)
	}
}
