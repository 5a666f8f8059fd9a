package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jesspig/micro-agent/internal/providers"
)

// MigrationProbe reports whether an embedding migration is in flight, its
// target model key, and the cursor below which records are covered. The
// migration engine installs it so auto search can route around rows that
// have not been re-embedded yet.
type MigrationProbe func() (running bool, target string, migratedUntil time.Time)

// StoreOptions configures a Store.
type StoreOptions struct {
	// Embedder is optional. Without one every record is fulltext-only.
	Embedder providers.Embedder

	// ModelKey is the fully-qualified embedding model id, e.g.
	// "openai/text-embedding-3-small". Defaults to Embedder.Model().
	ModelKey string

	// MaxModels bounds the number of vector columns before a cleanup
	// pass is requested.
	MaxModels int

	// RetentionDays expires conversation records; 0 keeps them forever.
	RetentionDays int

	// SearchLimit caps results per search.
	SearchLimit int
}

// Store is the sqlite-backed memory table plus its markdown mirror.
// Writes are serialized through a single mutex; reads operate on row
// snapshots and never block writers for long.
type Store struct {
	mu       sync.Mutex
	db       *sql.DB
	dir      string
	embedder providers.Embedder
	modelKey string

	maxModels   int
	retention   time.Duration
	searchLimit int

	columns map[string]struct{} // known vector_ columns
	mirror  *markdownMirror
	probe   MigrationProbe
}

const defaultSearchLimit = 10

// Open creates or opens the memory database under dir.
func Open(dir string, opts StoreOptions) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("memory: create dir: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "memory.db"))
	if err != nil {
		return nil, fmt.Errorf("memory: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	modelKey := opts.ModelKey
	if modelKey == "" && opts.Embedder != nil {
		modelKey = opts.Embedder.Model()
	}

	s := &Store{
		db:          db,
		dir:         dir,
		embedder:    opts.Embedder,
		modelKey:    modelKey,
		maxModels:   opts.MaxModels,
		retention:   time.Duration(opts.RetentionDays) * 24 * time.Hour,
		searchLimit: opts.SearchLimit,
		columns:     make(map[string]struct{}),
		mirror:      newMarkdownMirror(filepath.Join(dir, "sessions")),
	}
	if s.maxModels <= 0 {
		s.maxModels = 3
	}
	if s.searchLimit <= 0 {
		s.searchLimit = defaultSearchLimit
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrateLegacySchema(); err != nil {
		db.Close()
		return nil, err
	}
	if n, err := s.purgeExpired(); err != nil {
		slog.Warn("memory: retention purge failed", "error", err)
	} else if n > 0 {
		slog.Info("memory: expired conversation records removed", "count", n)
	}

	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// SetMigrationProbe wires the migration engine's status into auto search.
func (s *Store) SetMigrationProbe(p MigrationProbe) {
	s.mu.Lock()
	s.probe = p
	s.mu.Unlock()
}

// ModelKey returns the embedding model the store writes new vectors with.
func (s *Store) ModelKey() string { return s.modelKey }

// Embedder returns the configured embedding service, or nil.
func (s *Store) Embedder() providers.Embedder { return s.embedder }

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			id             TEXT PRIMARY KEY,
			session_id     TEXT NOT NULL DEFAULT '',
			type           TEXT NOT NULL DEFAULT 'conversation',
			content        TEXT NOT NULL,
			metadata       TEXT NOT NULL DEFAULT '{}',
			created_at     INTEGER NOT NULL,
			updated_at     INTEGER NOT NULL,
			active_embed   TEXT NOT NULL DEFAULT '',
			embed_versions TEXT NOT NULL DEFAULT '{}'
		);
		CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at);
		CREATE INDEX IF NOT EXISTS idx_memories_session ON memories(session_id);
	`)
	if err != nil {
		return fmt.Errorf("memory: create schema: %w", err)
	}
	return s.loadColumns()
}

func (s *Store) loadColumns() error {
	rows, err := s.db.Query(`PRAGMA table_info(memories)`)
	if err != nil {
		return fmt.Errorf("memory: inspect schema: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return fmt.Errorf("memory: scan schema row: %w", err)
		}
		if IsVectorColumn(name) {
			s.columns[name] = struct{}{}
		}
	}
	return rows.Err()
}

// migrateLegacySchema upgrades a table from before the multi-model vector
// scheme: base columns are added if missing and a bare "vector" column is
// folded into the current model's column.
func (s *Store) migrateLegacySchema() error {
	existing, err := s.columnNames()
	if err != nil {
		return err
	}

	for col, ddl := range map[string]string{
		"active_embed":   `ALTER TABLE memories ADD COLUMN active_embed TEXT NOT NULL DEFAULT ''`,
		"embed_versions": `ALTER TABLE memories ADD COLUMN embed_versions TEXT NOT NULL DEFAULT '{}'`,
	} {
		if _, ok := existing[col]; !ok {
			if _, err := s.db.Exec(ddl); err != nil {
				return fmt.Errorf("memory: add column %s: %w", col, err)
			}
		}
	}

	if _, hasLegacy := existing["vector"]; !hasLegacy || s.modelKey == "" {
		return nil
	}

	col := ModelIDToVectorColumn(s.modelKey)
	if err := s.ensureVectorColumn(col); err != nil {
		return err
	}
	versions, _ := json.Marshal(map[string]time.Time{s.modelKey: time.Now()})
	_, err = s.db.Exec(fmt.Sprintf(
		`UPDATE memories SET %s = vector, active_embed = ?, embed_versions = ? WHERE vector IS NOT NULL`, col),
		s.modelKey, string(versions))
	if err != nil {
		return fmt.Errorf("memory: migrate legacy vectors: %w", err)
	}
	if _, err := s.db.Exec(`ALTER TABLE memories DROP COLUMN vector`); err != nil {
		// Old sqlite builds cannot drop columns. The data is already
		// copied, so the stale column is harmless.
		slog.Warn("memory: could not drop legacy vector column", "error", err)
	}
	slog.Info("memory: legacy vector column migrated", "model", s.modelKey)
	return nil
}

func (s *Store) columnNames() (map[string]struct{}, error) {
	rows, err := s.db.Query(`PRAGMA table_info(memories)`)
	if err != nil {
		return nil, fmt.Errorf("memory: inspect schema: %w", err)
	}
	defer rows.Close()

	names := make(map[string]struct{})
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		names[name] = struct{}{}
	}
	return names, rows.Err()
}

// ensureVectorColumn adds the column lazily on first use of a model.
func (s *Store) ensureVectorColumn(col string) error {
	if _, ok := s.columns[col]; ok {
		return nil
	}
	if _, err := s.db.Exec(fmt.Sprintf(`ALTER TABLE memories ADD COLUMN %s BLOB`, col)); err != nil {
		if !strings.Contains(err.Error(), "duplicate column") {
			return fmt.Errorf("memory: add vector column %s: %w", col, err)
		}
	}
	s.columns[col] = struct{}{}

	if len(s.columns) > s.maxModels {
		// Dropping vector columns needs a table rebuild. Until that is
		// implemented the overflow is only reported.
		slog.Warn("memory: vector columns exceed max_models, cleanup pending",
			"columns", len(s.columns), "max_models", s.maxModels)
	}
	return nil
}

// VectorColumns returns the known vector columns in sorted order.
func (s *Store) VectorColumns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	cols := make([]string, 0, len(s.columns))
	for c := range s.columns {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// Add writes one entry. The content is embedded with the active model
// unless the caller supplied a vector; if embedding fails the record is
// still stored for fulltext retrieval.
func (s *Store) Add(ctx context.Context, e *Entry, vector []float32) error {
	if e.ID == "" {
		e.ID = NewEntry(e.SessionID, e.Type, e.Content).ID
	}
	now := time.Now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	if vector == nil && s.embedder != nil {
		v, err := s.embedder.Embed(ctx, e.Content)
		if err != nil {
			slog.Warn("memory: embedding failed, storing fulltext-only",
				"id", e.ID, "error", err)
		} else {
			vector = v
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(vector) > 0 && s.modelKey != "" {
		col := ModelIDToVectorColumn(s.modelKey)
		if err := s.ensureVectorColumn(col); err != nil {
			return err
		}
		e.ActiveEmbed = s.modelKey
		if e.EmbedVersions == nil {
			e.EmbedVersions = make(map[string]time.Time)
		}
		e.EmbedVersions[s.modelKey] = now
		if e.Vectors == nil {
			e.Vectors = make(map[string][]float32)
		}
		e.Vectors[col] = vector
	}

	if err := s.insertLocked(e); err != nil {
		return err
	}

	if err := s.mirror.Append(e); err != nil {
		slog.Warn("memory: markdown mirror append failed", "error", err)
	}
	return nil
}

func (s *Store) insertLocked(e *Entry) error {
	metadata := "{}"
	if len(e.Metadata) > 0 {
		if b, err := json.Marshal(e.Metadata); err == nil {
			metadata = string(b)
		}
	}
	versions := "{}"
	if len(e.EmbedVersions) > 0 {
		if b, err := json.Marshal(e.EmbedVersions); err == nil {
			versions = string(b)
		}
	}

	cols := []string{"id", "session_id", "type", "content", "metadata",
		"created_at", "updated_at", "active_embed", "embed_versions"}
	args := []interface{}{e.ID, e.SessionID, string(e.Type), e.Content, metadata,
		e.CreatedAt.UnixMilli(), e.UpdatedAt.UnixMilli(), e.ActiveEmbed, versions}

	vecCols := make([]string, 0, len(e.Vectors))
	for c := range e.Vectors {
		vecCols = append(vecCols, c)
	}
	sort.Strings(vecCols)
	for _, c := range vecCols {
		if err := s.ensureVectorColumn(c); err != nil {
			return err
		}
		cols = append(cols, c)
		args = append(args, EncodeVector(e.Vectors[c]))
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
	query := fmt.Sprintf(`INSERT OR REPLACE INTO memories (%s) VALUES (%s)`,
		strings.Join(cols, ", "), placeholders)
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("memory: insert %s: %w", e.ID, err)
	}
	return nil
}

// Get fetches one entry by id.
func (s *Store) Get(id string) (*Entry, error) {
	entries, err := s.queryEntries(`SELECT * FROM memories WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("memory: entry %s not found", id)
	}
	return entries[0], nil
}

// Delete removes one entry by id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM memories WHERE id = ?`, id); err != nil {
		return fmt.Errorf("memory: delete %s: %w", id, err)
	}
	return nil
}

// Count returns the number of stored entries.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM memories`).Scan(&n); err != nil {
		return 0, fmt.Errorf("memory: count: %w", err)
	}
	return n, nil
}

// CountMissingVectors reports how many rows lack a vector in the column.
func (s *Store) CountMissingVectors(column string) (int, error) {
	if !IsVectorColumn(column) {
		return 0, fmt.Errorf("memory: not a vector column: %s", column)
	}
	s.mu.Lock()
	_, known := s.columns[column]
	s.mu.Unlock()
	if !known {
		return s.Count()
	}

	var n int
	query := fmt.Sprintf(
		`SELECT COUNT(*) FROM memories WHERE %s IS NULL OR length(%s) = 0`, column, column)
	if err := s.db.QueryRow(query).Scan(&n); err != nil {
		return 0, fmt.Errorf("memory: count missing vectors: %w", err)
	}
	return n, nil
}

// FetchNextBatch returns up to limit rows still missing a vector in the
// column, newest first, skipping any excluded ids.
func (s *Store) FetchNextBatch(column string, exclude []string, limit int) ([]*Entry, error) {
	if !IsVectorColumn(column) {
		return nil, fmt.Errorf("memory: not a vector column: %s", column)
	}
	s.mu.Lock()
	if err := s.ensureVectorColumn(column); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	query := fmt.Sprintf(
		`SELECT * FROM memories WHERE (%s IS NULL OR length(%s) = 0)`, column, column)
	args := make([]interface{}, 0, len(exclude)+1)
	if len(exclude) > 0 {
		query += fmt.Sprintf(" AND id NOT IN (%s)",
			strings.TrimSuffix(strings.Repeat("?,", len(exclude)), ","))
		for _, id := range exclude {
			args = append(args, id)
		}
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	return s.queryEntries(query, args...)
}

// UpdateVector rewrites one row with a new vector. The write is a
// delete-then-insert; if the insert fails the snapshot is restored.
func (s *Store) UpdateVector(id, column string, vector []float32, modelID string) error {
	snapshot, err := s.Get(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureVectorColumn(column); err != nil {
		return err
	}

	updated := *snapshot
	updated.Vectors = make(map[string][]float32, len(snapshot.Vectors)+1)
	for c, v := range snapshot.Vectors {
		updated.Vectors[c] = v
	}
	updated.Vectors[column] = vector
	updated.ActiveEmbed = modelID
	updated.EmbedVersions = make(map[string]time.Time, len(snapshot.EmbedVersions)+1)
	for k, t := range snapshot.EmbedVersions {
		updated.EmbedVersions[k] = t
	}
	now := time.Now()
	if !now.After(snapshot.UpdatedAt) {
		now = snapshot.UpdatedAt.Add(time.Millisecond)
	}
	updated.EmbedVersions[modelID] = now
	updated.UpdatedAt = now

	if _, err := s.db.Exec(`DELETE FROM memories WHERE id = ?`, id); err != nil {
		return fmt.Errorf("memory: update vector delete %s: %w", id, err)
	}
	if err := s.insertLocked(&updated); err != nil {
		if restoreErr := s.insertLocked(snapshot); restoreErr != nil {
			return fmt.Errorf("memory: update vector failed and restore failed: %w (restore: %v)",
				err, restoreErr)
		}
		return fmt.Errorf("memory: update vector %s: %w", id, err)
	}
	return nil
}

func (s *Store) purgeExpired() (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-s.retention).UnixMilli()
	res, err := s.db.Exec(
		`DELETE FROM memories WHERE type = ? AND created_at < ?`,
		string(TypeConversation), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// queryEntries runs a SELECT * and maps rows to entries, picking up
// whatever vector columns the schema currently carries.
func (s *Store) queryEntries(query string, args ...interface{}) ([]*Entry, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("memory: columns: %w", err)
	}

	var entries []*Entry
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("memory: scan: %w", err)
		}

		e := &Entry{}
		for i, col := range cols {
			v := values[i]
			switch col {
			case "id":
				e.ID = asString(v)
			case "session_id":
				e.SessionID = asString(v)
			case "type":
				e.Type = ParseType(asString(v))
			case "content":
				e.Content = asString(v)
			case "metadata":
				if raw := asString(v); raw != "" && raw != "{}" {
					_ = json.Unmarshal([]byte(raw), &e.Metadata)
				}
			case "created_at":
				e.CreatedAt = time.UnixMilli(asInt64(v))
			case "updated_at":
				e.UpdatedAt = time.UnixMilli(asInt64(v))
			case "active_embed":
				e.ActiveEmbed = asString(v)
			case "embed_versions":
				if raw := asString(v); raw != "" && raw != "{}" {
					_ = json.Unmarshal([]byte(raw), &e.EmbedVersions)
				}
			default:
				if !IsVectorColumn(col) {
					break
				}
				blob, ok := v.([]byte)
				if !ok || len(blob) == 0 {
					break
				}
				vec, err := DecodeVector(blob)
				if err != nil || len(vec) == 0 {
					break
				}
				if e.Vectors == nil {
					e.Vectors = make(map[string][]float32)
				}
				e.Vectors[col] = vec
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	}
	return ""
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case []byte:
		var out int64
		fmt.Sscanf(string(n), "%d", &out)
		return out
	}
	return 0
}
