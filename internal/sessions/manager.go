package sessions

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jesspig/micro-agent/internal/providers"
)

const (
	// MaxTurns caps per-session history; older turns are dropped.
	MaxTurns = 50

	// MaxSessions caps the process-wide session map; the least recently
	// updated session is evicted on insert.
	MaxSessions = 1000
)

// Session stores conversation history for one channel:chatId pair.
// System turns are never stored; they are re-assembled each turn.
type Session struct {
	Key      string              `json:"key"`
	Messages []providers.Message `json:"messages"`
	Summary  string              `json:"summary,omitempty"`
	Created  time.Time           `json:"created"`
	Updated  time.Time           `json:"updated"`
}

// Manager handles session lifecycle, persistence, and LRU eviction.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	storage  string // empty = in-memory only
}

func NewManager(storage string) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		storage:  storage,
	}
	if storage != "" {
		os.MkdirAll(storage, 0755)
		m.loadAll()
	}
	return m
}

// GetOrCreate returns an existing session or creates a new one, evicting
// the least recently updated session when the map is at capacity.
func (m *Manager) GetOrCreate(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrCreateLocked(key)
}

func (m *Manager) getOrCreateLocked(key string) *Session {
	if s, ok := m.sessions[key]; ok {
		return s
	}

	if len(m.sessions) >= MaxSessions {
		m.evictOldestLocked()
	}

	now := time.Now()
	s := &Session{Key: key, Messages: []providers.Message{}, Created: now, Updated: now}
	m.sessions[key] = s
	return s
}

func (m *Manager) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, s := range m.sessions {
		if oldestKey == "" || s.Updated.Before(oldest) {
			oldestKey, oldest = k, s.Updated
		}
	}
	if oldestKey != "" {
		delete(m.sessions, oldestKey)
		slog.Debug("evicted session", "key", oldestKey)
	}
}

// AppendTurn adds messages to a session, trims to MaxTurns, and persists.
func (m *Manager) AppendTurn(key string, msgs ...providers.Message) {
	m.mu.Lock()
	s := m.getOrCreateLocked(key)
	s.Messages = append(s.Messages, msgs...)
	if len(s.Messages) > MaxTurns {
		s.Messages = s.Messages[len(s.Messages)-MaxTurns:]
	}
	s.Updated = time.Now()
	snapshot := *s
	snapshot.Messages = append([]providers.Message(nil), s.Messages...)
	m.mu.Unlock()

	m.save(&snapshot)
}

// History returns a copy of the message history.
func (m *Manager) History(key string) []providers.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[key]
	if !ok {
		return nil
	}
	msgs := make([]providers.Message, len(s.Messages))
	copy(msgs, s.Messages)
	return msgs
}

// Summary returns the rolled-up summary for a session.
func (m *Manager) Summary(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		return s.Summary
	}
	return ""
}

// SetSummary replaces the summary and trims history to the given tail.
func (m *Manager) SetSummary(key, summary string, keepLast int) {
	m.mu.Lock()
	s, ok := m.sessions[key]
	if !ok {
		m.mu.Unlock()
		return
	}
	s.Summary = summary
	if keepLast >= 0 && len(s.Messages) > keepLast {
		s.Messages = s.Messages[len(s.Messages)-keepLast:]
	}
	s.Updated = time.Now()
	snapshot := *s
	snapshot.Messages = append([]providers.Message(nil), s.Messages...)
	m.mu.Unlock()

	m.save(&snapshot)
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// IdleSessions returns keys of sessions not updated since the cutoff that
// have at least minTurns messages.
func (m *Manager) IdleSessions(cutoff time.Time, minTurns int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for k, s := range m.sessions {
		if s.Updated.Before(cutoff) && len(s.Messages) >= minTurns {
			keys = append(keys, k)
		}
	}
	return keys
}

// save writes the session atomically: temp file, then rename.
func (m *Manager) save(s *Session) {
	if m.storage == "" {
		return
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		slog.Error("marshal session", "key", s.Key, "error", err)
		return
	}

	path := m.sessionPath(s.Key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		slog.Error("write session", "key", s.Key, "error", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		slog.Error("rename session", "key", s.Key, "error", err)
	}
}

func (m *Manager) sessionPath(key string) string {
	safe := strings.NewReplacer("/", "_", ":", "_").Replace(key)
	return filepath.Join(m.storage, fmt.Sprintf("%s.json", safe))
}

func (m *Manager) loadAll() {
	entries, err := os.ReadDir(m.storage)
	if err != nil {
		return
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.storage, e.Name()))
		if err != nil {
			continue
		}
		var s Session
		if err := json.Unmarshal(data, &s); err != nil || s.Key == "" {
			slog.Warn("skipping unreadable session file", "file", e.Name())
			continue
		}
		if len(s.Messages) > MaxTurns {
			s.Messages = s.Messages[len(s.Messages)-MaxTurns:]
		}
		m.sessions[s.Key] = &s
	}
	slog.Debug("loaded sessions", "count", len(m.sessions))
}
