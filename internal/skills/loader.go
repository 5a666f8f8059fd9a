package skills

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 250 * time.Millisecond

// Skill is one markdown skill file. Always-on skills are inlined into the
// system prompt; the rest appear in the catalog for progressive disclosure.
type Skill struct {
	Name    string
	Summary string
	Content string
	Always  bool
}

// Loader reads skills from a directory of .md files and optionally watches
// it for edits.
type Loader struct {
	dir string

	mu     sync.RWMutex
	skills map[string]*Skill
}

func NewLoader(dir string) *Loader {
	return &Loader{dir: dir, skills: make(map[string]*Skill)}
}

// Load scans the skills directory. A missing directory yields zero skills.
func (l *Loader) Load() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read skills dir: %w", err)
	}

	loaded := make(map[string]*Skill)
	for _, e := range entries {
		// Two layouts: <dir>/<name>.md and <dir>/<name>/SKILL.md.
		if e.IsDir() {
			data, err := os.ReadFile(filepath.Join(l.dir, e.Name(), "SKILL.md"))
			if err != nil {
				continue
			}
			s := parseSkill(e.Name(), string(data))
			loaded[s.Name] = s
			continue
		}
		if !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(l.dir, e.Name()))
		if err != nil {
			slog.Warn("skipping unreadable skill", "file", e.Name(), "error", err)
			continue
		}
		s := parseSkill(strings.TrimSuffix(e.Name(), ".md"), string(data))
		loaded[s.Name] = s
	}

	l.mu.Lock()
	l.skills = loaded
	l.mu.Unlock()

	slog.Debug("loaded skills", "count", len(loaded), "dir", l.dir)
	return nil
}

// Watch reloads the directory on changes until ctx is cancelled. Events are
// debounced so editor save bursts trigger a single reload.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(l.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", l.dir, err)
	}
	if entries, err := os.ReadDir(l.dir); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				if err := watcher.Add(filepath.Join(l.dir, e.Name())); err != nil {
					slog.Warn("could not watch skill dir", "dir", e.Name(), "error", err)
				}
			}
		}
	}

	go func() {
		defer watcher.Close()

		var timer *time.Timer
		reload := func() {
			if err := l.Load(); err != nil {
				slog.Warn("skill reload failed", "error", err)
			}
		}

		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(watchDebounce, reload)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("skill watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Get returns a skill by name.
func (l *Loader) Get(name string) (*Skill, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.skills[name]
	return s, ok
}

// Always returns the always-on skills sorted by name.
func (l *Loader) Always() []*Skill {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*Skill
	for _, s := range l.skills {
		if s.Always {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Catalog renders one line per non-always skill for the system prompt.
func (l *Loader) Catalog() string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	names := make([]string, 0, len(l.skills))
	for name, s := range l.skills {
		if !s.Always {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		s := l.skills[name]
		summary := s.Summary
		if summary == "" {
			summary = "(no summary)"
		}
		fmt.Fprintf(&sb, "- %s: %s\n", name, summary)
	}
	return sb.String()
}

// parseSkill reads an optional key:value frontmatter block delimited by
// "---" lines, then treats the rest as content.
func parseSkill(name, raw string) *Skill {
	s := &Skill{Name: name, Content: raw}

	trimmed := strings.TrimLeft(raw, "\n\r \t")
	if !strings.HasPrefix(trimmed, "---") {
		s.Summary = firstLine(raw)
		return s
	}

	rest := trimmed[3:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		s.Summary = firstLine(raw)
		return s
	}

	front := rest[:end]
	body := strings.TrimLeft(rest[end+4:], "\n\r")
	s.Content = body

	for _, line := range strings.Split(front, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "name":
			if value != "" {
				s.Name = value
			}
		case "summary", "description":
			s.Summary = value
		case "always":
			s.Always = value == "true" || value == "yes"
		}
	}
	if s.Summary == "" {
		s.Summary = firstLine(body)
	}
	return s
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "# "))
		if line != "" {
			if len(line) > 120 {
				line = line[:120]
			}
			return line
		}
	}
	return ""
}
