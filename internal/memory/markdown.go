package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// markdownMirror appends human-readable copies of stored entries to one
// file per UTC day. The mirror is write-only; retrieval never reads it.
type markdownMirror struct {
	dir string
}

func newMarkdownMirror(dir string) *markdownMirror {
	return &markdownMirror{dir: dir}
}

var typeHeaders = map[Type]string{
	TypeConversation: "## 💬 对话",
	TypeSummary:      "## 📝 摘要",
	TypeEntity:       "## 🏷️ 实体",
}

func (m *markdownMirror) Append(e *Entry) error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("memory: create mirror dir: %w", err)
	}

	day := e.CreatedAt.UTC().Format("2006-01-02")
	path := filepath.Join(m.dir, day+".md")

	var b strings.Builder
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintf(&b, "# 记忆日志 %s\n\n", day)
	}

	header, ok := typeHeaders[e.Type]
	if !ok {
		header = typeHeaders[TypeConversation]
	}
	b.WriteString(header + "\n\n")
	fmt.Fprintf(&b, "- id: %s\n", e.ID)
	if e.SessionID != "" {
		fmt.Fprintf(&b, "- session: %s\n", e.SessionID)
	}
	fmt.Fprintf(&b, "- time: %s\n", e.CreatedAt.UTC().Format(time.RFC3339))
	if tags := e.Tags(); len(tags) > 0 {
		fmt.Fprintf(&b, "- tags: %s\n", strings.Join(tags, ", "))
	}
	b.WriteString("\n")
	b.WriteString(strings.TrimRight(e.Content, "\n"))
	b.WriteString("\n\n---\n\n")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("memory: open mirror file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("memory: append mirror entry: %w", err)
	}
	return nil
}
