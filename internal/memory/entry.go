package memory

import (
	"time"

	"github.com/google/uuid"
)

// Type classifies a memory entry. Conversation turns expire after the
// retention window; summaries and entities are kept indefinitely.
type Type string

const (
	TypeConversation Type = "conversation"
	TypeSummary      Type = "summary"
	TypeEntity       Type = "entity"
)

// ParseType resolves a stored type string, defaulting to conversation.
func ParseType(s string) Type {
	switch Type(s) {
	case TypeSummary:
		return TypeSummary
	case TypeEntity:
		return TypeEntity
	default:
		return TypeConversation
	}
}

// Entry is one memory record.
type Entry struct {
	ID        string                 `json:"id"`
	SessionID string                 `json:"session_id"`
	Type      Type                   `json:"type"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`

	// ActiveEmbed names the vector column currently considered current.
	ActiveEmbed string `json:"active_embed,omitempty"`

	// EmbedVersions tracks when each embedding model last covered this row.
	EmbedVersions map[string]time.Time `json:"embed_versions,omitempty"`

	// Vectors holds the populated vector columns. Empty vectors are
	// reported as absent.
	Vectors map[string][]float32 `json:"-"`
}

// NewEntry builds an entry with a fresh id and matching timestamps.
func NewEntry(sessionID string, typ Type, content string) *Entry {
	now := time.Now()
	return &Entry{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      typ,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Tags returns the metadata tags list, if any.
func (e *Entry) Tags() []string {
	raw, ok := e.Metadata["tags"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
