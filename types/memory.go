package types

import "time"

// RetentionPolicy controls how long a session memory is kept.
type RetentionPolicy string

const (
	// RetentionProject keeps the memory for the lifetime of the project
	// (90 days of inactivity).
	RetentionProject RetentionPolicy = "project"

	// RetentionOrg keeps the memory for the org retention window (1 year).
	RetentionOrg RetentionPolicy = "org"

	// RetentionIndefinite keeps the memory until explicitly deleted.
	RetentionIndefinite RetentionPolicy = "indefinite"
)

// CodeReference is a code artifact extracted from a conversation.
type CodeReference struct {
	// Type is "code_block" or "file_path".
	Type string `json:"type"`

	// Language is the fence language for code blocks; Path is set for
	// file references.
	Language string `json:"language,omitempty"`
	Path     string `json:"path,omitempty"`

	Content         string `json:"content,omitempty"`
	SourceMessageID string `json:"source_message_id"`
}

// SessionMemory is the durable cross-session distillation of a finished
// conversation. Read-only after creation except for ExpiresAt policy
// updates.
type SessionMemory struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	ProjectID string `json:"project_id"`
	SessionID string `json:"session_id"`

	Summary        string          `json:"summary"`
	KeyDecisions   []string        `json:"key_decisions"`
	CodeReferences []CodeReference `json:"code_references"`
	Tags           []string        `json:"tags"`

	// RelevanceScore is the initial static score; the external retriever
	// refines it at query time.
	RelevanceScore float64   `json:"relevance_score"`
	Embedding      []float32 `json:"embedding,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
