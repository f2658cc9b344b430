package types

import "time"

// Checkpoint is a restorable point-in-time snapshot of a conversation.
type Checkpoint struct {
	ID        string  `json:"id"`
	SessionID string  `json:"session_id"`
	Label     string  `json:"label"`
	Trigger   Trigger `json:"trigger"`

	// MessagesSnapshot is a full copy of the conversation's messages at
	// snapshot time.
	MessagesSnapshot []*Message `json:"messages_snapshot"`

	TokenCount int            `json:"token_count"`
	AutoTags   []string       `json:"auto_tags"`
	Metadata   map[string]any `json:"metadata"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CheckpointSummary is the listing view of a checkpoint, without the
// snapshot payload.
type CheckpointSummary struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Label      string    `json:"label"`
	Trigger    Trigger   `json:"trigger"`
	TokenCount int       `json:"token_count"`
	AutoTags   []string  `json:"auto_tags"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}
