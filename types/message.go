package types

import (
	"time"

	"github.com/google/uuid"
)

// Role represents the message role
type Role string

const (
	// RoleUser represents a user message
	RoleUser Role = "user"

	// RoleAssistant represents an assistant message
	RoleAssistant Role = "assistant"

	// RoleSystem represents a system message
	RoleSystem Role = "system"
)

// Message represents one conversation turn or one compaction artifact.
type Message struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`

	// TokenCount is the counted size of Content for the session's model.
	TokenCount int `json:"token_count"`

	// IsProtected marks a message that is never eligible for compaction.
	IsProtected bool `json:"is_protected"`

	// IsSummary marks a message that replaced earlier messages during
	// compaction. OriginalMessageIDs holds the ids it replaced.
	IsSummary          bool     `json:"is_summary"`
	OriginalMessageIDs []string `json:"original_message_ids,omitempty"`

	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewMessage creates a new message for a session
func NewMessage(sessionID string, role Role, content string) *Message {
	return &Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Metadata:  make(map[string]any),
		CreatedAt: time.Now().UTC(),
	}
}

// NewUserMessage creates a new user message
func NewUserMessage(sessionID, content string) *Message {
	return NewMessage(sessionID, RoleUser, content)
}

// NewAssistantMessage creates a new assistant message
func NewAssistantMessage(sessionID, content string) *Message {
	return NewMessage(sessionID, RoleAssistant, content)
}

// NewSummaryMessage creates the summary message that replaces a condensed
// range. originalIDs are the ids of the messages the summary stands in for.
func NewSummaryMessage(sessionID, content string, originalIDs []string) *Message {
	msg := NewMessage(sessionID, RoleAssistant, content)
	msg.IsSummary = true
	msg.OriginalMessageIDs = originalIDs
	return msg
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	cp := *m
	if m.OriginalMessageIDs != nil {
		cp.OriginalMessageIDs = append([]string(nil), m.OriginalMessageIDs...)
	}
	if m.Metadata != nil {
		cp.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
