package types

import (
	"sort"
	"time"
)

// Settings holds per-context tunables.
type Settings struct {
	// AutoCompactThreshold is the usage ratio (0,1] at which automatic
	// compaction triggers. Default: 0.8
	AutoCompactThreshold float64 `json:"auto_compact_threshold"`
}

// ConversationContext is the live, mutable state of one conversation.
//
// Invariant: TotalTokens equals the sum of TokenCount over Messages after
// any mutation completes, and Messages are ordered by CreatedAt.
type ConversationContext struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	ProjectID string `json:"project_id"`

	Messages []*Message `json:"messages"`

	// TotalTokens is derived from Messages and cached on the row.
	TotalTokens int `json:"total_tokens"`
	MaxTokens   int `json:"max_tokens"`

	// ProtectedMessageIDs are message ids excluded from compaction in
	// addition to messages flagged IsProtected.
	ProtectedMessageIDs map[string]struct{} `json:"-"`

	LastCompactionAt *time.Time `json:"last_compaction_at,omitempty"`
	CompactionCount  int        `json:"compaction_count"`

	Model    string   `json:"model"`
	Settings Settings `json:"settings"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewConversationContext creates a context for the first turn of a session.
func NewConversationContext(sessionID, userID, projectID, model string, maxTokens int) *ConversationContext {
	now := time.Now().UTC()
	return &ConversationContext{
		SessionID:           sessionID,
		UserID:              userID,
		ProjectID:           projectID,
		MaxTokens:           maxTokens,
		Model:               model,
		ProtectedMessageIDs: make(map[string]struct{}),
		Settings:            Settings{AutoCompactThreshold: 0.8},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// SumTokens recomputes the token total from the message list.
func (c *ConversationContext) SumTokens() int {
	total := 0
	for _, m := range c.Messages {
		total += m.TokenCount
	}
	return total
}

// SortMessages orders Messages by CreatedAt, oldest first. Ties keep their
// current relative order so a summary inserted at the condensed range's
// timestamp stays where the range was.
func (c *ConversationContext) SortMessages() {
	sort.SliceStable(c.Messages, func(i, j int) bool {
		return c.Messages[i].CreatedAt.Before(c.Messages[j].CreatedAt)
	})
}

// IsProtectedMessage reports whether the message is excluded from
// compaction, either by its own flag or by the context's protected set.
func (c *ConversationContext) IsProtectedMessage(m *Message) bool {
	if m.IsProtected {
		return true
	}
	_, ok := c.ProtectedMessageIDs[m.ID]
	return ok
}

// Condensable returns the messages eligible for compaction input.
// Summary messages from earlier compactions stay eligible so repeated
// compactions keep folding history into a single summary.
func (c *ConversationContext) Condensable() []*Message {
	var out []*Message
	for _, m := range c.Messages {
		if !c.IsProtectedMessage(m) {
			out = append(out, m)
		}
	}
	return out
}

// Clone returns a deep copy of the context, including messages.
func (c *ConversationContext) Clone() *ConversationContext {
	cp := *c
	cp.Messages = make([]*Message, len(c.Messages))
	for i, m := range c.Messages {
		cp.Messages[i] = m.Clone()
	}
	cp.ProtectedMessageIDs = make(map[string]struct{}, len(c.ProtectedMessageIDs))
	for id := range c.ProtectedMessageIDs {
		cp.ProtectedMessageIDs[id] = struct{}{}
	}
	if c.LastCompactionAt != nil {
		t := *c.LastCompactionAt
		cp.LastCompactionAt = &t
	}
	return &cp
}
