// Package checkpoint provides restorable point-in-time snapshots of a
// conversation, with content-derived auto-labels and tags, a per-session
// retention cap, and TTL expiry swept by the maintenance package.
package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/jayusctrojan/ctxpg/classify"
	"github.com/jayusctrojan/ctxpg/compaction"
	"github.com/jayusctrojan/ctxpg/storage"
	"github.com/jayusctrojan/ctxpg/types"
)

// Default retention values.
const (
	// DefaultRetentionCap is the per-session checkpoint count cap.
	DefaultRetentionCap = 50

	// DefaultTTL is how long a checkpoint is kept before the sweep
	// deletes it.
	DefaultTTL = 30 * 24 * time.Hour
)

// Config holds checkpoint manager configuration.
type Config struct {
	// RetentionCap is the maximum checkpoints kept per session. Oldest
	// excess is deleted after each create. Default: 50
	RetentionCap int

	// TTL is the checkpoint age cap. Default: 30 days
	TTL time.Duration
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.RetentionCap == 0 {
		c.RetentionCap = DefaultRetentionCap
	}
	if c.TTL == 0 {
		c.TTL = DefaultTTL
	}
}

// Manager creates, lists, and restores checkpoints.
type Manager struct {
	store      storage.Store
	classifier classify.Classifier
	config     *Config
	logger     compaction.Logger

	// dispatch runs retention trimming off the request path. Swappable
	// for tests; defaults to a goroutine.
	dispatch func(func())

	now func() time.Time
}

// NewManager creates a Manager. A nil config selects defaults; a nil
// classifier selects the pattern classifier.
func NewManager(store storage.Store, classifier classify.Classifier, config *Config, logger compaction.Logger) *Manager {
	if config == nil {
		config = &Config{}
	}
	config.ApplyDefaults()
	if classifier == nil {
		classifier = classify.NewPatternClassifier()
	}
	if logger == nil {
		logger = compaction.NopLogger()
	}

	return &Manager{
		store:      store,
		classifier: classifier,
		config:     config,
		logger:     logger,
		dispatch:   func(fn func()) { go fn() },
		now:        time.Now,
	}
}

// Create snapshots the session under its lock and returns the new
// checkpoint id. An empty label is auto-derived from the most recent
// messages.
func (m *Manager) Create(ctx context.Context, sessionID string, trigger types.Trigger, label string) (string, error) {
	var checkpointID string

	err := m.store.WithSessionLock(ctx, sessionID, func(ctx context.Context) error {
		cc, err := m.store.GetContext(ctx, sessionID)
		if err != nil {
			return err
		}
		checkpointID, err = m.CreateFromContext(ctx, cc, trigger, label)
		return err
	})
	if err != nil {
		return "", err
	}
	return checkpointID, nil
}

// CreateFromContext snapshots an already-loaded context. The caller is
// expected to hold the session lock; the method takes none, so the
// condensing engine can checkpoint mid-compaction without deadlocking.
func (m *Manager) CreateFromContext(ctx context.Context, cc *types.ConversationContext, trigger types.Trigger, label string) (string, error) {
	now := m.now().UTC()

	if label == "" {
		label = classify.AutoLabel(m.classifier, cc.Messages, now)
	}

	snapshot := make([]*types.Message, len(cc.Messages))
	for i, msg := range cc.Messages {
		snapshot[i] = msg.Clone()
	}

	cp := &types.Checkpoint{
		ID:               types.NewID(),
		SessionID:        cc.SessionID,
		Label:            label,
		Trigger:          trigger,
		MessagesSnapshot: snapshot,
		TokenCount:       cc.TotalTokens,
		AutoTags:         classify.MessageTags(m.classifier, cc.Messages, classify.DefaultRecentWindow),
		Metadata:         map[string]any{},
		CreatedAt:        now,
		ExpiresAt:        now.Add(m.config.TTL),
	}

	if err := m.store.CreateCheckpoint(ctx, cp); err != nil {
		return "", fmt.Errorf("failed to create checkpoint: %w", err)
	}

	m.logger.Info("checkpoint created",
		"session_id", cc.SessionID,
		"checkpoint_id", cp.ID,
		"trigger", trigger,
		"label", label,
		"token_count", cp.TokenCount,
	)

	// Retention trimming never runs synchronously inside a user-facing
	// request path.
	sessionID := cc.SessionID
	m.dispatch(func() {
		m.trim(context.Background(), sessionID)
	})

	return cp.ID, nil
}

// List returns checkpoint metadata for the session, newest first.
func (m *Manager) List(ctx context.Context, sessionID string) ([]*types.CheckpointSummary, error) {
	return m.store.ListCheckpoints(ctx, sessionID)
}

// Restore rebuilds the conversation from the checkpoint's snapshot. The
// restored context is treated as freshly loaded: LastCompactionAt is
// unset, so no cooldown applies. Restoring the same checkpoint twice
// yields identical results.
func (m *Manager) Restore(ctx context.Context, checkpointID string) (*types.ConversationContext, error) {
	cp, err := m.store.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		return nil, err
	}

	var restored *types.ConversationContext
	err = m.store.WithSessionLock(ctx, cp.SessionID, func(ctx context.Context) error {
		cc, err := m.store.GetContext(ctx, cp.SessionID)
		if err != nil {
			return err
		}

		cc.Messages = make([]*types.Message, len(cp.MessagesSnapshot))
		for i, msg := range cp.MessagesSnapshot {
			cc.Messages[i] = msg.Clone()
		}
		cc.SortMessages()
		cc.TotalTokens = cc.SumTokens()
		cc.LastCompactionAt = nil
		cc.UpdatedAt = m.now().UTC()

		if err := m.store.RestoreContext(ctx, cc); err != nil {
			return fmt.Errorf("failed to restore context: %w", err)
		}

		restored = cc.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("checkpoint restored",
		"session_id", cp.SessionID,
		"checkpoint_id", checkpointID,
		"messages", len(restored.Messages),
		"total_tokens", restored.TotalTokens,
	)

	return restored, nil
}

// trim enforces the per-session retention cap.
func (m *Manager) trim(ctx context.Context, sessionID string) {
	deleted, err := m.store.TrimCheckpoints(ctx, sessionID, m.config.RetentionCap)
	if err != nil {
		m.logger.Error("checkpoint retention trim failed",
			"session_id", sessionID,
			"error", err,
		)
		return
	}
	if deleted > 0 {
		m.logger.Debug("checkpoint retention trimmed",
			"session_id", sessionID,
			"deleted", deleted,
		)
	}
}
