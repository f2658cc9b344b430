// Package storage provides the durable store for conversation contexts,
// compaction results, checkpoints, and session memories.
//
// The canonical implementation is PostgresStore on top of pgx/v5. An
// in-memory implementation for unit tests lives in internal/testutil.
package storage

import (
	"context"
	"time"

	"github.com/jayusctrojan/ctxpg/types"
)

// Store defines the persistence interface for the context manager.
//
// Contexts are mutable rows upserted in place; compaction results are an
// append-only log; checkpoints carry a full message snapshot payload and
// an expiry index for sweep queries; session memories carry an embedding
// vector for similarity search.
type Store interface {
	// Context operations
	CreateContext(ctx context.Context, cc *types.ConversationContext) error
	// GetContext loads the context row together with its messages,
	// ordered by created_at.
	GetContext(ctx context.Context, sessionID string) (*types.ConversationContext, error)
	// UpdateContextState persists the context row's mutable fields
	// (totals, compaction bookkeeping, protected set, settings). It does
	// not touch messages.
	UpdateContextState(ctx context.Context, cc *types.ConversationContext) error

	// Message operations. Each call persists the message change and the
	// context row's derived state in a single transaction so the
	// totalTokens invariant holds across crashes.
	AppendMessage(ctx context.Context, cc *types.ConversationContext, msg *types.Message) error
	// ApplyCompaction removes the condensed messages and inserts the
	// summary message atomically.
	ApplyCompaction(ctx context.Context, cc *types.ConversationContext, removedIDs []string, summary *types.Message) error
	// DeleteMessages removes the given messages (recovery force-removal).
	DeleteMessages(ctx context.Context, cc *types.ConversationContext, ids []string) error
	// RestoreContext replaces the session's entire message set with the
	// messages on cc (checkpoint restore).
	RestoreContext(ctx context.Context, cc *types.ConversationContext) error

	// Compaction result log (append-only)
	SaveCompactionResult(ctx context.Context, result *types.CompactionResult) error
	ListCompactionResults(ctx context.Context, sessionID string) ([]*types.CompactionResult, error)

	// Checkpoint operations
	CreateCheckpoint(ctx context.Context, cp *types.Checkpoint) error
	GetCheckpoint(ctx context.Context, checkpointID string) (*types.Checkpoint, error)
	// ListCheckpoints returns checkpoint metadata newest first, without
	// snapshot payloads.
	ListCheckpoints(ctx context.Context, sessionID string) ([]*types.CheckpointSummary, error)
	// TrimCheckpoints deletes the oldest checkpoints beyond keep and
	// returns how many were removed.
	TrimCheckpoints(ctx context.Context, sessionID string, keep int) (int, error)
	DeleteExpiredCheckpoints(ctx context.Context, now time.Time) (int, error)

	// Session memory operations
	SaveSessionMemory(ctx context.Context, mem *types.SessionMemory) error
	GetSessionMemory(ctx context.Context, memoryID string) (*types.SessionMemory, error)
	// ListSessionMemories returns unexpired memories, newest first,
	// optionally filtered by project.
	ListSessionMemories(ctx context.Context, projectID string, limit int) ([]*types.SessionMemory, error)
	DeleteExpiredSessionMemories(ctx context.Context, now time.Time) (int, error)

	// WithSessionLock runs fn while holding the per-session advisory
	// lock. The lock serializes mutating operations (append, compact,
	// restore, recovery) for one session across processes; granularity is
	// per session, never global.
	WithSessionLock(ctx context.Context, sessionID string, fn func(ctx context.Context) error) error

	// Leader election support for the maintenance sweeper.
	LeaderAttemptElect(ctx context.Context, instanceID string, ttl time.Duration) (bool, error)
	LeaderResign(ctx context.Context, instanceID string) error
	LeaderDeleteExpired(ctx context.Context) (int, error)
}
