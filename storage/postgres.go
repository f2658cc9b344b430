package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jayusctrojan/ctxpg/types"
)

// leaderName is the single election namespace for maintenance work.
const leaderName = "default"

// txContextKey is the context key for storing pgx.Tx
type txContextKey struct{}

// WithTx returns a new context with the given transaction
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

// TxFromContext retrieves the transaction from context, or nil if not present
func TxFromContext(ctx context.Context) pgx.Tx {
	if tx, ok := ctx.Value(txContextKey{}).(pgx.Tx); ok {
		return tx
	}
	return nil
}

// querier is a common interface for pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL with pgx
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool exposes the underlying connection pool for components that need a
// dedicated connection (the LISTEN/NOTIFY notifier).
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// getQuerier returns the transaction from context if present, otherwise the pool
func (s *PostgresStore) getQuerier(ctx context.Context) querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

// =============================================================================
// Contexts
// =============================================================================

// CreateContext inserts a new conversation context row.
func (s *PostgresStore) CreateContext(ctx context.Context, cc *types.ConversationContext) error {
	if cc.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}

	settingsJSON, err := json.Marshal(cc.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	query := `
		INSERT INTO ctxpg_contexts
			(session_id, user_id, project_id, total_tokens, max_tokens,
			 protected_message_ids, last_compaction_at, compaction_count,
			 model, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
	`

	_, err = s.getQuerier(ctx).Exec(ctx, query,
		cc.SessionID, cc.UserID, cc.ProjectID, cc.TotalTokens, cc.MaxTokens,
		protectedIDsToSlice(cc.ProtectedMessageIDs), cc.LastCompactionAt,
		cc.CompactionCount, cc.Model, settingsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to create context: %w", err)
	}

	return nil
}

// GetContext retrieves a context row and its messages ordered by created_at.
func (s *PostgresStore) GetContext(ctx context.Context, sessionID string) (*types.ConversationContext, error) {
	query := `
		SELECT session_id, user_id, project_id, total_tokens, max_tokens,
		       protected_message_ids, last_compaction_at, compaction_count,
		       model, settings, created_at, updated_at
		FROM ctxpg_contexts
		WHERE session_id = $1
	`

	var cc types.ConversationContext
	var protectedIDs []string
	var settingsJSON []byte

	err := s.getQuerier(ctx).QueryRow(ctx, query, sessionID).Scan(
		&cc.SessionID,
		&cc.UserID,
		&cc.ProjectID,
		&cc.TotalTokens,
		&cc.MaxTokens,
		&protectedIDs,
		&cc.LastCompactionAt,
		&cc.CompactionCount,
		&cc.Model,
		&settingsJSON,
		&cc.CreatedAt,
		&cc.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get context: %w", err)
	}

	if err := json.Unmarshal(settingsJSON, &cc.Settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}

	cc.ProtectedMessageIDs = make(map[string]struct{}, len(protectedIDs))
	for _, id := range protectedIDs {
		cc.ProtectedMessageIDs[id] = struct{}{}
	}

	messages, err := s.getMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	cc.Messages = messages

	return &cc, nil
}

// UpdateContextState persists the mutable fields of the context row.
func (s *PostgresStore) UpdateContextState(ctx context.Context, cc *types.ConversationContext) error {
	settingsJSON, err := json.Marshal(cc.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	query := `
		UPDATE ctxpg_contexts
		SET total_tokens = $2,
		    protected_message_ids = $3,
		    last_compaction_at = $4,
		    compaction_count = $5,
		    settings = $6,
		    updated_at = NOW()
		WHERE session_id = $1
	`

	tag, err := s.getQuerier(ctx).Exec(ctx, query,
		cc.SessionID, cc.TotalTokens, protectedIDsToSlice(cc.ProtectedMessageIDs),
		cc.LastCompactionAt, cc.CompactionCount, settingsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to update context: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session not found: %s", cc.SessionID)
	}

	return nil
}

// =============================================================================
// Messages
// =============================================================================

func (s *PostgresStore) getMessages(ctx context.Context, sessionID string) ([]*types.Message, error) {
	query := `
		SELECT id, session_id, role, content, token_count, is_protected,
		       is_summary, original_message_ids, metadata, created_at
		FROM ctxpg_messages
		WHERE session_id = $1
		ORDER BY created_at ASC
	`

	rows, err := s.getQuerier(ctx).Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []*types.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

func scanMessage(row pgx.Row) (*types.Message, error) {
	var msg types.Message
	var metadataJSON []byte

	err := row.Scan(
		&msg.ID,
		&msg.SessionID,
		&msg.Role,
		&msg.Content,
		&msg.TokenCount,
		&msg.IsProtected,
		&msg.IsSummary,
		&msg.OriginalMessageIDs,
		&metadataJSON,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}

	if err := json.Unmarshal(metadataJSON, &msg.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message metadata: %w", err)
	}

	return &msg, nil
}

func insertMessage(ctx context.Context, q querier, msg *types.Message) error {
	metadataJSON, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal message metadata: %w", err)
	}

	query := `
		INSERT INTO ctxpg_messages
			(id, session_id, role, content, token_count, is_protected,
			 is_summary, original_message_ids, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = q.Exec(ctx, query,
		msg.ID, msg.SessionID, msg.Role, msg.Content, msg.TokenCount,
		msg.IsProtected, msg.IsSummary, msg.OriginalMessageIDs,
		metadataJSON, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	return nil
}

// AppendMessage inserts the message and updates the context row atomically.
func (s *PostgresStore) AppendMessage(ctx context.Context, cc *types.ConversationContext, msg *types.Message) error {
	return s.inTx(ctx, func(txCtx context.Context) error {
		if err := insertMessage(txCtx, s.getQuerier(txCtx), msg); err != nil {
			return err
		}
		return s.UpdateContextState(txCtx, cc)
	})
}

// ApplyCompaction removes the condensed messages, inserts the summary, and
// updates the context row in a single transaction.
func (s *PostgresStore) ApplyCompaction(ctx context.Context, cc *types.ConversationContext, removedIDs []string, summary *types.Message) error {
	return s.inTx(ctx, func(txCtx context.Context) error {
		q := s.getQuerier(txCtx)

		if len(removedIDs) > 0 {
			_, err := q.Exec(txCtx,
				`DELETE FROM ctxpg_messages WHERE session_id = $1 AND id = ANY($2)`,
				cc.SessionID, removedIDs,
			)
			if err != nil {
				return fmt.Errorf("failed to delete condensed messages: %w", err)
			}
		}

		if summary != nil {
			if err := insertMessage(txCtx, q, summary); err != nil {
				return err
			}
		}

		return s.UpdateContextState(txCtx, cc)
	})
}

// DeleteMessages removes the given messages and updates the context row.
func (s *PostgresStore) DeleteMessages(ctx context.Context, cc *types.ConversationContext, ids []string) error {
	if len(ids) == 0 {
		return s.UpdateContextState(ctx, cc)
	}

	return s.inTx(ctx, func(txCtx context.Context) error {
		_, err := s.getQuerier(txCtx).Exec(txCtx,
			`DELETE FROM ctxpg_messages WHERE session_id = $1 AND id = ANY($2)`,
			cc.SessionID, ids,
		)
		if err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		return s.UpdateContextState(txCtx, cc)
	})
}

// RestoreContext replaces the session's message set with the messages on cc.
func (s *PostgresStore) RestoreContext(ctx context.Context, cc *types.ConversationContext) error {
	return s.inTx(ctx, func(txCtx context.Context) error {
		q := s.getQuerier(txCtx)

		_, err := q.Exec(txCtx, `DELETE FROM ctxpg_messages WHERE session_id = $1`, cc.SessionID)
		if err != nil {
			return fmt.Errorf("failed to clear messages: %w", err)
		}

		for _, msg := range cc.Messages {
			if err := insertMessage(txCtx, q, msg); err != nil {
				return err
			}
		}

		return s.UpdateContextState(txCtx, cc)
	})
}

// inTx runs fn inside the context's transaction if one is present,
// otherwise it begins and commits its own.
func (s *PostgresStore) inTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(WithTx(ctx, tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// =============================================================================
// Compaction results
// =============================================================================

// SaveCompactionResult appends one compaction result row. Rows are never
// updated or deleted.
func (s *PostgresStore) SaveCompactionResult(ctx context.Context, result *types.CompactionResult) error {
	query := `
		INSERT INTO ctxpg_compaction_results
			(id, session_id, trigger, pre_tokens, post_tokens,
			 reduction_percent, messages_condensed, summary_preview,
			 duration_ms, estimated_cost, model_used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := s.getQuerier(ctx).Exec(ctx, query,
		result.ID, result.SessionID, result.Trigger, result.PreTokens,
		result.PostTokens, result.ReductionPercent, result.MessagesCondensed,
		result.SummaryPreview, result.DurationMs, result.EstimatedCost,
		nullableString(result.ModelUsed), result.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save compaction result: %w", err)
	}

	return nil
}

// ListCompactionResults returns the compaction log for a session, oldest first.
func (s *PostgresStore) ListCompactionResults(ctx context.Context, sessionID string) ([]*types.CompactionResult, error) {
	query := `
		SELECT id, session_id, trigger, pre_tokens, post_tokens,
		       reduction_percent, messages_condensed, summary_preview,
		       duration_ms, estimated_cost, model_used, created_at
		FROM ctxpg_compaction_results
		WHERE session_id = $1
		ORDER BY created_at ASC
	`

	rows, err := s.getQuerier(ctx).Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query compaction results: %w", err)
	}
	defer rows.Close()

	var results []*types.CompactionResult
	for rows.Next() {
		var r types.CompactionResult
		var modelUsed *string

		err := rows.Scan(
			&r.ID, &r.SessionID, &r.Trigger, &r.PreTokens, &r.PostTokens,
			&r.ReductionPercent, &r.MessagesCondensed, &r.SummaryPreview,
			&r.DurationMs, &r.EstimatedCost, &modelUsed, &r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan compaction result: %w", err)
		}
		if modelUsed != nil {
			r.ModelUsed = *modelUsed
		}
		results = append(results, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating compaction results: %w", err)
	}

	return results, nil
}

// =============================================================================
// Checkpoints
// =============================================================================

// CreateCheckpoint stores a checkpoint with its full message snapshot.
func (s *PostgresStore) CreateCheckpoint(ctx context.Context, cp *types.Checkpoint) error {
	snapshotJSON, err := json.Marshal(cp.MessagesSnapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal messages snapshot: %w", err)
	}

	metadataJSON, err := json.Marshal(cp.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint metadata: %w", err)
	}

	query := `
		INSERT INTO ctxpg_checkpoints
			(id, session_id, label, trigger, messages_snapshot, token_count,
			 auto_tags, metadata, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = s.getQuerier(ctx).Exec(ctx, query,
		cp.ID, cp.SessionID, cp.Label, cp.Trigger, snapshotJSON,
		cp.TokenCount, cp.AutoTags, metadataJSON, cp.CreatedAt, cp.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint: %w", err)
	}

	return nil
}

// GetCheckpoint retrieves a checkpoint including its snapshot payload.
func (s *PostgresStore) GetCheckpoint(ctx context.Context, checkpointID string) (*types.Checkpoint, error) {
	query := `
		SELECT id, session_id, label, trigger, messages_snapshot, token_count,
		       auto_tags, metadata, created_at, expires_at
		FROM ctxpg_checkpoints
		WHERE id = $1
	`

	var cp types.Checkpoint
	var snapshotJSON, metadataJSON []byte

	err := s.getQuerier(ctx).QueryRow(ctx, query, checkpointID).Scan(
		&cp.ID, &cp.SessionID, &cp.Label, &cp.Trigger, &snapshotJSON,
		&cp.TokenCount, &cp.AutoTags, &metadataJSON, &cp.CreatedAt, &cp.ExpiresAt,
	)

	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, checkpointID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	if err := json.Unmarshal(snapshotJSON, &cp.MessagesSnapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal messages snapshot: %w", err)
	}
	if err := json.Unmarshal(metadataJSON, &cp.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint metadata: %w", err)
	}

	return &cp, nil
}

// ListCheckpoints returns checkpoint metadata for a session, newest first.
// Snapshot payloads are not loaded.
func (s *PostgresStore) ListCheckpoints(ctx context.Context, sessionID string) ([]*types.CheckpointSummary, error) {
	query := `
		SELECT id, session_id, label, trigger, token_count, auto_tags,
		       created_at, expires_at
		FROM ctxpg_checkpoints
		WHERE session_id = $1
		ORDER BY created_at DESC
	`

	rows, err := s.getQuerier(ctx).Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []*types.CheckpointSummary
	for rows.Next() {
		var cp types.CheckpointSummary
		err := rows.Scan(
			&cp.ID, &cp.SessionID, &cp.Label, &cp.Trigger, &cp.TokenCount,
			&cp.AutoTags, &cp.CreatedAt, &cp.ExpiresAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		checkpoints = append(checkpoints, &cp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoints: %w", err)
	}

	return checkpoints, nil
}

// TrimCheckpoints deletes the oldest checkpoints beyond keep for a session.
func (s *PostgresStore) TrimCheckpoints(ctx context.Context, sessionID string, keep int) (int, error) {
	query := `
		DELETE FROM ctxpg_checkpoints
		WHERE id IN (
			SELECT id FROM ctxpg_checkpoints
			WHERE session_id = $1
			ORDER BY created_at DESC
			OFFSET $2
		)
	`

	tag, err := s.getQuerier(ctx).Exec(ctx, query, sessionID, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to trim checkpoints: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

// DeleteExpiredCheckpoints removes checkpoints past their TTL.
func (s *PostgresStore) DeleteExpiredCheckpoints(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.getQuerier(ctx).Exec(ctx,
		`DELETE FROM ctxpg_checkpoints WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired checkpoints: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

// =============================================================================
// Session memories
// =============================================================================

// SaveSessionMemory stores a session memory row.
func (s *PostgresStore) SaveSessionMemory(ctx context.Context, mem *types.SessionMemory) error {
	decisionsJSON, err := json.Marshal(mem.KeyDecisions)
	if err != nil {
		return fmt.Errorf("failed to marshal key decisions: %w", err)
	}

	refsJSON, err := json.Marshal(mem.CodeReferences)
	if err != nil {
		return fmt.Errorf("failed to marshal code references: %w", err)
	}

	query := `
		INSERT INTO ctxpg_session_memories
			(id, user_id, project_id, session_id, summary, key_decisions,
			 code_references, tags, relevance_score, embedding, created_at,
			 expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = s.getQuerier(ctx).Exec(ctx, query,
		mem.ID, mem.UserID, mem.ProjectID, mem.SessionID, mem.Summary,
		decisionsJSON, refsJSON, mem.Tags, mem.RelevanceScore,
		mem.Embedding, mem.CreatedAt, mem.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session memory: %w", err)
	}

	return nil
}

// GetSessionMemory retrieves a session memory by ID.
func (s *PostgresStore) GetSessionMemory(ctx context.Context, memoryID string) (*types.SessionMemory, error) {
	query := `
		SELECT id, user_id, project_id, session_id, summary, key_decisions,
		       code_references, tags, relevance_score, embedding, created_at,
		       expires_at
		FROM ctxpg_session_memories
		WHERE id = $1
	`

	mem, err := scanSessionMemory(s.getQuerier(ctx).QueryRow(ctx, query, memoryID))
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrMemoryNotFound, memoryID)
	}
	return mem, err
}

// ListSessionMemories returns unexpired memories, newest first. An empty
// projectID matches all projects.
func (s *PostgresStore) ListSessionMemories(ctx context.Context, projectID string, limit int) ([]*types.SessionMemory, error) {
	query := `
		SELECT id, user_id, project_id, session_id, summary, key_decisions,
		       code_references, tags, relevance_score, embedding, created_at,
		       expires_at
		FROM ctxpg_session_memories
		WHERE ($1 = '' OR project_id = $1)
		  AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := s.getQuerier(ctx).Query(ctx, query, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query session memories: %w", err)
	}
	defer rows.Close()

	var memories []*types.SessionMemory
	for rows.Next() {
		mem, err := scanSessionMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, mem)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session memories: %w", err)
	}

	return memories, nil
}

func scanSessionMemory(row pgx.Row) (*types.SessionMemory, error) {
	var mem types.SessionMemory
	var decisionsJSON, refsJSON []byte

	err := row.Scan(
		&mem.ID, &mem.UserID, &mem.ProjectID, &mem.SessionID, &mem.Summary,
		&decisionsJSON, &refsJSON, &mem.Tags, &mem.RelevanceScore,
		&mem.Embedding, &mem.CreatedAt, &mem.ExpiresAt,
	)
	if err == pgx.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session memory: %w", err)
	}

	if err := json.Unmarshal(decisionsJSON, &mem.KeyDecisions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal key decisions: %w", err)
	}
	if err := json.Unmarshal(refsJSON, &mem.CodeReferences); err != nil {
		return nil, fmt.Errorf("failed to unmarshal code references: %w", err)
	}

	return &mem, nil
}

// DeleteExpiredSessionMemories removes memories past their expiration.
func (s *PostgresStore) DeleteExpiredSessionMemories(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.getQuerier(ctx).Exec(ctx,
		`DELETE FROM ctxpg_session_memories WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired session memories: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

// =============================================================================
// Per-session locks
// =============================================================================

// sessionLockKey derives the advisory lock key for a session.
func sessionLockKey(sessionID string) int64 {
	h := fnv.New64a()
	h.Write([]byte("ctxpg:session:"))
	h.Write([]byte(sessionID))
	return int64(h.Sum64())
}

// WithSessionLock runs fn while holding the session's advisory lock on a
// dedicated connection. The lock is session-scoped in PostgreSQL terms, so
// it survives for exactly as long as fn runs, across any number of
// transactions fn opens.
func (s *PostgresStore) WithSessionLock(ctx context.Context, sessionID string, fn func(ctx context.Context) error) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for session lock: %w", err)
	}
	defer conn.Release()

	key := sessionLockKey(sessionID)

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, key); err != nil {
		return fmt.Errorf("failed to acquire session lock: %w", err)
	}
	defer func() {
		// Unlock on a fresh context so cancellation of ctx cannot leak
		// the lock; the connection is released regardless.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = conn.Exec(unlockCtx, `SELECT pg_advisory_unlock($1)`, key)
	}()

	return fn(ctx)
}

// =============================================================================
// Leader election
// =============================================================================

// LeaderAttemptElect tries to become or remain the leader. Returns true if
// this instance holds the lease after the call.
func (s *PostgresStore) LeaderAttemptElect(ctx context.Context, instanceID string, ttl time.Duration) (bool, error) {
	expiresAt := time.Now().UTC().Add(ttl)

	query := `
		INSERT INTO ctxpg_leaders (name, leader_id, elected_at, expires_at)
		VALUES ($1, $2, NOW(), $3)
		ON CONFLICT (name) DO UPDATE
		SET leader_id = EXCLUDED.leader_id,
		    elected_at = NOW(),
		    expires_at = EXCLUDED.expires_at
		WHERE ctxpg_leaders.expires_at <= NOW()
		   OR ctxpg_leaders.leader_id = EXCLUDED.leader_id
	`

	tag, err := s.getQuerier(ctx).Exec(ctx, query, leaderName, instanceID, expiresAt)
	if err != nil {
		return false, fmt.Errorf("failed to attempt leader election: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// LeaderResign gives up leadership if this instance holds it.
func (s *PostgresStore) LeaderResign(ctx context.Context, instanceID string) error {
	_, err := s.getQuerier(ctx).Exec(ctx,
		`DELETE FROM ctxpg_leaders WHERE name = $1 AND leader_id = $2`,
		leaderName, instanceID)
	if err != nil {
		return fmt.Errorf("failed to resign leadership: %w", err)
	}

	return nil
}

// LeaderDeleteExpired removes expired leader leases.
func (s *PostgresStore) LeaderDeleteExpired(ctx context.Context) (int, error) {
	tag, err := s.getQuerier(ctx).Exec(ctx,
		`DELETE FROM ctxpg_leaders WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired leaders: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

// =============================================================================
// Helpers
// =============================================================================

func protectedIDsToSlice(set map[string]struct{}) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
