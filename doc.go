// Package ctxpg manages conversation context windows for LLM
// applications, backed by PostgreSQL.
//
// ctxpg is opinionated (Anthropic + PostgreSQL + pgx) and keeps every
// piece of conversation state durable: messages with token counts,
// compaction results, restorable checkpoints, cross-session memories,
// cooldown timestamps, and leader leases all live in the database, so any
// number of processes can serve the same sessions.
//
// # Key Features
//
//   - Token accounting with exact (API) or approximate counting
//   - Automatic context compaction: eligible messages are condensed into
//     a single summary message by a cheap summarizer model
//   - Restorable checkpoints with content-derived labels and tags
//   - Context overflow recovery with escalating reduction targets
//   - Session archival into queryable long-term memories
//   - LISTEN/NOTIFY events so sibling processes can invalidate caches
//   - Hooks and Prometheus metrics for observability
//
// # Quick Start
//
// Create a manager with required configuration:
//
//	pool, _ := pgxpool.New(ctx, connString)
//	client := anthropic.NewClient()
//	mgr, err := ctxpg.New(
//	    ctxpg.Config{
//	        DB:     pool,
//	        Client: &client,
//	        Model:  "claude-sonnet-4-5-20250929",
//	    },
//	    ctxpg.WithAutoCompaction(true),
//	)
//
// Record conversation turns; the manager counts tokens, persists the
// message, and compacts in the background when usage crosses the
// threshold:
//
//	cc, _ := mgr.StartSession(ctx, "sess-1", "user-1", "proj-1")
//	_, _ = mgr.AppendMessage(ctx, "sess-1", types.RoleUser, "Help me build a REST API")
//
// # Overflow Recovery
//
// When an upstream API call fails because the context no longer fits,
// hand the error to the manager together with a retry closure:
//
//	result, err := mgr.HandleUpstreamError(ctx, "sess-1", apiErr, func(ctx context.Context) error {
//	    return callUpstream(ctx)
//	})
//
// The manager checkpoints the conversation, compacts aggressively with
// escalating targets, and re-issues the call up to three times.
//
// # Checkpoints and Memory
//
// Snapshot a conversation before a risky operation and roll back later:
//
//	cpID, _ := mgr.CreateCheckpoint(ctx, "sess-1", "")
//	_, _ = mgr.RestoreCheckpoint(ctx, cpID)
//
// Archive a finished session into long-term memory and query it from
// future sessions:
//
//	memID, _ := mgr.ArchiveSession(ctx, "sess-1", types.RetentionProject)
//	memories, _ := mgr.QueryMemories(ctx, "how did we configure the cache?", "proj-1", 5)
package ctxpg
