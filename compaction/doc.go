// Package compaction implements the condensing engine: it replaces the
// eligible range of a conversation's messages with a single generated
// summary message, keeping the conversation inside its token budget.
//
// The engine selects every message that is neither flagged protected nor
// listed in the context's protected set, sends the range to the
// summarization collaborator, and swaps it for one summary message that
// records the ids it replaced. Every attempt, including failed ones, is
// recorded as an append-only CompactionResult.
//
// Compaction runs under the session's advisory lock and never corrupts
// state on failure: a summarizer error or timeout leaves the conversation
// exactly as it was, surfaces the error, and still logs a zero-reduction
// result for observability.
package compaction
