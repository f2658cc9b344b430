package hooks

import (
	"context"

	"github.com/jayusctrojan/ctxpg/compaction"
	"github.com/jayusctrojan/ctxpg/recovery"
	"github.com/jayusctrojan/ctxpg/types"
)

// LoggingHooks provides built-in logging hooks for observability
type LoggingHooks struct {
	logger compaction.Logger
}

// NewLoggingHooks creates logging hooks with the provided logger
func NewLoggingHooks(logger compaction.Logger) *LoggingHooks {
	if logger == nil {
		logger = compaction.NopLogger()
	}
	return &LoggingHooks{logger: logger}
}

// Register attaches every logging hook to the registry.
func (h *LoggingHooks) Register(r *Registry) {
	r.OnBeforeCompaction(h.BeforeCompaction)
	r.OnAfterCompaction(h.AfterCompaction)
	r.OnAfterCheckpoint(h.AfterCheckpoint)
	r.OnAfterRestore(h.AfterRestore)
	r.OnAfterRecovery(h.AfterRecovery)
	r.OnAfterArchive(h.AfterArchive)
}

// BeforeCompaction logs before context compaction
func (h *LoggingHooks) BeforeCompaction(ctx context.Context, sessionID string) error {
	h.logger.Info("starting context compaction", "session_id", sessionID)
	return nil
}

// AfterCompaction logs the recorded compaction result
func (h *LoggingHooks) AfterCompaction(ctx context.Context, result *types.CompactionResult) error {
	h.logger.Info("compaction complete",
		"session_id", result.SessionID,
		"trigger", result.Trigger,
		"pre_tokens", result.PreTokens,
		"post_tokens", result.PostTokens,
		"reduction_percent", result.ReductionPercent,
		"messages_condensed", result.MessagesCondensed,
		"duration_ms", result.DurationMs,
	)
	return nil
}

// AfterCheckpoint logs checkpoint creation
func (h *LoggingHooks) AfterCheckpoint(ctx context.Context, checkpoint *types.Checkpoint) error {
	h.logger.Info("checkpoint created",
		"session_id", checkpoint.SessionID,
		"checkpoint_id", checkpoint.ID,
		"label", checkpoint.Label,
		"trigger", checkpoint.Trigger,
		"token_count", checkpoint.TokenCount,
	)
	return nil
}

// AfterRestore logs a checkpoint restore
func (h *LoggingHooks) AfterRestore(ctx context.Context, sessionID, checkpointID string) error {
	h.logger.Info("checkpoint restored",
		"session_id", sessionID,
		"checkpoint_id", checkpointID,
	)
	return nil
}

// AfterRecovery logs the outcome of overflow recovery
func (h *LoggingHooks) AfterRecovery(ctx context.Context, sessionID string, result *recovery.Result) error {
	if result.Recovered {
		h.logger.Info("overflow recovery succeeded",
			"session_id", sessionID,
			"attempts", result.Attempts,
			"pre_tokens", result.PreTokens,
			"post_tokens", result.PostTokens,
		)
	} else {
		h.logger.Warn("overflow recovery failed",
			"session_id", sessionID,
			"attempts", result.Attempts,
			"detail", result.Detail,
		)
	}
	return nil
}

// AfterArchive logs session archival
func (h *LoggingHooks) AfterArchive(ctx context.Context, sessionID, memoryID string) error {
	h.logger.Info("session archived to memory",
		"session_id", sessionID,
		"memory_id", memoryID,
	)
	return nil
}

// MetricsHooks forwards hook events to a metric callback, decoupling the
// registry from any particular metrics backend.
type MetricsHooks struct {
	OnMetric func(name string, value float64, tags map[string]string)
}

// NewMetricsHooks creates metrics collection hooks
func NewMetricsHooks(onMetric func(string, float64, map[string]string)) *MetricsHooks {
	return &MetricsHooks{OnMetric: onMetric}
}

// Register attaches every metrics hook to the registry.
func (h *MetricsHooks) Register(r *Registry) {
	r.OnAfterCompaction(h.AfterCompaction)
	r.OnAfterRecovery(h.AfterRecovery)
	r.OnAfterArchive(h.AfterArchive)
}

// AfterCompaction records compaction metrics
func (h *MetricsHooks) AfterCompaction(ctx context.Context, result *types.CompactionResult) error {
	tags := map[string]string{"trigger": string(result.Trigger)}

	h.OnMetric("ctxpg.compaction.pre_tokens", float64(result.PreTokens), tags)
	h.OnMetric("ctxpg.compaction.post_tokens", float64(result.PostTokens), tags)
	h.OnMetric("ctxpg.compaction.reduction_pct", result.ReductionPercent, tags)
	h.OnMetric("ctxpg.compaction.messages_condensed", float64(result.MessagesCondensed), tags)
	h.OnMetric("ctxpg.compaction.estimated_cost", result.EstimatedCost, tags)

	return nil
}

// AfterRecovery records recovery metrics
func (h *MetricsHooks) AfterRecovery(ctx context.Context, sessionID string, result *recovery.Result) error {
	outcome := "failed"
	if result.Recovered {
		outcome = "recovered"
	}
	tags := map[string]string{"outcome": outcome}

	h.OnMetric("ctxpg.recovery.attempts", float64(result.Attempts), tags)
	if result.Recovered && result.PreTokens > 0 {
		h.OnMetric("ctxpg.recovery.tokens_freed", float64(result.PreTokens-result.PostTokens), tags)
	}

	return nil
}

// AfterArchive records archive metrics
func (h *MetricsHooks) AfterArchive(ctx context.Context, sessionID, memoryID string) error {
	h.OnMetric("ctxpg.memory.archived", 1, nil)
	return nil
}
