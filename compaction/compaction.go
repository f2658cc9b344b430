package compaction

import (
	"context"
	"fmt"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/jayusctrojan/ctxpg/storage"
	"github.com/jayusctrojan/ctxpg/token"
	"github.com/jayusctrojan/ctxpg/types"
)

// Logger is the minimal logging interface used across the module.
// Methods take a message and slog-style key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a no-op implementation of Logger.
type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger { return noopLogger{} }

// Checkpointer is the slice of the checkpoint manager the engine needs: a
// snapshot of an already-loaded context, taken without acquiring the
// session lock (the engine already holds it).
type Checkpointer interface {
	CreateFromContext(ctx context.Context, cc *types.ConversationContext, trigger types.Trigger, label string) (string, error)
}

// Options controls a single Compact call.
type Options struct {
	// Trigger records what initiated the compaction. Defaults to manual.
	Trigger types.Trigger

	// Force skips the cooldown check. Error recovery always forces.
	Force bool

	// CustomPrompt overrides the default summarization system prompt.
	CustomPrompt string
}

// Engine performs conversation compaction against the durable store.
type Engine struct {
	store       storage.Store
	summarizer  Summarizer
	counter     token.Counter
	checkpoints Checkpointer
	config      *Config
	logger      Logger

	sanitizer *bluemonday.Policy

	// now is swappable for tests.
	now func() time.Time
}

// New creates an Engine. checkpoints may be nil, in which case no
// pre-compaction snapshot is taken. A nil config selects defaults.
func New(store storage.Store, summarizer Summarizer, counter token.Counter, checkpoints Checkpointer, config *Config, logger Logger) *Engine {
	if config == nil {
		config = DefaultConfig()
	} else {
		config.ApplyDefaults()
	}
	if logger == nil {
		logger = noopLogger{}
	}
	if counter == nil {
		counter = token.ApproxCounter{}
	}

	return &Engine{
		store:       store,
		summarizer:  summarizer,
		counter:     counter,
		checkpoints: checkpoints,
		config:      config,
		logger:      logger,
		sanitizer:   bluemonday.StrictPolicy(),
		now:         time.Now,
	}
}

// Config returns the engine's configuration.
func (e *Engine) Config() *Config {
	return e.config
}

// Compact condenses the session's eligible messages into one summary
// message and records a CompactionResult.
//
// A non-forced call inside the cooldown window returns a RateLimitedError
// carrying the remaining seconds. Fewer than MinCondensable eligible
// messages short-circuits with a zero-effect result and no summarizer
// call. On summarizer failure the context is left unmodified, a
// zero-reduction result is still recorded, and both the result and the
// error are returned.
func (e *Engine) Compact(ctx context.Context, sessionID string, opts Options) (*types.CompactionResult, error) {
	var result *types.CompactionResult

	err := e.store.WithSessionLock(ctx, sessionID, func(ctx context.Context) error {
		var err error
		result, err = e.compactLocked(ctx, sessionID, opts)
		return err
	})

	return result, err
}

// CompactLocked is Compact for callers that already hold the session lock
// (the recovery coordinator). Nesting session locks would deadlock, so the
// lock level is exactly one.
func (e *Engine) CompactLocked(ctx context.Context, sessionID string, opts Options) (*types.CompactionResult, error) {
	return e.compactLocked(ctx, sessionID, opts)
}

func (e *Engine) compactLocked(ctx context.Context, sessionID string, opts Options) (*types.CompactionResult, error) {
	start := e.now()
	trigger := opts.Trigger
	if trigger == "" {
		trigger = types.TriggerManual
	}

	cc, err := e.store.GetContext(ctx, sessionID)
	if err != nil {
		return nil, NewError("Compact", fmt.Errorf("%w: %v", ErrStorage, err)).WithSession(sessionID)
	}

	if !opts.Force {
		if remaining := e.cooldownRemaining(cc); remaining > 0 {
			e.logger.Debug("compaction rate limited",
				"session_id", sessionID,
				"remaining", remaining,
			)
			return nil, &RateLimitedError{Remaining: remaining}
		}
	}

	condensable := cc.Condensable()
	preTokens := cc.TotalTokens

	// Too few eligible messages: record a zero-effect result without
	// spending a model call.
	if len(condensable) < e.config.MinCondensable {
		result := e.newResult(sessionID, trigger, preTokens, preTokens, 0,
			fmt.Sprintf("skipped: only %d condensable messages", len(condensable)),
			0, start)
		if err := e.store.SaveCompactionResult(ctx, result); err != nil {
			return nil, NewError("SaveCompactionResult", fmt.Errorf("%w: %v", ErrStorage, err)).WithSession(sessionID)
		}
		e.logger.Info("compaction skipped",
			"session_id", sessionID,
			"condensable", len(condensable),
		)
		return result, nil
	}

	// Snapshot before any destructive mutation.
	if e.checkpoints != nil {
		if _, err := e.checkpoints.CreateFromContext(ctx, cc, types.TriggerPreCompaction, ""); err != nil {
			return nil, NewError("PreCompactionCheckpoint", err).WithSession(sessionID)
		}
	}

	systemPrompt := opts.CustomPrompt
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}

	e.logger.Info("starting compaction",
		"session_id", sessionID,
		"trigger", trigger,
		"condensable", len(condensable),
		"pre_tokens", preTokens,
	)

	summaryText, err := e.summarizer.Summarize(ctx, condensable, systemPrompt)
	if err != nil {
		// The context stays untouched. The failed attempt is still
		// recorded for observability.
		result := e.newResult(sessionID, trigger, preTokens, preTokens, 0,
			"summarization failed: "+err.Error(), 0, start)
		if saveErr := e.store.SaveCompactionResult(ctx, result); saveErr != nil {
			e.logger.Error("failed to record failed compaction",
				"session_id", sessionID,
				"error", saveErr,
			)
		}
		return result, NewError("Summarize", err).WithSession(sessionID)
	}

	summaryTokens, err := e.counter.Count(ctx, summaryText)
	if err != nil {
		summaryTokens = token.ApproximateTokens(summaryText)
	}

	removedIDs := make([]string, len(condensable))
	inputTokens := 0
	for i, msg := range condensable {
		removedIDs[i] = msg.ID
		inputTokens += msg.TokenCount
	}

	summary := types.NewSummaryMessage(sessionID, summaryText, removedIDs)
	summary.TokenCount = summaryTokens
	// Anchor the summary at the start of the range it replaces so the
	// CreatedAt ordering keeps it where the condensed messages were.
	summary.CreatedAt = condensable[0].CreatedAt

	removed := make(map[string]struct{}, len(removedIDs))
	for _, id := range removedIDs {
		removed[id] = struct{}{}
	}
	kept := cc.Messages[:0]
	for _, msg := range cc.Messages {
		if _, ok := removed[msg.ID]; !ok {
			kept = append(kept, msg)
		}
	}
	cc.Messages = append(kept, summary)
	cc.SortMessages()

	cc.TotalTokens = cc.SumTokens()
	now := e.now().UTC()
	cc.LastCompactionAt = &now
	cc.CompactionCount++
	cc.UpdatedAt = now

	if err := e.store.ApplyCompaction(ctx, cc, removedIDs, summary); err != nil {
		return nil, NewError("ApplyCompaction", fmt.Errorf("%w: %v", ErrStorage, err)).WithSession(sessionID)
	}

	cost := EstimateCost(e.config.SummarizerModel, inputTokens, summaryTokens)
	result := e.newResult(sessionID, trigger, preTokens, cc.TotalTokens, len(condensable),
		e.preview(summaryText), cost, start)
	if err := e.store.SaveCompactionResult(ctx, result); err != nil {
		return nil, NewError("SaveCompactionResult", fmt.Errorf("%w: %v", ErrStorage, err)).WithSession(sessionID)
	}

	e.logger.Info("compaction complete",
		"session_id", sessionID,
		"trigger", trigger,
		"pre_tokens", preTokens,
		"post_tokens", cc.TotalTokens,
		"reduction_percent", result.ReductionPercent,
		"messages_condensed", len(condensable),
		"duration_ms", result.DurationMs,
	)

	return result, nil
}

// History returns the session's compaction log, oldest first.
func (e *Engine) History(ctx context.Context, sessionID string) ([]*types.CompactionResult, error) {
	results, err := e.store.ListCompactionResults(ctx, sessionID)
	if err != nil {
		return nil, NewError("History", fmt.Errorf("%w: %v", ErrStorage, err)).WithSession(sessionID)
	}
	return results, nil
}

func (e *Engine) cooldownRemaining(cc *types.ConversationContext) time.Duration {
	if cc.LastCompactionAt == nil {
		return 0
	}
	remaining := e.config.Cooldown - e.now().Sub(*cc.LastCompactionAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (e *Engine) newResult(sessionID string, trigger types.Trigger, pre, post, condensed int, preview string, cost float64, start time.Time) *types.CompactionResult {
	return &types.CompactionResult{
		ID:                types.NewID(),
		SessionID:         sessionID,
		Trigger:           trigger,
		PreTokens:         pre,
		PostTokens:        post,
		ReductionPercent:  types.ReductionPercent(pre, post),
		MessagesCondensed: condensed,
		SummaryPreview:    preview,
		DurationMs:        e.now().Sub(start).Milliseconds(),
		EstimatedCost:     cost,
		ModelUsed:         e.config.SummarizerModel,
		CreatedAt:         e.now().UTC(),
	}
}

// preview sanitizes markup out of the summary and truncates it for the
// result row.
func (e *Engine) preview(summary string) string {
	clean := e.sanitizer.Sanitize(summary)
	runes := []rune(clean)
	if len(runes) > e.config.PreviewLen {
		return string(runes[:e.config.PreviewLen]) + "..."
	}
	return clean
}
