// Package recovery converts an upstream "input too large" failure into a
// successful retried call through progressively more aggressive emergency
// reduction.
//
// Each attempt k targets a reduction of 25 + (k-1)*15 percent of the
// tokens present when the overflow was observed: checkpoint, aggressive
// compaction, then force-removal of unprotected non-essential messages
// oldest first, then a retry of the original call. Content classified as
// code, error, file reference, or decision is never force-removed.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jayusctrojan/ctxpg/classify"
	"github.com/jayusctrojan/ctxpg/compaction"
	"github.com/jayusctrojan/ctxpg/storage"
	"github.com/jayusctrojan/ctxpg/types"
)

// ErrOverflowUnrecoverable indicates all recovery attempts were exhausted.
// The conversation is left in its last-reduced valid state.
var ErrOverflowUnrecoverable = errors.New("context overflow unrecoverable after all attempts")

// DefaultMaxAttempts bounds the recovery loop.
const DefaultMaxAttempts = 3

// RetryFunc re-issues the original upstream call.
type RetryFunc func(ctx context.Context) error

// Checkpointer is the slice of the checkpoint manager recovery needs.
// Snapshots are taken from an already-loaded context because each
// recovery attempt runs under the session lock it already holds.
type Checkpointer interface {
	CreateFromContext(ctx context.Context, cc *types.ConversationContext, trigger types.Trigger, label string) (string, error)
}

// Result reports the outcome of a recovery run.
type Result struct {
	// Recovered is true when a retry succeeded.
	Recovered bool

	// Attempts is how many reduction attempts ran.
	Attempts int

	// PreTokens and PostTokens bracket the whole recovery run.
	PreTokens  int
	PostTokens int

	// Detail is a human-readable summary of what was done.
	Detail string
}

// Config holds recovery coordinator configuration.
type Config struct {
	// MaxAttempts bounds the attempt loop. Default: 3
	MaxAttempts int
}

// Coordinator drives emergency reduction and retry.
type Coordinator struct {
	store       storage.Store
	engine      *compaction.Engine
	checkpoints Checkpointer
	classifier  classify.Classifier
	config      *Config
	logger      compaction.Logger

	now func() time.Time
}

// NewCoordinator creates a Coordinator. A nil config selects defaults; a
// nil classifier selects the pattern classifier.
func NewCoordinator(store storage.Store, engine *compaction.Engine, checkpoints Checkpointer, classifier classify.Classifier, config *Config, logger compaction.Logger) *Coordinator {
	if config == nil {
		config = &Config{}
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if classifier == nil {
		classifier = classify.NewPatternClassifier()
	}
	if logger == nil {
		logger = compaction.NopLogger()
	}

	return &Coordinator{
		store:       store,
		engine:      engine,
		checkpoints: checkpoints,
		classifier:  classifier,
		config:      config,
		logger:      logger,
		now:         time.Now,
	}
}

// targetPercent is the reduction goal for 1-indexed attempt k:
// 25%, 40%, 60%, ...
func targetPercent(attempt int) float64 {
	return float64(25 + (attempt-1)*15)
}

// HandleError inspects the upstream error and, when it is an overflow,
// runs the reduction-and-retry loop. Non-overflow errors return
// immediately unrecovered with the original error.
//
// On success the result carries a before/after token summary. When all
// attempts are exhausted, ErrOverflowUnrecoverable is returned and the
// conversation keeps its last-reduced valid state.
func (c *Coordinator) HandleError(ctx context.Context, sessionID string, upstreamErr error, retry RetryFunc) (*Result, error) {
	if !IsOverflowError(upstreamErr) {
		return &Result{
			Recovered: false,
			Detail:    "error is not a context overflow",
		}, upstreamErr
	}

	cc, err := c.store.GetContext(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	startTokens := cc.TotalTokens

	result := &Result{PreTokens: startTokens}

	c.logger.Warn("context overflow detected, starting recovery",
		"session_id", sessionID,
		"tokens", startTokens,
		"error", upstreamErr,
	)

	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		result.Attempts = attempt
		target := targetPercent(attempt)

		// The whole reduction sequence for the attempt holds the session
		// lock once; only the retry runs outside it.
		err := c.store.WithSessionLock(ctx, sessionID, func(ctx context.Context) error {
			cc, err := c.store.GetContext(ctx, sessionID)
			if err != nil {
				return err
			}

			if _, err := c.checkpoints.CreateFromContext(ctx, cc, types.TriggerErrorRecovery,
				fmt.Sprintf("Recovery attempt %d", attempt)); err != nil {
				c.logger.Error("recovery checkpoint failed",
					"session_id", sessionID,
					"attempt", attempt,
					"error", err,
				)
			}

			if _, err := c.engine.CompactLocked(ctx, sessionID, compaction.Options{
				Trigger:      types.TriggerErrorRecovery,
				Force:        true,
				CustomPrompt: compaction.AggressiveRecoveryPrompt,
			}); err != nil {
				// Compaction failure never corrupts state; force-removal
				// can still make progress.
				c.logger.Warn("aggressive compaction failed during recovery",
					"session_id", sessionID,
					"attempt", attempt,
					"error", err,
				)
			}

			cc, err = c.store.GetContext(ctx, sessionID)
			if err != nil {
				return err
			}

			if types.ReductionPercent(startTokens, cc.TotalTokens) < target {
				if err := c.forceRemoveLocked(ctx, cc, startTokens, target); err != nil {
					return err
				}
			}

			result.PostTokens = cc.TotalTokens
			return nil
		})
		if err != nil {
			return nil, err
		}

		c.logger.Info("recovery attempt reduced context",
			"session_id", sessionID,
			"attempt", attempt,
			"target_percent", target,
			"achieved_percent", types.ReductionPercent(startTokens, result.PostTokens),
			"tokens", result.PostTokens,
		)

		retryErr := retry(ctx)
		if retryErr == nil {
			result.Recovered = true
			result.Detail = fmt.Sprintf(
				"recovered after %d attempt(s): reduced context from %d to %d tokens (%.1f%%)",
				attempt, startTokens, result.PostTokens,
				types.ReductionPercent(startTokens, result.PostTokens),
			)
			return result, nil
		}
		if !IsOverflowError(retryErr) {
			// A different failure mode; further reduction cannot help.
			result.Detail = fmt.Sprintf("retry failed with a non-overflow error after attempt %d", attempt)
			return result, retryErr
		}

		upstreamErr = retryErr
	}

	result.Detail = fmt.Sprintf(
		"exhausted %d attempts: context reduced from %d to %d tokens but the upstream call still overflows",
		c.config.MaxAttempts, startTokens, result.PostTokens,
	)
	return result, fmt.Errorf("%w: %v", ErrOverflowUnrecoverable, upstreamErr)
}

// forceRemoveLocked deletes unprotected, non-essential messages oldest
// first until the reduction target against startTokens is met or no
// eligible messages remain. The caller holds the session lock and cc is
// its current view; the context is mutated in place.
func (c *Coordinator) forceRemoveLocked(ctx context.Context, cc *types.ConversationContext, startTokens int, target float64) error {
	var removedIDs []string
	targetTokens := int(float64(startTokens) * (1 - target/100))

	remaining := cc.TotalTokens
	for _, msg := range cc.Messages {
		if remaining <= targetTokens {
			break
		}
		if cc.IsProtectedMessage(msg) || msg.IsSummary {
			continue
		}
		if classify.IsEssential(c.classifier, msg) {
			continue
		}
		removedIDs = append(removedIDs, msg.ID)
		remaining -= msg.TokenCount
	}

	if len(removedIDs) == 0 {
		return nil
	}

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
	cc.Messages = kept
	cc.TotalTokens = cc.SumTokens()
	cc.UpdatedAt = c.now().UTC()

	if err := c.store.DeleteMessages(ctx, cc, removedIDs); err != nil {
		return err
	}

	// Record what was removed; the preceding error_recovery checkpoint
	// holds the full copies.
	if err := c.store.SaveCompactionResult(ctx, &types.CompactionResult{
		ID:                types.NewID(),
		SessionID:         cc.SessionID,
		Trigger:           types.TriggerErrorRecovery,
		PreTokens:         startTokens,
		PostTokens:        cc.TotalTokens,
		ReductionPercent:  types.ReductionPercent(startTokens, cc.TotalTokens),
		MessagesCondensed: len(removedIDs),
		SummaryPreview:    "force-removed message ids: " + strings.Join(removedIDs, ", "),
		CreatedAt:         c.now().UTC(),
	}); err != nil {
		return err
	}

	c.logger.Warn("force-removed messages during recovery",
		"session_id", cc.SessionID,
		"removed", len(removedIDs),
	)
	return nil
}
