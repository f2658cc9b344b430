package token

import (
	"context"
	"fmt"
	"time"

	"github.com/jayusctrojan/ctxpg/types"
)

// DefaultCooldown is the minimum time between two automatic compactions of
// the same conversation. It exists to prevent compaction thrashing when
// messages arrive in a burst right at the threshold.
const DefaultCooldown = 30 * time.Second

// Accountant maintains the authoritative token count for a conversation and
// classifies usage against the context's threshold.
type Accountant struct {
	counter  Counter
	cooldown time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewAccountant creates an Accountant. A zero cooldown selects
// DefaultCooldown.
func NewAccountant(counter Counter, cooldown time.Duration) *Accountant {
	if cooldown == 0 {
		cooldown = DefaultCooldown
	}
	return &Accountant{
		counter:  counter,
		cooldown: cooldown,
		now:      time.Now,
	}
}

// Cooldown returns the configured compaction cooldown.
func (a *Accountant) Cooldown() time.Duration {
	return a.cooldown
}

// RecordMessage counts the message's content, appends it to the context,
// and updates TotalTokens. If the counting function fails the context is
// left unmodified and the error is returned; the message is never appended
// with a guessed count.
func (a *Accountant) RecordMessage(ctx context.Context, cc *types.ConversationContext, msg *types.Message) error {
	if msg.TokenCount == 0 {
		count, err := a.counter.Count(ctx, msg.Content)
		if err != nil {
			return fmt.Errorf("%w: message %s: %v", ErrCountFailed, msg.ID, err)
		}
		msg.TokenCount = count
	}

	cc.Messages = append(cc.Messages, msg)
	cc.TotalTokens += msg.TokenCount
	cc.UpdatedAt = a.now().UTC()

	return nil
}

// UsageRatio returns TotalTokens / MaxTokens, or 0 for an unbounded
// context.
func (a *Accountant) UsageRatio(cc *types.ConversationContext) float64 {
	if cc.MaxTokens <= 0 {
		return 0
	}
	return float64(cc.TotalTokens) / float64(cc.MaxTokens)
}

// ShouldCompact reports whether automatic compaction should trigger: usage
// at or above the context's threshold, and the cooldown elapsed since the
// last compaction. A context that has never compacted has no cooldown.
func (a *Accountant) ShouldCompact(cc *types.ConversationContext) bool {
	threshold := cc.Settings.AutoCompactThreshold
	if threshold <= 0 {
		threshold = 0.8
	}

	if a.UsageRatio(cc) < threshold {
		return false
	}

	return a.CooldownRemaining(cc) <= 0
}

// CooldownRemaining returns how long until the next compaction is allowed,
// or zero when no cooldown applies.
func (a *Accountant) CooldownRemaining(cc *types.ConversationContext) time.Duration {
	if cc.LastCompactionAt == nil {
		return 0
	}

	remaining := a.cooldown - a.now().Sub(*cc.LastCompactionAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}
