package token

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jayusctrojan/ctxpg/types"
)

type stubCounter struct {
	tokens int
	err    error
}

func (c stubCounter) Count(_ context.Context, _ string) (int, error) {
	return c.tokens, c.err
}

func TestApproximateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"abcdefgh", 2},
	}
	for _, tt := range tests {
		if got := ApproximateTokens(tt.text); got != tt.want {
			t.Errorf("ApproximateTokens(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestApproxCounterNeverFails(t *testing.T) {
	got, err := ApproxCounter{}.Count(context.Background(), "some message text")
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if got == 0 {
		t.Error("Count() = 0 for non-empty text")
	}
}

func TestAPICounterConcurrentFallbackFlip(t *testing.T) {
	c := NewAPICounter(nil, "claude-sonnet-4-5")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				got, err := c.Count(context.Background(), "concurrent message text")
				if err != nil {
					t.Errorf("Count() error = %v", err)
					return
				}
				if got == 0 {
					t.Error("Count() = 0 for non-empty text")
					return
				}
				c.UsingFallback()
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.fallback.Store(true)
	}()
	wg.Wait()

	if !c.UsingFallback() {
		t.Error("UsingFallback() = false after the flag was set")
	}
}

func TestRecordMessage(t *testing.T) {
	a := NewAccountant(stubCounter{tokens: 25}, 0)
	cc := types.NewConversationContext("sess-1", "user-1", "proj-1", "claude-sonnet-4-5", 1000)
	msg := types.NewMessage("sess-1", types.RoleUser, "hello there")

	if err := a.RecordMessage(context.Background(), cc, msg); err != nil {
		t.Fatalf("RecordMessage() error = %v", err)
	}
	if msg.TokenCount != 25 {
		t.Errorf("TokenCount = %d, want 25", msg.TokenCount)
	}
	if cc.TotalTokens != 25 {
		t.Errorf("TotalTokens = %d, want 25", cc.TotalTokens)
	}
	if len(cc.Messages) != 1 {
		t.Errorf("len(Messages) = %d, want 1", len(cc.Messages))
	}
}

func TestRecordMessageKeepsExistingCount(t *testing.T) {
	a := NewAccountant(stubCounter{err: errors.New("must not be called")}, 0)
	cc := types.NewConversationContext("sess-1", "user-1", "proj-1", "claude-sonnet-4-5", 1000)
	msg := types.NewMessage("sess-1", types.RoleUser, "hello")
	msg.TokenCount = 7

	if err := a.RecordMessage(context.Background(), cc, msg); err != nil {
		t.Fatalf("RecordMessage() error = %v", err)
	}
	if cc.TotalTokens != 7 {
		t.Errorf("TotalTokens = %d, want 7", cc.TotalTokens)
	}
}

func TestRecordMessageCountFailure(t *testing.T) {
	a := NewAccountant(stubCounter{err: errors.New("api down")}, 0)
	cc := types.NewConversationContext("sess-1", "user-1", "proj-1", "claude-sonnet-4-5", 1000)
	msg := types.NewMessage("sess-1", types.RoleUser, "hello")

	err := a.RecordMessage(context.Background(), cc, msg)
	if !errors.Is(err, ErrCountFailed) {
		t.Fatalf("RecordMessage() error = %v, want %v", err, ErrCountFailed)
	}
	if len(cc.Messages) != 0 {
		t.Error("message was appended despite the counting failure")
	}
	if cc.TotalTokens != 0 {
		t.Errorf("TotalTokens = %d, want 0", cc.TotalTokens)
	}
}

func TestUsageRatio(t *testing.T) {
	a := NewAccountant(stubCounter{}, 0)

	cc := types.NewConversationContext("sess-1", "user-1", "proj-1", "claude-sonnet-4-5", 1000)
	cc.TotalTokens = 250
	if got := a.UsageRatio(cc); got != 0.25 {
		t.Errorf("UsageRatio() = %v, want 0.25", got)
	}

	unbounded := types.NewConversationContext("sess-2", "user-1", "proj-1", "claude-sonnet-4-5", 0)
	unbounded.TotalTokens = 500
	if got := a.UsageRatio(unbounded); got != 0 {
		t.Errorf("UsageRatio() unbounded = %v, want 0", got)
	}
}

func TestShouldCompact(t *testing.T) {
	a := NewAccountant(stubCounter{}, time.Minute)
	cc := types.NewConversationContext("sess-1", "user-1", "proj-1", "claude-sonnet-4-5", 1000)
	cc.Settings.AutoCompactThreshold = 0.8

	cc.TotalTokens = 799
	if a.ShouldCompact(cc) {
		t.Error("ShouldCompact() = true below threshold")
	}

	cc.TotalTokens = 800
	if !a.ShouldCompact(cc) {
		t.Error("ShouldCompact() = false at threshold")
	}
}

func TestShouldCompactDefaultThreshold(t *testing.T) {
	a := NewAccountant(stubCounter{}, time.Minute)
	cc := types.NewConversationContext("sess-1", "user-1", "proj-1", "claude-sonnet-4-5", 1000)
	cc.Settings.AutoCompactThreshold = 0

	cc.TotalTokens = 800
	if !a.ShouldCompact(cc) {
		t.Error("ShouldCompact() = false with unset threshold at 80%")
	}
}

func TestShouldCompactRespectsCooldown(t *testing.T) {
	a := NewAccountant(stubCounter{}, time.Minute)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return base }

	cc := types.NewConversationContext("sess-1", "user-1", "proj-1", "claude-sonnet-4-5", 1000)
	cc.TotalTokens = 900

	last := base.Add(-30 * time.Second)
	cc.LastCompactionAt = &last

	if a.ShouldCompact(cc) {
		t.Error("ShouldCompact() = true inside cooldown")
	}
	if got := a.CooldownRemaining(cc); got != 30*time.Second {
		t.Errorf("CooldownRemaining() = %v, want 30s", got)
	}

	a.now = func() time.Time { return base.Add(31 * time.Second) }
	if !a.ShouldCompact(cc) {
		t.Error("ShouldCompact() = false after cooldown elapsed")
	}
	if got := a.CooldownRemaining(cc); got != 0 {
		t.Errorf("CooldownRemaining() = %v, want 0", got)
	}
}

func TestNewAccountantDefaultCooldown(t *testing.T) {
	a := NewAccountant(stubCounter{}, 0)
	if a.Cooldown() != DefaultCooldown {
		t.Errorf("Cooldown() = %v, want %v", a.Cooldown(), DefaultCooldown)
	}
}
