package ctxpg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/jayusctrojan/ctxpg/compaction"
	"github.com/jayusctrojan/ctxpg/internal/testutil"
	"github.com/jayusctrojan/ctxpg/recovery"
	"github.com/jayusctrojan/ctxpg/types"
)

type fakeSummarizer struct {
	text  string
	err   error
	calls atomic.Int32
}

func (f *fakeSummarizer) Summarize(_ context.Context, _ []*types.Message, _ string) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type fixedCounter struct {
	tokens int
}

func (c fixedCounter) Count(_ context.Context, _ string) (int, error) {
	return c.tokens, nil
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *testutil.MemStore) {
	t.Helper()

	store := testutil.NewMemStore()
	base := []Option{
		WithStore(store),
		WithSummarizer(&fakeSummarizer{text: "condensed history"}),
		WithTokenCounter(fixedCounter{tokens: 10}),
		WithAutoCompaction(false),
		WithEventNotifications(false),
	}
	mgr, err := New(Config{Model: "claude-sonnet-4-5"}, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return mgr, store
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("New() error = %v, want %v", err, ErrInvalidConfig)
	}

	// No DB pool and no store.
	_, err = New(Config{Model: "claude-sonnet-4-5"})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("New() without store error = %v, want %v", err, ErrInvalidConfig)
	}

	// No client and no summarizer.
	_, err = New(Config{Model: "claude-sonnet-4-5"}, WithStore(testutil.NewMemStore()))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("New() without summarizer error = %v, want %v", err, ErrInvalidConfig)
	}
}

func TestStartSession(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	cc, err := mgr.StartSession(ctx, "sess-1", "user-1", "proj-1")
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if cc.MaxTokens != 200000 {
		t.Errorf("MaxTokens = %d, want 200000", cc.MaxTokens)
	}
	if cc.Settings.AutoCompactThreshold != 0.8 {
		t.Errorf("AutoCompactThreshold = %v, want 0.8", cc.Settings.AutoCompactThreshold)
	}

	got, err := mgr.GetContext(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetContext() error = %v", err)
	}
	if got.SessionID != "sess-1" || got.UserID != "user-1" || got.ProjectID != "proj-1" {
		t.Errorf("context identity = %s/%s/%s", got.SessionID, got.UserID, got.ProjectID)
	}
}

func TestAppendMessagePersistsAndCounts(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := mgr.StartSession(ctx, "sess-1", "user-1", "proj-1"); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}

	res, err := mgr.AppendMessage(ctx, "sess-1", types.RoleUser, "hello")
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if res.Message.TokenCount != 10 {
		t.Errorf("TokenCount = %d, want 10", res.Message.TokenCount)
	}
	if want := 10.0 / 200000; res.UsageRatio != want {
		t.Errorf("UsageRatio = %v, want %v", res.UsageRatio, want)
	}
	if res.CompactionTriggered {
		t.Error("CompactionTriggered = true at 0.005% usage")
	}

	cc, err := mgr.GetContext(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetContext() error = %v", err)
	}
	if len(cc.Messages) != 1 {
		t.Fatalf("len(Messages) = %d, want 1", len(cc.Messages))
	}
	if cc.TotalTokens != 10 {
		t.Errorf("TotalTokens = %d, want 10", cc.TotalTokens)
	}
}

func TestAppendMessageUnknownSession(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, err := mgr.AppendMessage(context.Background(), "nope", types.RoleUser, "hello")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("AppendMessage() error = %v, want %v", err, ErrSessionNotFound)
	}
}

func TestAppendMessageTriggersAutoCompaction(t *testing.T) {
	summarizer := &fakeSummarizer{text: "condensed history"}
	mgr, _ := newTestManager(t,
		WithSummarizer(summarizer),
		WithTokenCounter(fixedCounter{tokens: 100}),
		WithAutoCompaction(true),
		WithMaxContextTokens(1000),
		WithCompactionCooldown(0),
	)

	// Run dispatched work inline so the test observes it synchronously.
	ran := make(chan struct{}, 8)
	mgr.background = func(fn func()) {
		fn()
		ran <- struct{}{}
	}

	ctx := context.Background()
	if _, err := mgr.StartSession(ctx, "sess-1", "user-1", "proj-1"); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}

	// 100 tokens each against a 1000 token window; the 8th crosses 0.8.
	var last *AppendResult
	for i := 0; i < 8; i++ {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		res, err := mgr.AppendMessage(ctx, "sess-1", role, fmt.Sprintf("turn %d", i))
		if err != nil {
			t.Fatalf("AppendMessage(%d) error = %v", i, err)
		}
		if i < 7 && res.CompactionTriggered {
			t.Errorf("CompactionTriggered = true on turn %d, below threshold", i)
		}
		last = res
	}

	if !last.CompactionTriggered {
		t.Error("CompactionTriggered = false on the turn that crossed the threshold")
	}
	if last.UsageRatio != 0.8 {
		t.Errorf("UsageRatio = %v, want 0.8", last.UsageRatio)
	}

	select {
	case <-ran:
	default:
		t.Fatal("auto compaction was not dispatched")
	}
	if summarizer.calls.Load() == 0 {
		t.Error("summarizer was never called")
	}

	history, err := mgr.CompactionHistory(ctx, "sess-1")
	if err != nil {
		t.Fatalf("CompactionHistory() error = %v", err)
	}
	if len(history) == 0 {
		t.Fatal("no compaction recorded")
	}
	if history[0].Trigger != types.TriggerAuto {
		t.Errorf("Trigger = %q, want %q", history[0].Trigger, types.TriggerAuto)
	}
}

func TestCompactFiresHooks(t *testing.T) {
	mgr, _ := newTestManager(t, WithTokenCounter(fixedCounter{tokens: 500}))
	ctx := context.Background()

	if _, err := mgr.StartSession(ctx, "sess-1", "user-1", "proj-1"); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	seedMessages(t, mgr, "sess-1", 6)

	var before, after atomic.Int32
	mgr.Hooks().OnBeforeCompaction(func(_ context.Context, sessionID string) error {
		if sessionID != "sess-1" {
			t.Errorf("before hook sessionID = %q", sessionID)
		}
		before.Add(1)
		return nil
	})
	mgr.Hooks().OnAfterCompaction(func(_ context.Context, result *types.CompactionResult) error {
		if result.MessagesCondensed == 0 {
			t.Error("after hook saw no condensed messages")
		}
		after.Add(1)
		return nil
	})

	result, err := mgr.Compact(ctx, "sess-1", compaction.Options{Trigger: types.TriggerManual})
	if err != nil {
		t.Fatalf("Compact() error = %v", err)
	}
	if result.MessagesCondensed == 0 {
		t.Error("MessagesCondensed = 0")
	}
	if before.Load() != 1 || after.Load() != 1 {
		t.Errorf("hook calls = %d/%d, want 1/1", before.Load(), after.Load())
	}
}

func TestCompactAbortedByHook(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := mgr.StartSession(ctx, "sess-1", "user-1", "proj-1"); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	seedMessages(t, mgr, "sess-1", 6)

	hookErr := errors.New("not now")
	mgr.Hooks().OnBeforeCompaction(func(context.Context, string) error {
		return hookErr
	})

	_, err := mgr.Compact(ctx, "sess-1", compaction.Options{Trigger: types.TriggerManual})
	if !errors.Is(err, hookErr) {
		t.Fatalf("Compact() error = %v, want %v", err, hookErr)
	}

	cc, _ := mgr.GetContext(ctx, "sess-1")
	if len(cc.Messages) != 6 {
		t.Errorf("len(Messages) = %d, want 6 (untouched)", len(cc.Messages))
	}
}

func TestProtectMessages(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := mgr.StartSession(ctx, "sess-1", "user-1", "proj-1"); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	res, err := mgr.AppendMessage(ctx, "sess-1", types.RoleUser, "keep this")
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	msg := res.Message

	if err := mgr.ProtectMessages(ctx, "sess-1", msg.ID); err != nil {
		t.Fatalf("ProtectMessages() error = %v", err)
	}

	cc, err := mgr.GetContext(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetContext() error = %v", err)
	}
	if _, ok := cc.ProtectedMessageIDs[msg.ID]; !ok {
		t.Error("message id not in protected set")
	}
}

func TestCheckpointLifecycle(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := mgr.StartSession(ctx, "sess-1", "user-1", "proj-1"); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	seedMessages(t, mgr, "sess-1", 2)

	var checkpointed, restored atomic.Int32
	mgr.Hooks().OnAfterCheckpoint(func(_ context.Context, cp *types.Checkpoint) error {
		checkpointed.Add(1)
		return nil
	})
	mgr.Hooks().OnAfterRestore(func(_ context.Context, sessionID, checkpointID string) error {
		restored.Add(1)
		return nil
	})

	cpID, err := mgr.CreateCheckpoint(ctx, "sess-1", "before refactor")
	if err != nil {
		t.Fatalf("CreateCheckpoint() error = %v", err)
	}
	if checkpointed.Load() != 1 {
		t.Errorf("after-checkpoint hook calls = %d, want 1", checkpointed.Load())
	}

	seedMessages(t, mgr, "sess-1", 3)

	list, err := mgr.ListCheckpoints(ctx, "sess-1")
	if err != nil {
		t.Fatalf("ListCheckpoints() error = %v", err)
	}
	if len(list) != 1 || list[0].Label != "before refactor" {
		t.Fatalf("checkpoints = %+v", list)
	}

	cc, err := mgr.RestoreCheckpoint(ctx, cpID)
	if err != nil {
		t.Fatalf("RestoreCheckpoint() error = %v", err)
	}
	if len(cc.Messages) != 2 {
		t.Errorf("len(Messages) after restore = %d, want 2", len(cc.Messages))
	}
	if restored.Load() != 1 {
		t.Errorf("after-restore hook calls = %d, want 1", restored.Load())
	}
}

func TestHandleUpstreamErrorPassesThrough(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	boom := errors.New("network unreachable")
	result, err := mgr.HandleUpstreamError(ctx, "sess-1", boom, func(context.Context) error {
		t.Fatal("retry must not run for non-overflow errors")
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}
	if result.Recovered {
		t.Error("Recovered = true for non-overflow error")
	}
}

func TestHandleUpstreamErrorRecovers(t *testing.T) {
	mgr, _ := newTestManager(t, WithTokenCounter(fixedCounter{tokens: 500}))
	ctx := context.Background()

	if _, err := mgr.StartSession(ctx, "sess-1", "user-1", "proj-1"); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	seedMessages(t, mgr, "sess-1", 8)

	var recoveries atomic.Int32
	mgr.Hooks().OnAfterRecovery(func(_ context.Context, sessionID string, _ *recovery.Result) error {
		recoveries.Add(1)
		return nil
	})

	overflow := errors.New("prompt is too long: 210000 tokens > 200000 maximum")
	var retries int
	result, err := mgr.HandleUpstreamError(ctx, "sess-1", overflow, func(context.Context) error {
		retries++
		return nil
	})
	if err != nil {
		t.Fatalf("HandleUpstreamError() error = %v", err)
	}
	if !result.Recovered {
		t.Error("Recovered = false")
	}
	if retries != 1 {
		t.Errorf("retries = %d, want 1", retries)
	}
	if recoveries.Load() != 1 {
		t.Errorf("after-recovery hook calls = %d, want 1", recoveries.Load())
	}
}

func TestArchiveAndQueryMemories(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := mgr.StartSession(ctx, "sess-1", "user-1", "proj-1"); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if _, err := mgr.AppendMessage(ctx, "sess-1", types.RoleUser, "how should we cache sessions"); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if _, err := mgr.AppendMessage(ctx, "sess-1", types.RoleAssistant, "we decided to use Redis with a 1h TTL"); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	var archived atomic.Int32
	mgr.Hooks().OnAfterArchive(func(_ context.Context, sessionID, memoryID string) error {
		archived.Add(1)
		return nil
	})

	memID, err := mgr.ArchiveSession(ctx, "sess-1", types.RetentionProject)
	if err != nil {
		t.Fatalf("ArchiveSession() error = %v", err)
	}
	if memID == "" {
		t.Fatal("empty memory id")
	}
	if archived.Load() != 1 {
		t.Errorf("after-archive hook calls = %d, want 1", archived.Load())
	}

	memories, err := mgr.QueryMemories(ctx, "cache", "proj-1", 5)
	if err != nil {
		t.Fatalf("QueryMemories() error = %v", err)
	}
	if len(memories) != 1 {
		t.Fatalf("len(memories) = %d, want 1", len(memories))
	}
	if !strings.Contains(memories[0].Summary, "condensed history") {
		t.Errorf("Summary = %q", memories[0].Summary)
	}
}

func TestStats(t *testing.T) {
	mgr, _ := newTestManager(t, WithMaxContextTokens(100))
	ctx := context.Background()

	if _, err := mgr.StartSession(ctx, "sess-1", "user-1", "proj-1"); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	seedMessages(t, mgr, "sess-1", 4)

	stats, err := mgr.Stats(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.MessageCount != 4 {
		t.Errorf("MessageCount = %d, want 4", stats.MessageCount)
	}
	if stats.TotalTokens != 40 {
		t.Errorf("TotalTokens = %d, want 40", stats.TotalTokens)
	}
	if stats.UtilizationPercent != 40 {
		t.Errorf("UtilizationPercent = %v, want 40", stats.UtilizationPercent)
	}
}

func TestMaintenanceLifecycle(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	if err := mgr.StopMaintenance(ctx); err == nil {
		t.Fatal("StopMaintenance() before start should fail")
	}
	if err := mgr.StartMaintenance(ctx); err != nil {
		t.Fatalf("StartMaintenance() error = %v", err)
	}
	if err := mgr.StartMaintenance(ctx); err == nil {
		t.Fatal("second StartMaintenance() should fail")
	}
	if err := mgr.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	// Close is idempotent.
	if err := mgr.Close(ctx); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

func seedMessages(t *testing.T, mgr *Manager, sessionID string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		if _, err := mgr.AppendMessage(ctx, sessionID, role, fmt.Sprintf("message %d", i)); err != nil {
			t.Fatalf("AppendMessage(%d) error = %v", i, err)
		}
	}
}
