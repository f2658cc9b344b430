package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/jayusctrojan/ctxpg/internal/testutil"
	"github.com/jayusctrojan/ctxpg/storage"
	"github.com/jayusctrojan/ctxpg/types"
)

// newSyncManager returns a Manager whose retention trimming runs inline so
// tests can observe it deterministically.
func newSyncManager(store storage.Store, config *Config) *Manager {
	m := NewManager(store, nil, config, nil)
	m.dispatch = func(fn func()) { fn() }
	return m
}

func seedContext(t *testing.T, store *testutil.MemStore, sessionID string, msgCount int) *types.ConversationContext {
	t.Helper()

	cc := types.NewConversationContext(sessionID, "user-1", "proj-1", "claude-sonnet-4", 1000)
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < msgCount; i++ {
		msg := types.NewUserMessage(sessionID, fmt.Sprintf("turn %d", i))
		msg.TokenCount = 10
		msg.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		cc.Messages = append(cc.Messages, msg)
	}
	cc.TotalTokens = cc.SumTokens()

	if err := store.CreateContext(context.Background(), cc); err != nil {
		t.Fatalf("CreateContext: %v", err)
	}
	return cc
}

func TestCreateSnapshotsContext(t *testing.T) {
	store := testutil.NewMemStore()
	seedContext(t, store, "sess-1", 4)
	m := newSyncManager(store, nil)

	id, err := m.Create(context.Background(), "sess-1", types.TriggerManual, "before refactor")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	cp, err := store.GetCheckpoint(context.Background(), id)
	if err != nil {
		t.Fatalf("GetCheckpoint: %v", err)
	}
	if cp.Label != "before refactor" {
		t.Errorf("Label = %q, want %q", cp.Label, "before refactor")
	}
	if cp.Trigger != types.TriggerManual {
		t.Errorf("Trigger = %q, want manual", cp.Trigger)
	}
	if len(cp.MessagesSnapshot) != 4 {
		t.Errorf("snapshot has %d messages, want 4", len(cp.MessagesSnapshot))
	}
	if cp.TokenCount != 40 {
		t.Errorf("TokenCount = %d, want 40", cp.TokenCount)
	}
	if cp.ExpiresAt.Sub(cp.CreatedAt) != DefaultTTL {
		t.Errorf("TTL = %s, want %s", cp.ExpiresAt.Sub(cp.CreatedAt), DefaultTTL)
	}
}

func TestCreateAutoLabel(t *testing.T) {
	store := testutil.NewMemStore()
	cc := seedContext(t, store, "sess-1", 1)
	cc.Messages[0].Content = "updated handlers/auth.go:\n```go\nfunc Login() {}\n```"
	if err := store.RestoreContext(context.Background(), cc); err != nil {
		t.Fatalf("RestoreContext: %v", err)
	}

	m := newSyncManager(store, nil)
	id, err := m.Create(context.Background(), "sess-1", types.TriggerAuto, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	cp, _ := store.GetCheckpoint(context.Background(), id)
	if cp.Label != "Code changes: handlers/auth.go" {
		t.Errorf("Label = %q, want code label with filename", cp.Label)
	}
	want := []string{"code", "file_reference"}
	if !reflect.DeepEqual(cp.AutoTags, want) {
		t.Errorf("AutoTags = %v, want %v", cp.AutoTags, want)
	}
}

func TestRetentionCapDeletesOldest(t *testing.T) {
	store := testutil.NewMemStore()
	seedContext(t, store, "sess-1", 2)

	m := newSyncManager(store, &Config{RetentionCap: 3})
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	var firstID string
	for i := 0; i < 4; i++ {
		tick := base.Add(time.Duration(i) * time.Second)
		m.now = func() time.Time { return tick }
		id, err := m.Create(context.Background(), "sess-1", types.TriggerAuto, fmt.Sprintf("cp %d", i))
		if err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
		if i == 0 {
			firstID = id
		}
	}

	list, err := m.List(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("got %d checkpoints, want 3", len(list))
	}
	for _, cp := range list {
		if cp.ID == firstID {
			t.Error("oldest checkpoint should have been trimmed")
		}
	}
}

func TestRestoreRebuildsContext(t *testing.T) {
	store := testutil.NewMemStore()
	cc := seedContext(t, store, "sess-1", 3)
	m := newSyncManager(store, nil)

	id, err := m.Create(context.Background(), "sess-1", types.TriggerPreCompaction, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Mutate the live context past the snapshot.
	extra := types.NewAssistantMessage("sess-1", "later message")
	extra.TokenCount = 99
	cc.Messages = append(cc.Messages, extra)
	cc.TotalTokens = cc.SumTokens()
	now := time.Now().UTC()
	cc.LastCompactionAt = &now
	cc.CompactionCount = 2
	if err := store.RestoreContext(context.Background(), cc); err != nil {
		t.Fatalf("RestoreContext: %v", err)
	}

	restored, err := m.Restore(context.Background(), id)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if len(restored.Messages) != 3 {
		t.Errorf("got %d messages, want 3", len(restored.Messages))
	}
	if restored.TotalTokens != 30 {
		t.Errorf("TotalTokens = %d, want 30", restored.TotalTokens)
	}
	if restored.TotalTokens != restored.SumTokens() {
		t.Errorf("TotalTokens %d != sum %d", restored.TotalTokens, restored.SumTokens())
	}
	if restored.LastCompactionAt != nil {
		t.Error("restored context should have LastCompactionAt unset")
	}

	// Restoring twice yields identical state.
	again, err := m.Restore(context.Background(), id)
	if err != nil {
		t.Fatalf("second Restore: %v", err)
	}
	if again.TotalTokens != restored.TotalTokens || len(again.Messages) != len(restored.Messages) {
		t.Error("restore is not idempotent")
	}
	for i := range again.Messages {
		if again.Messages[i].ID != restored.Messages[i].ID {
			t.Fatalf("message %d differs between restores", i)
		}
	}
}

func TestRestoreUnknownCheckpoint(t *testing.T) {
	store := testutil.NewMemStore()
	seedContext(t, store, "sess-1", 1)
	m := newSyncManager(store, nil)

	_, err := m.Restore(context.Background(), types.NewID())
	if !errors.Is(err, storage.ErrCheckpointNotFound) {
		t.Errorf("err = %v, want ErrCheckpointNotFound", err)
	}
}
