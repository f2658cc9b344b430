package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jayusctrojan/ctxpg/storage"
	"github.com/jayusctrojan/ctxpg/types"
)

// MemStore is an in-memory storage.Store for unit tests. It deep-copies on
// read and write so tests cannot alias stored state, and serializes
// per-session mutations with a mutex table the way the real store uses
// advisory locks.
type MemStore struct {
	mu sync.Mutex

	contexts    map[string]*types.ConversationContext
	results     map[string][]*types.CompactionResult
	checkpoints map[string]*types.Checkpoint
	memories    map[string]*types.SessionMemory
	leaders     map[string]time.Time

	sessionLocks map[string]*sync.Mutex

	// Now is swappable for expiry tests.
	Now func() time.Time
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		contexts:     make(map[string]*types.ConversationContext),
		results:      make(map[string][]*types.CompactionResult),
		checkpoints:  make(map[string]*types.Checkpoint),
		memories:     make(map[string]*types.SessionMemory),
		leaders:      make(map[string]time.Time),
		sessionLocks: make(map[string]*sync.Mutex),
		Now:          time.Now,
	}
}

func (s *MemStore) CreateContext(_ context.Context, cc *types.ConversationContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[cc.SessionID] = cc.Clone()
	return nil
}

func (s *MemStore) GetContext(_ context.Context, sessionID string) (*types.ConversationContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cc, ok := s.contexts[sessionID]
	if !ok {
		return nil, storage.ErrSessionNotFound
	}
	return cc.Clone(), nil
}

func (s *MemStore) UpdateContextState(_ context.Context, cc *types.ConversationContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.contexts[cc.SessionID]
	if !ok {
		return storage.ErrSessionNotFound
	}
	next := cc.Clone()
	next.Messages = stored.Messages
	s.contexts[cc.SessionID] = next
	return nil
}

func (s *MemStore) AppendMessage(_ context.Context, cc *types.ConversationContext, msg *types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contexts[cc.SessionID]; !ok {
		return storage.ErrSessionNotFound
	}
	s.contexts[cc.SessionID] = cc.Clone()
	return nil
}

func (s *MemStore) ApplyCompaction(_ context.Context, cc *types.ConversationContext, _ []string, _ *types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contexts[cc.SessionID]; !ok {
		return storage.ErrSessionNotFound
	}
	s.contexts[cc.SessionID] = cc.Clone()
	return nil
}

func (s *MemStore) DeleteMessages(_ context.Context, cc *types.ConversationContext, _ []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contexts[cc.SessionID]; !ok {
		return storage.ErrSessionNotFound
	}
	s.contexts[cc.SessionID] = cc.Clone()
	return nil
}

func (s *MemStore) RestoreContext(_ context.Context, cc *types.ConversationContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[cc.SessionID] = cc.Clone()
	return nil
}

func (s *MemStore) SaveCompactionResult(_ context.Context, result *types.CompactionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *result
	s.results[result.SessionID] = append(s.results[result.SessionID], &cp)
	return nil
}

func (s *MemStore) ListCompactionResults(_ context.Context, sessionID string) ([]*types.CompactionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	results := s.results[sessionID]
	out := make([]*types.CompactionResult, len(results))
	for i, r := range results {
		cp := *r
		out[i] = &cp
	}
	return out, nil
}

func (s *MemStore) CreateCheckpoint(_ context.Context, cp *types.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[cp.ID] = cloneCheckpoint(cp)
	return nil
}

func (s *MemStore) GetCheckpoint(_ context.Context, checkpointID string) (*types.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.checkpoints[checkpointID]
	if !ok {
		return nil, storage.ErrCheckpointNotFound
	}
	return cloneCheckpoint(cp), nil
}

func (s *MemStore) ListCheckpoints(_ context.Context, sessionID string) ([]*types.CheckpointSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.CheckpointSummary
	for _, cp := range s.checkpoints {
		if cp.SessionID != sessionID {
			continue
		}
		out = append(out, &types.CheckpointSummary{
			ID:         cp.ID,
			SessionID:  cp.SessionID,
			Label:      cp.Label,
			Trigger:    cp.Trigger,
			TokenCount: cp.TokenCount,
			AutoTags:   append([]string(nil), cp.AutoTags...),
			CreatedAt:  cp.CreatedAt,
			ExpiresAt:  cp.ExpiresAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemStore) TrimCheckpoints(_ context.Context, sessionID string, keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var mine []*types.Checkpoint
	for _, cp := range s.checkpoints {
		if cp.SessionID == sessionID {
			mine = append(mine, cp)
		}
	}
	if len(mine) <= keep {
		return 0, nil
	}
	sort.Slice(mine, func(i, j int) bool {
		return mine[i].CreatedAt.Before(mine[j].CreatedAt)
	})
	excess := mine[:len(mine)-keep]
	for _, cp := range excess {
		delete(s.checkpoints, cp.ID)
	}
	return len(excess), nil
}

func (s *MemStore) DeleteExpiredCheckpoints(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, cp := range s.checkpoints {
		if !cp.ExpiresAt.IsZero() && cp.ExpiresAt.Before(now) {
			delete(s.checkpoints, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemStore) SaveSessionMemory(_ context.Context, mem *types.SessionMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories[mem.ID] = cloneMemory(mem)
	return nil
}

func (s *MemStore) GetSessionMemory(_ context.Context, memoryID string) (*types.SessionMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mem, ok := s.memories[memoryID]
	if !ok {
		return nil, storage.ErrMemoryNotFound
	}
	return cloneMemory(mem), nil
}

func (s *MemStore) ListSessionMemories(_ context.Context, projectID string, limit int) ([]*types.SessionMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	var out []*types.SessionMemory
	for _, mem := range s.memories {
		if projectID != "" && mem.ProjectID != projectID {
			continue
		}
		if mem.ExpiresAt != nil && mem.ExpiresAt.Before(now) {
			continue
		}
		out = append(out, cloneMemory(mem))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) DeleteExpiredSessionMemories(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, mem := range s.memories {
		if mem.ExpiresAt != nil && mem.ExpiresAt.Before(now) {
			delete(s.memories, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemStore) WithSessionLock(ctx context.Context, sessionID string, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	lock, ok := s.sessionLocks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.sessionLocks[sessionID] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn(ctx)
}

func (s *MemStore) LeaderAttemptElect(_ context.Context, instanceID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	for leader, expires := range s.leaders {
		if leader != instanceID && expires.After(now) {
			return false, nil
		}
	}
	s.leaders = map[string]time.Time{instanceID: now.Add(ttl)}
	return true, nil
}

func (s *MemStore) LeaderResign(_ context.Context, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leaders, instanceID)
	return nil
}

func (s *MemStore) LeaderDeleteExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	deleted := 0
	for leader, expires := range s.leaders {
		if expires.Before(now) {
			delete(s.leaders, leader)
			deleted++
		}
	}
	return deleted, nil
}

func cloneCheckpoint(cp *types.Checkpoint) *types.Checkpoint {
	out := *cp
	out.MessagesSnapshot = make([]*types.Message, len(cp.MessagesSnapshot))
	for i, m := range cp.MessagesSnapshot {
		out.MessagesSnapshot[i] = m.Clone()
	}
	out.AutoTags = append([]string(nil), cp.AutoTags...)
	if cp.Metadata != nil {
		out.Metadata = make(map[string]any, len(cp.Metadata))
		for k, v := range cp.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

func cloneMemory(mem *types.SessionMemory) *types.SessionMemory {
	out := *mem
	out.KeyDecisions = append([]string(nil), mem.KeyDecisions...)
	out.CodeReferences = append([]types.CodeReference(nil), mem.CodeReferences...)
	out.Tags = append([]string(nil), mem.Tags...)
	out.Embedding = append([]float32(nil), mem.Embedding...)
	if mem.ExpiresAt != nil {
		t := *mem.ExpiresAt
		out.ExpiresAt = &t
	}
	return &out
}
