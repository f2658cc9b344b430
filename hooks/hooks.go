package hooks

import (
	"context"
	"sync"

	"github.com/jayusctrojan/ctxpg/recovery"
	"github.com/jayusctrojan/ctxpg/types"
)

// BeforeCompactionHook is called before a session's context is compacted.
// Returning an error aborts the compaction.
type BeforeCompactionHook func(ctx context.Context, sessionID string) error

// AfterCompactionHook is called after a compaction attempt, successful or
// not, with the recorded result.
type AfterCompactionHook func(ctx context.Context, result *types.CompactionResult) error

// AfterCheckpointHook is called after a checkpoint is created.
type AfterCheckpointHook func(ctx context.Context, checkpoint *types.Checkpoint) error

// AfterRestoreHook is called after a session is restored from a checkpoint.
type AfterRestoreHook func(ctx context.Context, sessionID, checkpointID string) error

// AfterRecoveryHook is called after an overflow recovery attempt finishes.
type AfterRecoveryHook func(ctx context.Context, sessionID string, result *recovery.Result) error

// AfterArchiveHook is called after a session is archived into memory.
type AfterArchiveHook func(ctx context.Context, sessionID, memoryID string) error

// Registry holds all registered hooks
type Registry struct {
	mu               sync.RWMutex
	beforeCompaction []BeforeCompactionHook
	afterCompaction  []AfterCompactionHook
	afterCheckpoint  []AfterCheckpointHook
	afterRestore     []AfterRestoreHook
	afterRecovery    []AfterRecoveryHook
	afterArchive     []AfterArchiveHook
}

// NewRegistry creates a new hook registry
func NewRegistry() *Registry {
	return &Registry{
		beforeCompaction: []BeforeCompactionHook{},
		afterCompaction:  []AfterCompactionHook{},
		afterCheckpoint:  []AfterCheckpointHook{},
		afterRestore:     []AfterRestoreHook{},
		afterRecovery:    []AfterRecoveryHook{},
		afterArchive:     []AfterArchiveHook{},
	}
}

// OnBeforeCompaction registers a hook to be called before compaction
func (r *Registry) OnBeforeCompaction(hook BeforeCompactionHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beforeCompaction = append(r.beforeCompaction, hook)
}

// OnAfterCompaction registers a hook to be called after compaction
func (r *Registry) OnAfterCompaction(hook AfterCompactionHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.afterCompaction = append(r.afterCompaction, hook)
}

// OnAfterCheckpoint registers a hook to be called after checkpoint creation
func (r *Registry) OnAfterCheckpoint(hook AfterCheckpointHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.afterCheckpoint = append(r.afterCheckpoint, hook)
}

// OnAfterRestore registers a hook to be called after a checkpoint restore
func (r *Registry) OnAfterRestore(hook AfterRestoreHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.afterRestore = append(r.afterRestore, hook)
}

// OnAfterRecovery registers a hook to be called after overflow recovery
func (r *Registry) OnAfterRecovery(hook AfterRecoveryHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.afterRecovery = append(r.afterRecovery, hook)
}

// OnAfterArchive registers a hook to be called after a session archive
func (r *Registry) OnAfterArchive(hook AfterArchiveHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.afterArchive = append(r.afterArchive, hook)
}

// TriggerBeforeCompaction calls all registered before-compaction hooks
func (r *Registry) TriggerBeforeCompaction(ctx context.Context, sessionID string) error {
	r.mu.RLock()
	hooks := make([]BeforeCompactionHook, len(r.beforeCompaction))
	copy(hooks, r.beforeCompaction)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, sessionID); err != nil {
			return err
		}
	}
	return nil
}

// TriggerAfterCompaction calls all registered after-compaction hooks
func (r *Registry) TriggerAfterCompaction(ctx context.Context, result *types.CompactionResult) error {
	r.mu.RLock()
	hooks := make([]AfterCompactionHook, len(r.afterCompaction))
	copy(hooks, r.afterCompaction)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, result); err != nil {
			return err
		}
	}
	return nil
}

// TriggerAfterCheckpoint calls all registered after-checkpoint hooks
func (r *Registry) TriggerAfterCheckpoint(ctx context.Context, checkpoint *types.Checkpoint) error {
	r.mu.RLock()
	hooks := make([]AfterCheckpointHook, len(r.afterCheckpoint))
	copy(hooks, r.afterCheckpoint)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, checkpoint); err != nil {
			return err
		}
	}
	return nil
}

// TriggerAfterRestore calls all registered after-restore hooks
func (r *Registry) TriggerAfterRestore(ctx context.Context, sessionID, checkpointID string) error {
	r.mu.RLock()
	hooks := make([]AfterRestoreHook, len(r.afterRestore))
	copy(hooks, r.afterRestore)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, sessionID, checkpointID); err != nil {
			return err
		}
	}
	return nil
}

// TriggerAfterRecovery calls all registered after-recovery hooks
func (r *Registry) TriggerAfterRecovery(ctx context.Context, sessionID string, result *recovery.Result) error {
	r.mu.RLock()
	hooks := make([]AfterRecoveryHook, len(r.afterRecovery))
	copy(hooks, r.afterRecovery)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, sessionID, result); err != nil {
			return err
		}
	}
	return nil
}

// TriggerAfterArchive calls all registered after-archive hooks
func (r *Registry) TriggerAfterArchive(ctx context.Context, sessionID, memoryID string) error {
	r.mu.RLock()
	hooks := make([]AfterArchiveHook, len(r.afterArchive))
	copy(hooks, r.afterArchive)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, sessionID, memoryID); err != nil {
			return err
		}
	}
	return nil
}
