package ctxpg

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jayusctrojan/ctxpg/checkpoint"
	"github.com/jayusctrojan/ctxpg/compaction"
	"github.com/jayusctrojan/ctxpg/hooks"
	"github.com/jayusctrojan/ctxpg/leadership"
	"github.com/jayusctrojan/ctxpg/maintenance"
	"github.com/jayusctrojan/ctxpg/memory"
	"github.com/jayusctrojan/ctxpg/notifier"
	"github.com/jayusctrojan/ctxpg/recovery"
	"github.com/jayusctrojan/ctxpg/storage"
	"github.com/jayusctrojan/ctxpg/token"
	"github.com/jayusctrojan/ctxpg/types"
)

// ContextStats is a point-in-time view of a session's window usage.
type ContextStats struct {
	SessionID          string  `json:"session_id"`
	MessageCount       int     `json:"message_count"`
	TotalTokens        int     `json:"total_tokens"`
	MaxTokens          int     `json:"max_tokens"`
	UtilizationPercent float64 `json:"utilization_percent"`
	CompactionCount    int     `json:"compaction_count"`
}

// Manager ties the context window components together behind one API.
// All mutating operations are safe to call from multiple processes
// sharing one database; per-session advisory locks serialize them.
type Manager struct {
	cfg *internalConfig

	store       storage.Store
	accountant  *token.Accountant
	engine      *compaction.Engine
	checkpoints *checkpoint.Manager
	coordinator *recovery.Coordinator
	archivist   *memory.Archivist
	events      *notifier.Notifier

	instanceID string

	mu      sync.Mutex
	elector *leadership.Elector
	sweeper *maintenance.Sweeper

	// background runs async work (auto compaction); swappable in tests.
	background func(fn func())

	closed chan struct{}
}

// New creates a Manager.
func New(cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ic := newInternalConfig(cfg)
	for _, opt := range opts {
		if err := opt(ic); err != nil {
			return nil, err
		}
	}

	store := ic.store
	if store == nil {
		if ic.db == nil {
			return nil, fmt.Errorf("%w: DB pool or WithStore is required", ErrInvalidConfig)
		}
		store = storage.NewPostgresStore(ic.db)
	}

	counter := ic.counter
	if counter == nil {
		if ic.client != nil {
			counter = token.NewAPICounter(ic.client, ic.model)
		} else {
			counter = token.ApproxCounter{}
		}
	}

	ic.compaction.ApplyDefaults()
	summarizer := ic.summarizer
	if summarizer == nil {
		if ic.client == nil {
			return nil, fmt.Errorf("%w: Client or WithSummarizer is required", ErrInvalidConfig)
		}
		summarizer = compaction.NewAnthropicSummarizer(ic.client, ic.compaction.SummarizerModel, ic.compaction.SummarizerMaxTokens, 60*time.Second)
	}

	checkpoints := checkpoint.NewManager(store, nil, &checkpoint.Config{
		RetentionCap: ic.checkpointRetention,
		TTL:          ic.checkpointTTL,
	}, ic.logger)

	engine := compaction.New(store, summarizer, counter, checkpoints, &ic.compaction, ic.logger)

	coordinator := recovery.NewCoordinator(store, engine, checkpoints, nil, &recovery.Config{
		MaxAttempts: ic.recoveryMaxAttempts,
	}, ic.logger)

	archivist := memory.NewArchivist(store, summarizer, nil, ic.embedder, ic.logger)

	var events *notifier.Notifier
	if ic.notifyEvents && ic.db != nil {
		events = notifier.NewPgxNotifier(ic.db, nil)
	}

	m := &Manager{
		cfg:         ic,
		store:       store,
		accountant:  token.NewAccountant(counter, ic.compaction.Cooldown),
		engine:      engine,
		checkpoints: checkpoints,
		coordinator: coordinator,
		archivist:   archivist,
		events:      events,
		instanceID:  types.NewID(),
		background:  func(fn func()) { go fn() },
		closed:      make(chan struct{}),
	}

	return m, nil
}

// Store exposes the underlying store.
func (m *Manager) Store() storage.Store {
	return m.store
}

// Hooks exposes the hook registry for registering observers.
func (m *Manager) Hooks() *hooks.Registry {
	return m.cfg.hooks
}

// StartSession creates the durable context for a new session, sized for
// the manager's model.
func (m *Manager) StartSession(ctx context.Context, sessionID, userID, projectID string) (*types.ConversationContext, error) {
	cc := types.NewConversationContext(sessionID, userID, projectID, m.cfg.model, m.cfg.maxContextTokens)
	cc.Settings.AutoCompactThreshold = m.cfg.autoCompactThreshold

	if err := m.store.CreateContext(ctx, cc); err != nil {
		return nil, NewError("StartSession", err).WithSession(sessionID)
	}

	m.cfg.logger.Info("session started",
		"session_id", sessionID,
		"model", m.cfg.model,
		"max_tokens", cc.MaxTokens,
	)
	return cc, nil
}

// GetContext loads a session's context with its messages.
func (m *Manager) GetContext(ctx context.Context, sessionID string) (*types.ConversationContext, error) {
	return m.store.GetContext(ctx, sessionID)
}

// Stats returns the session's current window usage.
func (m *Manager) Stats(ctx context.Context, sessionID string) (*ContextStats, error) {
	cc, err := m.store.GetContext(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return &ContextStats{
		SessionID:          sessionID,
		MessageCount:       len(cc.Messages),
		TotalTokens:        cc.TotalTokens,
		MaxTokens:          cc.MaxTokens,
		UtilizationPercent: m.accountant.UsageRatio(cc) * 100,
		CompactionCount:    cc.CompactionCount,
	}, nil
}

// AppendResult reports the outcome of appending one conversation turn.
type AppendResult struct {
	Message *types.Message `json:"message"`

	// UsageRatio is the window usage after the append.
	UsageRatio float64 `json:"usage_ratio"`

	// CompactionTriggered reports whether the append pushed usage past
	// the threshold and a background compaction was dispatched.
	CompactionTriggered bool `json:"compaction_triggered"`
}

// AppendMessage counts and persists a new conversation turn, returning
// the message together with the updated usage ratio. When automatic
// compaction is enabled and the recorded message pushes usage past the
// threshold (with the cooldown elapsed), a background compaction is
// dispatched and reported on the result.
func (m *Manager) AppendMessage(ctx context.Context, sessionID string, role types.Role, content string) (*AppendResult, error) {
	msg := types.NewMessage(sessionID, role, content)

	var usage float64
	var compactDue bool
	err := m.store.WithSessionLock(ctx, sessionID, func(ctx context.Context) error {
		cc, err := m.store.GetContext(ctx, sessionID)
		if err != nil {
			return err
		}

		if err := m.accountant.RecordMessage(ctx, cc, msg); err != nil {
			return err
		}
		if err := m.store.AppendMessage(ctx, cc, msg); err != nil {
			return err
		}

		usage = m.accountant.UsageRatio(cc)
		compactDue = m.cfg.autoCompaction && m.accountant.ShouldCompact(cc)
		return nil
	})
	if err != nil {
		return nil, NewError("AppendMessage", err).WithSession(sessionID)
	}

	if compactDue {
		m.background(func() {
			// Detached from the request; bounded on its own.
			cctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if _, err := m.Compact(cctx, sessionID, compaction.Options{Trigger: types.TriggerAuto}); err != nil {
				m.cfg.logger.Warn("background compaction failed",
					"session_id", sessionID,
					"error", err,
				)
			}
		})
	}

	return &AppendResult{
		Message:             msg,
		UsageRatio:          usage,
		CompactionTriggered: compactDue,
	}, nil
}

// ProtectMessages adds message ids to the session's protected set so they
// are never condensed or force-removed.
func (m *Manager) ProtectMessages(ctx context.Context, sessionID string, messageIDs ...string) error {
	err := m.store.WithSessionLock(ctx, sessionID, func(ctx context.Context) error {
		cc, err := m.store.GetContext(ctx, sessionID)
		if err != nil {
			return err
		}
		for _, id := range messageIDs {
			cc.ProtectedMessageIDs[id] = struct{}{}
		}
		return m.store.UpdateContextState(ctx, cc)
	})
	if err != nil {
		return NewError("ProtectMessages", err).WithSession(sessionID)
	}
	return nil
}

// Compact condenses the session's eligible messages into a summary
// message. Hook and notification side effects fire around the engine.
func (m *Manager) Compact(ctx context.Context, sessionID string, opts compaction.Options) (*types.CompactionResult, error) {
	if err := m.cfg.hooks.TriggerBeforeCompaction(ctx, sessionID); err != nil {
		return nil, NewError("Compact", err).WithSession(sessionID)
	}

	result, err := m.engine.Compact(ctx, sessionID, opts)

	if result != nil {
		if hookErr := m.cfg.hooks.TriggerAfterCompaction(ctx, result); hookErr != nil {
			m.cfg.logger.Warn("after-compaction hook failed", "session_id", sessionID, "error", hookErr)
		}
		m.notify(ctx, notifier.EventCompaction, sessionID)
	}

	return result, err
}

// CompactionHistory lists the session's compaction results, newest first.
func (m *Manager) CompactionHistory(ctx context.Context, sessionID string) ([]*types.CompactionResult, error) {
	return m.engine.History(ctx, sessionID)
}

// CreateCheckpoint snapshots the session. An empty label is auto-derived
// from recent content.
func (m *Manager) CreateCheckpoint(ctx context.Context, sessionID, label string) (string, error) {
	id, err := m.checkpoints.Create(ctx, sessionID, types.TriggerManual, label)
	if err != nil {
		return "", err
	}

	if cp, getErr := m.store.GetCheckpoint(ctx, id); getErr == nil {
		if hookErr := m.cfg.hooks.TriggerAfterCheckpoint(ctx, cp); hookErr != nil {
			m.cfg.logger.Warn("after-checkpoint hook failed", "session_id", sessionID, "error", hookErr)
		}
	}
	m.notify(ctx, notifier.EventCheckpointCreated, sessionID)

	return id, nil
}

// ListCheckpoints returns the session's checkpoint metadata, newest first.
func (m *Manager) ListCheckpoints(ctx context.Context, sessionID string) ([]*types.CheckpointSummary, error) {
	return m.checkpoints.List(ctx, sessionID)
}

// RestoreCheckpoint rolls the session back to the snapshot.
func (m *Manager) RestoreCheckpoint(ctx context.Context, checkpointID string) (*types.ConversationContext, error) {
	cc, err := m.checkpoints.Restore(ctx, checkpointID)
	if err != nil {
		return nil, err
	}

	if hookErr := m.cfg.hooks.TriggerAfterRestore(ctx, cc.SessionID, checkpointID); hookErr != nil {
		m.cfg.logger.Warn("after-restore hook failed", "session_id", cc.SessionID, "error", hookErr)
	}
	m.notify(ctx, notifier.EventCheckpointRestored, cc.SessionID)

	return cc, nil
}

// HandleUpstreamError inspects an upstream API error and, when it is a
// context overflow, reduces the conversation and re-issues the call via
// retry. Non-overflow errors are returned unchanged.
func (m *Manager) HandleUpstreamError(ctx context.Context, sessionID string, upstreamErr error, retry recovery.RetryFunc) (*recovery.Result, error) {
	result, err := m.coordinator.HandleError(ctx, sessionID, upstreamErr, retry)

	if result != nil && result.Attempts > 0 {
		if hookErr := m.cfg.hooks.TriggerAfterRecovery(ctx, sessionID, result); hookErr != nil {
			m.cfg.logger.Warn("after-recovery hook failed", "session_id", sessionID, "error", hookErr)
		}
		m.notify(ctx, notifier.EventRecovery, sessionID)
	}

	return result, err
}

// ArchiveSession distills the session into a durable memory.
func (m *Manager) ArchiveSession(ctx context.Context, sessionID string, policy types.RetentionPolicy) (string, error) {
	memoryID, err := m.archivist.Archive(ctx, sessionID, policy)
	if err != nil {
		return "", err
	}

	if hookErr := m.cfg.hooks.TriggerAfterArchive(ctx, sessionID, memoryID); hookErr != nil {
		m.cfg.logger.Warn("after-archive hook failed", "session_id", sessionID, "error", hookErr)
	}
	m.notify(ctx, notifier.EventMemoryArchived, sessionID)

	return memoryID, nil
}

// QueryMemories returns archived memories relevant to queryText, most
// relevant first.
func (m *Manager) QueryMemories(ctx context.Context, queryText, projectID string, limit int) ([]*types.SessionMemory, error) {
	return m.archivist.QueryMemories(ctx, queryText, projectID, limit)
}

// StartMaintenance begins leader election; the elected instance runs the
// sweeper that removes expired checkpoints, memories, and leases.
func (m *Manager) StartMaintenance(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.elector != nil {
		return leadership.ErrAlreadyStarted
	}

	sweeperCfg := &maintenance.SweeperConfig{
		OnError: func(err error) {
			m.cfg.logger.Warn("maintenance sweep error", "error", err)
		},
		OnSweep: func(result *maintenance.SweepResult) {
			if result.ExpiredCheckpoints+result.ExpiredMemories+result.ExpiredLeaders > 0 {
				m.cfg.logger.Info("maintenance sweep",
					"expired_checkpoints", result.ExpiredCheckpoints,
					"expired_memories", result.ExpiredMemories,
					"expired_leaders", result.ExpiredLeaders,
				)
			}
		},
	}
	if m.cfg.sweepInterval > 0 {
		sweeperCfg.Interval = m.cfg.sweepInterval
	} else {
		sweeperCfg.Interval = maintenance.DefaultSweepInterval
	}
	sweeper := maintenance.NewSweeper(m.store, sweeperCfg)

	elector := leadership.NewElector(m.store, m.instanceID, nil, leadership.Callbacks{
		OnBecameLeader: func(ctx context.Context) {
			m.cfg.logger.Info("became maintenance leader", "instance_id", m.instanceID)
			if err := sweeper.Start(ctx); err != nil && err != maintenance.ErrAlreadyStarted {
				m.cfg.logger.Warn("sweeper start failed", "error", err)
			}
			m.notify(ctx, notifier.EventLeaderChanged, m.instanceID)
		},
		OnLostLeadership: func(ctx context.Context) {
			m.cfg.logger.Info("lost maintenance leadership", "instance_id", m.instanceID)
			if sweeper.IsRunning() {
				_ = sweeper.Stop(ctx)
			}
		},
	})

	if err := elector.Start(ctx); err != nil {
		return err
	}

	m.elector = elector
	m.sweeper = sweeper
	return nil
}

// StopMaintenance resigns leadership and stops the sweeper.
func (m *Manager) StopMaintenance(ctx context.Context) error {
	m.mu.Lock()
	elector := m.elector
	sweeper := m.sweeper
	m.elector = nil
	m.sweeper = nil
	m.mu.Unlock()

	if elector == nil {
		return leadership.ErrNotStarted
	}

	if sweeper != nil && sweeper.IsRunning() {
		_ = sweeper.Stop(ctx)
	}
	return elector.Stop(ctx)
}

// StartEvents begins listening for LISTEN/NOTIFY events from sibling
// processes. Subscribe on Events() before or after starting.
func (m *Manager) StartEvents(ctx context.Context) error {
	if m.events == nil {
		return notifier.ErrNotifyNotSupported
	}
	return m.events.Start(ctx)
}

// Events exposes the notifier for subscriptions, or nil when event
// publication is disabled.
func (m *Manager) Events() *notifier.Notifier {
	return m.events
}

// Close stops background services. The pool itself is owned by the
// caller and is not closed.
func (m *Manager) Close(ctx context.Context) error {
	select {
	case <-m.closed:
		return nil
	default:
		close(m.closed)
	}

	if m.events != nil && m.events.IsRunning() {
		_ = m.events.Stop(ctx)
	}

	m.mu.Lock()
	started := m.elector != nil
	m.mu.Unlock()
	if started {
		return m.StopMaintenance(ctx)
	}
	return nil
}

// notify publishes an event, best effort.
func (m *Manager) notify(ctx context.Context, eventType notifier.EventType, payload string) {
	if m.events == nil {
		return
	}
	if err := m.events.Notify(ctx, eventType, payload); err != nil {
		m.cfg.logger.Debug("event publish failed",
			"event", string(eventType),
			"error", err,
		)
	}
}
