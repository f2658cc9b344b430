package maintenance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jayusctrojan/ctxpg/storage"
)

// sweepMockStore implements the storage.Store methods the sweeper touches.
type sweepMockStore struct {
	storage.Store

	mu               sync.Mutex
	checkpointCount  int
	memoryCount      int
	leaderCount      int
	sweepCalls       int
	checkpointErr    error
	memoryErr        error
	leaderDeleteErr  error
	lastCheckpointAt time.Time
}

func (m *sweepMockStore) DeleteExpiredCheckpoints(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepCalls++
	m.lastCheckpointAt = now
	if m.checkpointErr != nil {
		return 0, m.checkpointErr
	}
	return m.checkpointCount, nil
}

func (m *sweepMockStore) DeleteExpiredSessionMemories(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.memoryErr != nil {
		return 0, m.memoryErr
	}
	return m.memoryCount, nil
}

func (m *sweepMockStore) LeaderDeleteExpired(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.leaderDeleteErr != nil {
		return 0, m.leaderDeleteErr
	}
	return m.leaderCount, nil
}

func (m *sweepMockStore) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepCalls
}

func TestSweeper_RunOnce(t *testing.T) {
	store := &sweepMockStore{
		checkpointCount: 3,
		memoryCount:     2,
		leaderCount:     1,
	}

	sweeper := NewSweeper(store, nil)
	result := sweeper.RunOnce(context.Background())

	if result.ExpiredCheckpoints != 3 {
		t.Errorf("ExpiredCheckpoints = %d, want 3", result.ExpiredCheckpoints)
	}
	if result.ExpiredMemories != 2 {
		t.Errorf("ExpiredMemories = %d, want 2", result.ExpiredMemories)
	}
	if result.ExpiredLeaders != 1 {
		t.Errorf("ExpiredLeaders = %d, want 1", result.ExpiredLeaders)
	}
	if len(result.Errors) != 0 {
		t.Errorf("Errors = %v, want none", result.Errors)
	}
}

func TestSweeper_RunOnceCollectsErrors(t *testing.T) {
	checkpointErr := errors.New("checkpoint delete failed")
	store := &sweepMockStore{
		checkpointErr: checkpointErr,
		memoryCount:   2,
		leaderCount:   1,
	}

	sweeper := NewSweeper(store, nil)
	result := sweeper.RunOnce(context.Background())

	if len(result.Errors) != 1 || !errors.Is(result.Errors[0], checkpointErr) {
		t.Errorf("Errors = %v, want [%v]", result.Errors, checkpointErr)
	}

	// The other sweeps still run
	if result.ExpiredMemories != 2 {
		t.Errorf("ExpiredMemories = %d, want 2", result.ExpiredMemories)
	}
	if result.ExpiredLeaders != 1 {
		t.Errorf("ExpiredLeaders = %d, want 1", result.ExpiredLeaders)
	}
}

func TestSweeper_StartStop(t *testing.T) {
	store := &sweepMockStore{}

	var mu sync.Mutex
	var sweeps []*SweepResult

	sweeper := NewSweeper(store, &SweeperConfig{
		Interval: 25 * time.Millisecond,
		OnSweep: func(result *SweepResult) {
			mu.Lock()
			sweeps = append(sweeps, result)
			mu.Unlock()
		},
	})

	ctx := context.Background()

	if err := sweeper.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !sweeper.IsRunning() {
		t.Error("Expected sweeper to be running")
	}

	// Second start should fail
	if err := sweeper.Start(ctx); err != ErrAlreadyStarted {
		t.Fatalf("Start() error = %v, want %v", err, ErrAlreadyStarted)
	}

	// First sweep happens immediately, then one per tick
	time.Sleep(70 * time.Millisecond)

	if err := sweeper.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if sweeper.IsRunning() {
		t.Error("Expected sweeper to not be running")
	}

	if store.calls() < 2 {
		t.Errorf("sweep calls = %d, want at least 2", store.calls())
	}

	mu.Lock()
	if len(sweeps) < 2 {
		t.Errorf("OnSweep called %d times, want at least 2", len(sweeps))
	}
	mu.Unlock()
}

func TestSweeper_StopNotStarted(t *testing.T) {
	sweeper := NewSweeper(&sweepMockStore{}, nil)

	if err := sweeper.Stop(context.Background()); err != ErrNotStarted {
		t.Fatalf("Stop() error = %v, want %v", err, ErrNotStarted)
	}
}

func TestSweeper_OnError(t *testing.T) {
	leaderErr := errors.New("leader delete failed")
	store := &sweepMockStore{leaderDeleteErr: leaderErr}

	var mu sync.Mutex
	var seen []error

	sweeper := NewSweeper(store, &SweeperConfig{
		Interval: time.Hour,
		OnError: func(err error) {
			mu.Lock()
			seen = append(seen, err)
			mu.Unlock()
		},
	})

	ctx := context.Background()
	if err := sweeper.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	if err := sweeper.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || !errors.Is(seen[0], leaderErr) {
		t.Errorf("OnError saw %v, want [%v]", seen, leaderErr)
	}
}

func TestDefaultSweeperConfig(t *testing.T) {
	config := DefaultSweeperConfig()

	if config.Interval != DefaultSweepInterval {
		t.Errorf("Interval = %v, want %v", config.Interval, DefaultSweepInterval)
	}
}
