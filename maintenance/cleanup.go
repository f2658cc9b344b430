// Package maintenance runs the periodic sweeper that removes expired
// checkpoints, expired session memories, and stale leader leases.
//
// The sweeper should only run on the instance currently holding the
// leadership lease; see the leadership package.
package maintenance

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jayusctrojan/ctxpg/storage"
)

// Default sweeper configuration values
const (
	DefaultSweepInterval = 10 * time.Minute
)

// SweeperConfig holds configuration for the sweeper service.
type SweeperConfig struct {
	// Interval is how often to run sweep operations.
	// Default: 10 minutes
	Interval time.Duration

	// OnSweep is called after every sweep with the result.
	OnSweep func(result *SweepResult)

	// OnError is called when a sweep operation fails.
	OnError func(err error)
}

// DefaultSweeperConfig returns the default sweeper configuration.
func DefaultSweeperConfig() *SweeperConfig {
	return &SweeperConfig{
		Interval: DefaultSweepInterval,
	}
}

// SweepResult holds the results of one sweep.
type SweepResult struct {
	// ExpiredCheckpoints is the number of checkpoints past their TTL that
	// were removed.
	ExpiredCheckpoints int

	// ExpiredMemories is the number of session memories past their
	// retention window that were removed.
	ExpiredMemories int

	// ExpiredLeaders is the number of stale leader leases removed.
	ExpiredLeaders int

	// Errors contains any errors that occurred during the sweep.
	Errors []error
}

// Sweeper removes expired rows on a timer.
// This should only be run by the leader instance.
type Sweeper struct {
	store  storage.Store
	config *SweeperConfig

	started atomic.Bool
	done    chan struct{}
	cancel  context.CancelFunc

	now func() time.Time
}

// NewSweeper creates a new sweeper service.
func NewSweeper(store storage.Store, config *SweeperConfig) *Sweeper {
	if config == nil {
		config = DefaultSweeperConfig()
	}

	return &Sweeper{
		store:  store,
		config: config,
		done:   make(chan struct{}),
		now:    time.Now,
	}
}

// Start begins the sweep loop.
// It returns immediately and runs sweep operations in a goroutine.
// This should only be called when this instance is the leader.
func (s *Sweeper) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)

	return nil
}

// Stop stops the sweep loop.
func (s *Sweeper) Stop(ctx context.Context) error {
	if !s.started.Load() {
		return ErrNotStarted
	}

	s.cancel()
	<-s.done

	s.started.Store(false)
	return nil
}

// run is the main sweep loop.
func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	// Sweep immediately on start
	s.runSweep(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runSweep(ctx)
		}
	}
}

// runSweep performs one sweep and fires the callbacks.
func (s *Sweeper) runSweep(ctx context.Context) {
	result := s.RunOnce(ctx)

	if s.config.OnSweep != nil {
		s.config.OnSweep(result)
	}

	if s.config.OnError != nil {
		for _, err := range result.Errors {
			s.config.OnError(err)
		}
	}
}

// RunOnce performs sweep operations once and returns the result.
// This can be called manually for testing or one-off sweeps.
func (s *Sweeper) RunOnce(ctx context.Context) *SweepResult {
	result := &SweepResult{}
	now := s.now().UTC()

	checkpointCount, err := s.store.DeleteExpiredCheckpoints(ctx, now)
	if err != nil {
		result.Errors = append(result.Errors, err)
	} else {
		result.ExpiredCheckpoints = checkpointCount
	}

	memoryCount, err := s.store.DeleteExpiredSessionMemories(ctx, now)
	if err != nil {
		result.Errors = append(result.Errors, err)
	} else {
		result.ExpiredMemories = memoryCount
	}

	leaderCount, err := s.store.LeaderDeleteExpired(ctx)
	if err != nil {
		result.Errors = append(result.Errors, err)
	} else {
		result.ExpiredLeaders = leaderCount
	}

	return result
}

// IsRunning returns true if the sweeper is running.
func (s *Sweeper) IsRunning() bool {
	return s.started.Load()
}
