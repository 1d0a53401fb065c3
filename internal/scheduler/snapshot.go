package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/MrSnakeDoc/relaybridge/internal/logger"
)

// Snapshotter writes the two snapshot kinds.
type Snapshotter interface {
	Backup(ctx context.Context)
	SaveStatus(ctx context.Context)
}

// SnapshotScheduler writes a status snapshot on a fixed interval, even
// with no client connected, and serves manual backup requests.
type SnapshotScheduler struct {
	snap          Snapshotter
	logger        logger.Logger
	clock         clock.Clock
	interval      time.Duration
	manualTrigger chan struct{}
	stopCh        chan struct{}
	done          chan struct{}
	stopOnce      sync.Once
	started       atomic.Bool
}

// NewSnapshotScheduler creates the scheduler. An interval <= 0 disables
// the periodic status snapshot; manual backups keep working.
func NewSnapshotScheduler(
	snap Snapshotter,
	log logger.Logger,
	clk clock.Clock,
	interval time.Duration,
	manualTrigger chan struct{},
) *SnapshotScheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &SnapshotScheduler{
		snap:          snap,
		logger:        log,
		clock:         clk,
		interval:      interval,
		manualTrigger: manualTrigger,
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start launches the background loop.
func (s *SnapshotScheduler) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	var tick <-chan time.Time
	var ticker *clock.Ticker
	if s.interval > 0 {
		ticker = s.clock.Ticker(s.interval)
		tick = ticker.C
	}

	go func() {
		defer close(s.done)
		if ticker != nil {
			defer ticker.Stop()
		}
		for {
			select {
			case <-tick:
				s.snap.SaveStatus(ctx)
			case <-s.manualTrigger:
				s.logger.Info("manual backup triggered")
				s.snap.Backup(ctx)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the loop and waits for an in-flight snapshot to finish. It is
// a no-op when Start was never called.
func (s *SnapshotScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.started.Load() {
		<-s.done
	}
}
