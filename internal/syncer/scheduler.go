package syncer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultInterval is the default time between cycle triggers.
const DefaultInterval = 10 * time.Second

// Scheduler triggers sync cycles on a fixed interval. A trigger that fires
// while a cycle is in flight is skipped, never queued.
type Scheduler struct {
	orch     *Orchestrator
	interval time.Duration
	logger   *slog.Logger

	inFlight atomic.Bool

	mu       sync.Mutex
	started  bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler. A nil orchestrator puts the scheduler in
// disabled mode: it starts but never runs a cycle.
func NewScheduler(orch *Orchestrator, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		orch:     orch,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Enabled reports whether the scheduler drives an orchestrator.
func (s *Scheduler) Enabled() bool {
	return s.orch != nil
}

// Start runs a cycle immediately and then on every tick. It blocks until
// Stop is called or ctx is done, and waits for the in-flight cycle before returning.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	if s.orch == nil {
		s.logger.WarnContext(ctx, "Sync disabled, no cycles will run")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return nil
		}
	}

	s.logger.InfoContext(ctx, "Sync scheduler started", "interval", s.interval)
	defer s.wg.Wait()

	s.Trigger(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return nil
		case <-ticker.C:
			s.Trigger(ctx)
		}
	}
}

// Trigger launches a cycle in the background unless one is already in flight.
// It reports whether a cycle was launched.
func (s *Scheduler) Trigger(ctx context.Context) bool {
	if s.orch == nil {
		return false
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		s.orch.skipped()
		s.logger.DebugContext(ctx, "Previous sync cycle still running, skipping tick")
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inFlight.Store(false)
		s.orch.RunCycle(ctx)
	}()
	return true
}

// Stop ends the loop and waits for the in-flight cycle to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}
