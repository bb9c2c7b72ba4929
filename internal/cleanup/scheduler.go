// Package cleanup periodically removes expired session metadata.
package cleanup

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"anonchat/internal/metrics"
)

// Sweeper is the store operation the scheduler drives
type Sweeper interface {
	CleanupExpiredSessions(ctx context.Context) (int64, error)
}

// Scheduler calls Sweeper on a fixed interval. It only runs when both the
// session TTL and the interval are positive.
type Scheduler struct {
	sweeper      Sweeper
	ttl          time.Duration
	interval     time.Duration
	sweepTimeout time.Duration
	logger       *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewScheduler creates a stopped scheduler
func NewScheduler(sweeper Sweeper, ttl, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		sweeper:      sweeper,
		ttl:          ttl,
		interval:     interval,
		sweepTimeout: 30 * time.Second,
		logger:       logger.Named("cleanup"),
	}
}

// Enabled reports whether Start will launch the loop
func (s *Scheduler) Enabled() bool {
	return s.ttl > 0 && s.interval > 0
}

// Start launches the sweep loop. When disabled it does nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.Enabled() {
		s.logger.Info("session cleanup disabled",
			zap.Duration("ttl", s.ttl),
			zap.Duration("interval", s.interval),
		)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSchedulerAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.run(loopCtx, s.done)

	s.logger.Info("session cleanup started",
		zap.Duration("ttl", s.ttl),
		zap.Duration("interval", s.interval),
	)
	return nil
}

// Stop cancels the loop and waits for an in-flight sweep, bounded by ctx
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.running = false
	s.cancel()
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
		s.logger.Info("session cleanup stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs one sweep. Cancelling ctx does not interrupt a sweep
// already in progress; only sweepTimeout bounds it.
func (s *Scheduler) SweepOnce(ctx context.Context) int64 {
	sweepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sweepTimeout)
	defer cancel()

	removed, err := s.sweeper.CleanupExpiredSessions(sweepCtx)
	if err != nil {
		s.logger.Warn("session cleanup failed", zap.Error(err))
		return 0
	}

	metrics.SessionsSwept.Add(float64(removed))
	if removed > 0 {
		s.logger.Info("expired sessions removed", zap.Int64("count", removed))
	}
	return removed
}
