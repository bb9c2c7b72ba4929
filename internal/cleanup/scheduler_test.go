package cleanup

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"anonchat/internal/metrics"
)

type countingSweeper struct {
	calls   atomic.Int32
	removed int64
	err     error
	block   chan struct{}
}

func (s *countingSweeper) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	s.calls.Add(1)
	if s.block != nil {
		<-s.block
	}
	return s.removed, s.err
}

func TestScheduler_DisabledNeverRuns(t *testing.T) {
	testCases := []struct {
		name     string
		ttl      time.Duration
		interval time.Duration
	}{
		{"zero ttl", 0, time.Millisecond},
		{"zero interval", time.Hour, 0},
		{"both zero", 0, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sweeper := &countingSweeper{}
			s := NewScheduler(sweeper, tc.ttl, tc.interval, zap.NewNop())

			assert.False(t, s.Enabled())
			require.NoError(t, s.Start(context.Background()))
			time.Sleep(20 * time.Millisecond)

			assert.Zero(t, sweeper.calls.Load())
			assert.ErrorIs(t, s.Stop(context.Background()), ErrSchedulerNotRunning)
		})
	}
}

func TestScheduler_SweepsPeriodically(t *testing.T) {
	before := testutil.ToFloat64(metrics.SessionsSwept)
	sweeper := &countingSweeper{removed: 2}
	s := NewScheduler(sweeper, time.Hour, 5*time.Millisecond, zap.NewNop())

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	require.Eventually(t, func() bool { return sweeper.calls.Load() >= 3 }, time.Second, time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	calls := sweeper.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, sweeper.calls.Load(), "no sweeps after stop")
	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.SessionsSwept)-before, float64(2*calls))
}

func TestScheduler_SweepErrorIsLogged(t *testing.T) {
	sweeper := &countingSweeper{err: errors.New("locked")}
	s := NewScheduler(sweeper, time.Hour, time.Hour, zap.NewNop())

	assert.Zero(t, s.SweepOnce(context.Background()))
	assert.Equal(t, int32(1), sweeper.calls.Load())
}

func TestScheduler_StopWaitsForInFlightSweep(t *testing.T) {
	sweeper := &countingSweeper{block: make(chan struct{})}
	s := NewScheduler(sweeper, time.Hour, time.Millisecond, zap.NewNop())

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return sweeper.calls.Load() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Stop(ctx), context.DeadlineExceeded, "stop is bounded")

	close(sweeper.block)
}

func TestScheduler_ParentCancelStopsLoop(t *testing.T) {
	sweeper := &countingSweeper{}
	s := NewScheduler(sweeper, time.Hour, time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	require.Eventually(t, func() bool { return sweeper.calls.Load() > 0 }, time.Second, time.Millisecond)
	cancel()

	require.NoError(t, s.Stop(context.Background()))
}
