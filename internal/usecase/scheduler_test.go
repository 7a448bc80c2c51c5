package usecase_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"gitlab.com/timkado/api/wa-group-etl/internal/apperrors"
	"gitlab.com/timkado/api/wa-group-etl/internal/config"
	"gitlab.com/timkado/api/wa-group-etl/internal/usecase"
)

type fakeRunner struct {
	runs    atomic.Int32
	started chan struct{}
	block   bool

	mu   sync.Mutex
	errs []error
}

func newFakeRunner(block bool) *fakeRunner {
	return &fakeRunner{started: make(chan struct{}, 16), block: block}
}

func (f *fakeRunner) RunOnce(ctx context.Context) (usecase.Result, error) {
	f.runs.Add(1)
	select {
	case f.started <- struct{}{}:
	default:
	}
	if f.block {
		<-ctx.Done()
		f.mu.Lock()
		f.errs = append(f.errs, ctx.Err())
		f.mu.Unlock()
		return usecase.Result{}, ctx.Err()
	}
	return usecase.Result{}, nil
}

func (f *fakeRunner) ctxErrs() []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]error(nil), f.errs...)
}

func TestScheduler_RunsOnStartAndEveryInterval(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	runner := newFakeRunner(false)
	s, err := usecase.NewScheduler(runner, config.ScheduleConfig{
		Interval:   10 * time.Millisecond,
		RunOnStart: true,
		RunTimeout: time.Second,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	s.Start(context.Background())
	assert.Eventually(t, func() bool { return runner.runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	n := runner.runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, runner.runs.Load(), "no runs after Stop")
}

func TestScheduler_SkipsOverlappingRuns(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	runner := newFakeRunner(true)
	s, err := usecase.NewScheduler(runner, config.ScheduleConfig{
		Interval:   time.Hour,
		RunOnStart: true,
		RunTimeout: time.Hour,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	s.Start(context.Background())
	<-runner.started

	assert.False(t, s.Trigger())
	assert.False(t, s.Trigger())
	s.Stop()

	assert.Equal(t, int32(1), runner.runs.Load())
	assert.Equal(t, []error{context.Canceled}, runner.ctxErrs())
	assert.False(t, s.Trigger(), "stopped scheduler accepts no runs")
}

func TestScheduler_RunTimeout(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	runner := newFakeRunner(true)
	s, err := usecase.NewScheduler(runner, config.ScheduleConfig{
		Interval:   time.Hour,
		RunTimeout: 20 * time.Millisecond,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	s.Start(context.Background())
	require.True(t, s.Trigger())
	<-runner.started
	assert.Eventually(t, func() bool { return len(runner.ctxErrs()) == 1 }, time.Second, 5*time.Millisecond)
	s.Stop()

	assert.Equal(t, []error{context.DeadlineExceeded}, runner.ctxErrs())
}

func TestScheduler_StopsWithParentContext(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	runner := newFakeRunner(false)
	s, err := usecase.NewScheduler(runner, config.ScheduleConfig{Interval: 5 * time.Millisecond, RunTimeout: time.Second}, zaptest.NewLogger(t))
	require.NoError(t, err)

	s.Start(ctx)
	assert.Eventually(t, func() bool { return runner.runs.Load() >= 1 }, time.Second, time.Millisecond)
	cancel()
	s.Stop()
	assert.False(t, s.Trigger())
}

func TestNewScheduler_InvalidInterval(t *testing.T) {
	_, err := usecase.NewScheduler(newFakeRunner(false), config.ScheduleConfig{}, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.True(t, apperrors.IsFatal(err))
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}
