package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/wa-group-etl/internal/apperrors"
	"gitlab.com/timkado/api/wa-group-etl/internal/config"
	"gitlab.com/timkado/api/wa-group-etl/internal/observer"
)

// schedulerReleaseTimeout bounds how long Stop waits for a run in progress.
const schedulerReleaseTimeout = 30 * time.Second

// RunOncer runs one full reconciliation.
type RunOncer interface {
	RunOnce(ctx context.Context) (Result, error)
}

// Scheduler invokes a runner every interval. At most one run is in flight;
// ticks that arrive while a run is in progress are dropped.
type Scheduler struct {
	runner RunOncer
	cfg    config.ScheduleConfig
	pool   *ants.PoolWithFunc
	log    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewScheduler creates a scheduler with a single-slot non-blocking pool.
func NewScheduler(runner RunOncer, cfg config.ScheduleConfig, baseLogger *zap.Logger) (*Scheduler, error) {
	if cfg.Interval <= 0 {
		return nil, apperrors.NewFatal(apperrors.ErrValidation, "schedule interval must be positive, got %s", cfg.Interval)
	}
	s := &Scheduler{
		runner: runner,
		cfg:    cfg,
		log:    baseLogger.Named("scheduler"),
	}
	pool, err := ants.NewPoolWithFunc(1, func(interface{}) {
		s.run()
	},
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p interface{}) {
			s.log.Error("Panic recovered in scheduled run", zap.Any("panic_error", p), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler pool: %w", err)
	}
	s.pool = pool
	return s, nil
}

// Start begins ticking. Runs stop when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.log.Info("Scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Bool("run_on_start", s.cfg.RunOnStart),
		zap.Duration("run_timeout", s.cfg.RunTimeout),
	)
	if s.cfg.RunOnStart {
		s.Trigger()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.Trigger()
			}
		}
	}()
}

// Trigger submits one run. It reports false when a run is already in
// progress or the scheduler is stopping.
func (s *Scheduler) Trigger() bool {
	if s.ctx == nil || s.ctx.Err() != nil {
		return false
	}
	err := s.pool.Invoke(struct{}{})
	switch {
	case err == nil:
		return true
	case errors.Is(err, ants.ErrPoolOverload):
		observer.IncSchedulerSkippedTick()
		s.log.Warn("Previous run still in progress, skipping tick")
	default:
		s.log.Warn("Failed to submit scheduled run", zap.Error(err))
	}
	return false
}

func (s *Scheduler) run() {
	ctx := s.ctx
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}
	if _, err := s.runner.RunOnce(ctx); err != nil {
		s.log.Warn("Scheduled run finished with errors, retrying next interval",
			zap.Bool("retryable", apperrors.IsRetryable(err)),
			zap.Error(err),
		)
		return
	}
	s.log.Debug("Scheduled run finished")
}

// Stop cancels the run in progress, stops ticking and waits for the worker
// to exit.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		if err := s.pool.ReleaseTimeout(schedulerReleaseTimeout); err != nil {
			s.log.Warn("Scheduler pool did not drain in time", zap.Error(err))
		}
		s.log.Info("Scheduler stopped")
	})
}
