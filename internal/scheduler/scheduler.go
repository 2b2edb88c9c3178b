// Package scheduler drives automation cycles on a fixed interval.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"bankledger/internal/logging"
	"bankledger/internal/services"
)

type Runner interface {
	RunDue(ctx context.Context, now time.Time) (services.RunSummary, error)
}

type Scheduler struct {
	cron     *cron.Cron
	runner   Runner
	locker   Locker
	logger   *zap.Logger
	interval time.Duration
	now      func() time.Time
	ctx      context.Context
	cancel   context.CancelFunc
}

func New(runner Runner, locker Locker, logger *zap.Logger, interval time.Duration) *Scheduler {
	logger = logging.OrNop(logger)
	if locker == nil {
		locker = LocalLocker{}
	}
	if interval <= 0 {
		interval = time.Minute
	}
	cl := cronLogger{logger.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:     cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl)),
		runner:   runner,
		locker:   locker,
		logger:   logger,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Scheduler) Start() error {
	spec := "@every " + s.interval.String()
	if _, err := s.cron.AddFunc(spec, func() { s.RunCycle(s.ctx) }); err != nil {
		return fmt.Errorf("schedule automation cycle: %w", err)
	}
	s.cron.Start()
	s.logger.Info("automation scheduler started", zap.Duration("interval", s.interval))
	return nil
}

// Stop prevents new cycles and waits for a running one to finish its
// current automation, or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("automation scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunCycle executes every automation due now, unless another instance
// holds the cycle lock.
func (s *Scheduler) RunCycle(ctx context.Context) {
	release, acquired, err := s.locker.TryLock(ctx)
	if err != nil {
		s.logger.Error("scheduler lock failed", zap.Error(err))
		return
	}
	if !acquired {
		s.logger.Debug("automation cycle already running elsewhere")
		return
	}
	defer release(context.WithoutCancel(ctx))

	started := s.now()
	summary, err := s.runner.RunDue(ctx, started)
	if err != nil {
		s.logger.Error("automation cycle failed", zap.Error(err))
		return
	}
	s.logger.Info("automation cycle finished",
		zap.Int("due", summary.Due),
		zap.Int("executed", summary.Executed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Duration("took", time.Since(started)),
	)
}

type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
