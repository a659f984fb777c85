// Package scheduler runs a full workspace sync on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Task is the scheduled work.
type Task func(ctx context.Context) error

// Scheduler triggers Task on a cron specification. Overlapping runs are
// skipped and panics are recovered.
type Scheduler struct {
	spec   string
	task   Task
	cron   *cron.Cron
	logger *zap.Logger

	mu      sync.Mutex
	entry   cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// Option customises the Scheduler.
type Option func(*Scheduler)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.cron = c
		}
	}
}

// New validates spec (standard five fields or a descriptor such as
// "@every 15m") and prepares the scheduler.
func New(spec string, task Task, logger *zap.Logger, opts ...Option) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if task == nil {
		return nil, fmt.Errorf("scheduled task cannot be nil")
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	s := &Scheduler{
		spec:   spec,
		task:   task,
		logger: logger.With(zap.String("component", "scheduler")),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cron == nil {
		cl := cronLogger{s.logger.Sugar()}
		s.cron = cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		)
	}
	return s, nil
}

// Start registers the task and launches the cron loop. Runs receive a
// context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	id, err := s.cron.AddFunc(s.spec, func() { s.run(s.ctx) })
	if err != nil {
		s.cancel()
		return fmt.Errorf("schedule sync: %w", err)
	}
	s.entry = id
	s.running = true
	s.cron.Start()

	s.logger.Info("scheduled sync enabled",
		zap.String("schedule", s.spec),
		zap.Time("next", s.cron.Entry(id).Next))
	return nil
}

// Stop halts the scheduler. The returned context is done once a running
// task has returned.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return context.Background()
	}
	s.running = false
	s.cancel()
	s.cron.Remove(s.entry)
	return s.cron.Stop()
}

// Next returns the next activation, or the zero time when stopped.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

// RunOnce executes the task immediately.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	return s.task(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	start := time.Now()
	if err := s.task(ctx); err != nil {
		s.logger.Warn("scheduled sync failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduled sync finished", zap.Duration("duration", time.Since(start)))
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
