package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Reconciler re-derives stored show progress against the catalog
type Reconciler interface {
	ReconcileAll(ctx context.Context) (int, error)
}

// Scheduler manages scheduled tasks
type Scheduler struct {
	cron       *cron.Cron
	reconciler Reconciler
	schedule   string
	logger     *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a new scheduler. An empty schedule disables the
// reconcile job.
func NewScheduler(reconciler Reconciler, schedule string, logger *logrus.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.PrintfLogger(logger)),
			cron.SkipIfStillRunning(cron.PrintfLogger(logger)),
		)),
		reconciler: reconciler,
		schedule:   schedule,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	if s.schedule == "" {
		s.logger.Info("Reconcile schedule empty, scheduler disabled")
		return nil
	}

	s.logger.WithField("schedule", s.schedule).Info("Starting scheduler")

	// Re-derive show progress so new seasons reopen completed shows
	_, err := s.cron.AddFunc(s.schedule, func() {
		s.RunReconcile()
	})
	if err != nil {
		return fmt.Errorf("failed to add reconcile job: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Scheduler started")

	return nil
}

// Stop stops the scheduler and waits up to timeout for a running job
func (s *Scheduler) Stop(timeout time.Duration) {
	s.logger.Info("Stopping scheduler")
	done := s.cron.Stop()
	s.cancel()

	select {
	case <-done.Done():
	case <-time.After(timeout):
		s.logger.Warn("Timed out waiting for running jobs")
	}
}

// RunReconcile executes the reconcile job
func (s *Scheduler) RunReconcile() {
	s.logger.Info("Running scheduled reconcile")
	start := time.Now()

	changed, err := s.reconciler.ReconcileAll(s.ctx)
	if err != nil {
		s.logger.WithError(err).Error("Reconcile job failed")
		return
	}

	s.logger.WithFields(logrus.Fields{
		"changed":     changed,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Reconcile job completed successfully")
}
