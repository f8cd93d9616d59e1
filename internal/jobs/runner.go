// Package jobs runs the periodic passes over the signal store: escalation,
// cluster snapshots and the notification outbox relay.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/resqnet/resqnet/internal/logging"
)

// Job is one periodic pass
type Job interface {
	Name() string
	RunOnce(ctx context.Context) error
}

// Runner schedules jobs on cron specs. A pass that is still running when
// its next tick fires makes that tick a no-op, so each job has at most one
// instance in flight.
type Runner struct {
	cron    *cron.Cron
	logger  *zap.Logger
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewRunner creates a runner. Every pass gets a context bounded by timeout.
func NewRunner(logger *zap.Logger, timeout time.Duration) *Runner {
	cl := logging.NewCronLogger(logger)
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cron: cron.New(cron.WithChain(
			cron.Recover(cl),
			cron.SkipIfStillRunning(cl),
		)),
		logger:  logger,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add schedules job on spec, e.g. "@every 60s"
func (r *Runner) Add(spec string, job Job) error {
	_, err := r.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
		defer cancel()
		if err := job.RunOnce(ctx); err != nil {
			r.logger.Error("periodic job failed", zap.String("job", job.Name()), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", spec, job.Name(), err)
	}
	r.logger.Info("scheduled periodic job", zap.String("job", job.Name()), zap.String("schedule", spec))
	return nil
}

// Start begins running scheduled jobs in the background
func (r *Runner) Start() {
	r.cron.Start()
}

// Stop cancels running passes and waits for them to return or for ctx
// to expire
func (r *Runner) Stop(ctx context.Context) error {
	r.cancel()
	done := r.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
