package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/resqnet/resqnet/internal/database"
	"github.com/resqnet/resqnet/internal/metrics"
	"github.com/resqnet/resqnet/internal/services"
)

// EscalationJob raises the escalation level of pending and acknowledged
// signals left untouched longer than their priority's threshold
type EscalationJob struct {
	store     *services.SignalStore
	escalator *services.Escalator
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	running sync.Mutex
}

// EscalationPass summarizes one pass
type EscalationPass struct {
	Checked   int
	Escalated int
	Skipped   int
	Failed    int
}

// NewEscalationJob creates a new escalation job
func NewEscalationJob(store *services.SignalStore, escalator *services.Escalator, logger *zap.Logger, m *metrics.Metrics) *EscalationJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EscalationJob{
		store:     store,
		escalator: escalator,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
}

// SetClock overrides the time source
func (j *EscalationJob) SetClock(now func() time.Time) {
	j.now = now
}

func (j *EscalationJob) Name() string { return "escalation" }

func (j *EscalationJob) RunOnce(ctx context.Context) error {
	_, err := j.Run(ctx)
	return err
}

// Run executes one pass. A pass that starts while another is in flight
// returns immediately. Failures on individual signals are logged and do
// not stop the pass.
func (j *EscalationJob) Run(ctx context.Context) (*EscalationPass, error) {
	if !j.running.TryLock() {
		j.logger.Debug("escalation pass already running, skipping")
		return &EscalationPass{}, nil
	}
	defer j.running.Unlock()

	started := time.Now()
	pass := &EscalationPass{}
	defer func() {
		j.metrics.Pass(j.Name(), time.Since(started), pass.Failed)
	}()

	settings, err := j.escalator.GetSettings(ctx)
	if err != nil {
		return pass, err
	}
	if !settings.Enabled {
		return pass, nil
	}

	signals, err := j.store.ListByStatus(ctx, database.SignalStatusPending, database.SignalStatusAcknowledged)
	if err != nil {
		return pass, err
	}

	now := j.now()
	done := make(map[string]bool, len(signals))
	for _, s := range signals {
		if ctx.Err() != nil {
			return pass, ctx.Err()
		}
		if done[s.ID] {
			continue
		}
		done[s.ID] = true
		pass.Checked++

		if now.Sub(s.UpdatedAt) <= settings.Threshold(s.Priority) {
			continue
		}

		_, err := j.escalator.Escalate(ctx, services.EscalateRequest{
			SignalID:        s.ID,
			NewLevel:        s.EscalationLevel + 1,
			Reason:          services.ReasonAutoTimeout,
			ActorID:         "scheduler",
			ExpectedVersion: s.Version,
		})
		switch {
		case err == nil:
			pass.Escalated++
		case errors.Is(err, services.ErrStaleSignal),
			errors.Is(err, services.ErrNotEscalatable),
			errors.Is(err, services.ErrAlreadyEscalated):
			// Changed since the pass read it
			pass.Skipped++
			j.logger.Debug("signal changed during escalation pass",
				zap.String("signal_id", s.ID), zap.Error(err))
		default:
			pass.Failed++
			j.logger.Warn("failed to escalate signal",
				zap.String("signal_id", s.ID), zap.Error(err))
		}
	}

	if pass.Escalated > 0 || pass.Failed > 0 {
		j.logger.Info("escalation pass finished",
			zap.Int("checked", pass.Checked),
			zap.Int("escalated", pass.Escalated),
			zap.Int("skipped", pass.Skipped),
			zap.Int("failed", pass.Failed))
	}
	return pass, nil
}
