package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/resqnet/resqnet/internal/metrics"
	"github.com/resqnet/resqnet/internal/notify"
)

// outboxBatch bounds the notifications retried per pass
const outboxBatch = 200

// Outbox is the part of the dispatcher the relay drives
type Outbox interface {
	RequeueStale(ctx context.Context, cutoff time.Time) (int64, error)
	PendingNotifications(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
	Deliver(ctx context.Context, notificationID string) (*notify.DispatchResult, error)
}

// OutboxRelay finishes external deliveries that never ran, for example
// because the process stopped between commit and send. Deliveries younger
// than staleAfter are left to the in-process sender.
type OutboxRelay struct {
	outbox     Outbox
	staleAfter time.Duration
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewOutboxRelay creates a new relay
func NewOutboxRelay(outbox Outbox, staleAfter time.Duration, logger *zap.Logger, m *metrics.Metrics) *OutboxRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutboxRelay{outbox: outbox, staleAfter: staleAfter, logger: logger, metrics: m, now: time.Now}
}

// SetClock overrides the time source
func (r *OutboxRelay) SetClock(now func() time.Time) {
	r.now = now
}

func (r *OutboxRelay) Name() string { return "outbox" }

func (r *OutboxRelay) RunOnce(ctx context.Context) error {
	started := time.Now()
	failed := 0
	defer func() {
		r.metrics.Pass(r.Name(), time.Since(started), failed)
	}()

	cutoff := r.now().Add(-r.staleAfter)
	requeued, err := r.outbox.RequeueStale(ctx, cutoff)
	if err != nil {
		return err
	}
	if requeued > 0 {
		r.logger.Warn("requeued stuck deliveries", zap.Int64("count", requeued))
	}

	ids, err := r.outbox.PendingNotifications(ctx, cutoff, outboxBatch)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := r.outbox.Deliver(ctx, id); err != nil {
			failed++
			r.logger.Warn("outbox delivery failed", zap.String("notification_id", id), zap.Error(err))
		}
	}
	if len(ids) > 0 {
		r.logger.Info("outbox relay finished", zap.Int("notifications", len(ids)), zap.Int("failed", failed))
	}
	return nil
}
