// Package notify fans notifications out over the configured channels.
//
// The in-app channel is the notification row itself: it is written inside
// the caller's transaction together with one delivery record per external
// channel, so an event is never committed without its notification. External
// channels are attempted afterwards, concurrently and independently, each
// bounded by a timeout. Their outcomes are recorded but never fail the
// operation that raised the event.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/resqnet/resqnet/internal/database"
	"github.com/resqnet/resqnet/internal/metrics"
	"github.com/resqnet/resqnet/internal/roster"
)

// ErrNotificationNotFound is returned for unknown notification ids
var ErrNotificationNotFound = errors.New("notification not found")

// Reasons recorded on delivery records
const (
	ReasonTimeout          = "timeout"
	ReasonNotConfigured    = "channel not configured"
	ReasonNoAddress        = "recipient has no address for channel"
	ReasonUnknownRecipient = "recipient not in roster"
)

// ChannelOutcome is the state of one channel for one notification
type ChannelOutcome struct {
	Channel     database.Channel         `json:"channel"`
	Outcome     database.DeliveryOutcome `json:"outcome"`
	Reason      string                   `json:"reason,omitempty"`
	AttemptedAt *time.Time               `json:"attempted_at,omitempty"`
}

// DispatchResult reports what happened to a notification on every channel
type DispatchResult struct {
	NotificationID string           `json:"notification_id"`
	Duplicate      bool             `json:"duplicate"`
	Outcomes       []ChannelOutcome `json:"outcomes"`
}

// Outcome returns the outcome recorded for ch
func (r *DispatchResult) Outcome(ch database.Channel) (ChannelOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.Channel == ch {
			return o, true
		}
	}
	return ChannelOutcome{}, false
}

// Dispatcher creates notifications and drives their external deliveries
type Dispatcher struct {
	db         *gorm.DB
	roster     roster.Roster
	channels   []database.Channel
	transports map[database.Channel]Transport
	timeout    time.Duration
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher for the given channel set. The in-app
// channel is always included.
func NewDispatcher(db *gorm.DB, r roster.Roster, channels []database.Channel, timeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	chs := []database.Channel{database.ChannelInApp}
	seen := map[database.Channel]bool{database.ChannelInApp: true}
	for _, ch := range channels {
		if !seen[ch] {
			seen[ch] = true
			chs = append(chs, ch)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		db:         db,
		roster:     r,
		channels:   chs,
		transports: make(map[database.Channel]Transport),
		timeout:    timeout,
		logger:     logger,
		metrics:    m,
		now:        time.Now,
	}
}

// Register installs the transport for its channel
func (d *Dispatcher) Register(t Transport) {
	d.transports[t.Channel()] = t
}

// Channels returns the configured channel set, in-app first
func (d *Dispatcher) Channels() []database.Channel {
	out := make([]database.Channel, len(d.channels))
	copy(out, d.channels)
	return out
}

// SetClock overrides the time source
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// Enqueue writes the in-app notification and its pending delivery records
// using tx. It must run inside the transaction of the state change that
// raised ev. When a notification with the same natural key already exists
// it is returned with duplicate set and nothing is written.
func (d *Dispatcher) Enqueue(tx *gorm.DB, ev Event) (*database.Notification, bool, error) {
	if ev.Signal == nil || ev.RecipientID == "" || ev.Key == "" {
		return nil, false, fmt.Errorf("notification event needs a signal, a recipient and a key")
	}

	now := d.now()
	n := &database.Notification{
		ID:          uuid.NewString(),
		SignalID:    ev.Signal.ID,
		RecipientID: ev.RecipientID,
		Type:        ev.Type,
		EventKey:    ev.Key,
		Priority:    ev.Signal.Priority,
		Payload:     Snapshot(ev.Signal, ev.Reason, ev.ActorID),
		CreatedAt:   now,
	}

	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(n)
	if res.Error != nil {
		return nil, false, fmt.Errorf("failed to create notification: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var existing database.Notification
		err := tx.Preload("Deliveries", orderedDeliveries).
			Where("signal_id = ? AND recipient_id = ? AND type = ? AND event_key = ?",
				ev.Signal.ID, ev.RecipientID, ev.Type, ev.Key).
			First(&existing).Error
		if err != nil {
			return nil, false, fmt.Errorf("failed to load duplicate notification: %w", err)
		}
		return &existing, true, nil
	}

	deliveries := make([]database.NotificationDelivery, 0, len(d.channels))
	for _, ch := range d.channels {
		del := database.NotificationDelivery{
			NotificationID: n.ID,
			Channel:        ch,
			Outcome:        database.DeliveryPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if ch == database.ChannelInApp {
			attempted := now
			del.Outcome = database.DeliveryDelivered
			del.AttemptedAt = &attempted
		}
		deliveries = append(deliveries, del)
	}
	if err := tx.Create(&deliveries).Error; err != nil {
		return nil, false, fmt.Errorf("failed to create delivery records: %w", err)
	}
	n.Deliveries = deliveries
	d.metrics.Delivery(string(database.ChannelInApp), string(database.DeliveryDelivered), 0)
	return n, false, nil
}

// Dispatch records ev in its own transaction and then attempts every
// external channel, waiting for all of them. A duplicate event returns
// the existing notification's outcomes after finishing any deliveries it
// left pending.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) (*DispatchResult, error) {
	var (
		n   *database.Notification
		dup bool
	)
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		n, dup, err = d.Enqueue(tx, ev)
		return err
	})
	if err != nil {
		return nil, err
	}

	result, err := d.Deliver(ctx, n.ID)
	if err != nil {
		// The in-app record is durable; the relay finishes the rest
		d.logger.Warn("external delivery deferred",
			zap.String("notification_id", n.ID), zap.Error(err))
		result = resultFrom(n)
	}
	result.Duplicate = dup
	return result, nil
}

// DeliverAsync attempts the pending channels of a committed notification
// in the background
func (d *Dispatcher) DeliverAsync(notificationID string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if _, err := d.Deliver(context.Background(), notificationID); err != nil {
			d.logger.Warn("external delivery deferred",
				zap.String("notification_id", notificationID), zap.Error(err))
		}
	}()
}

// Wait blocks until background deliveries have finished
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Deliver attempts every channel of the notification that is still pending.
// Channels run concurrently; each is claimed first so that concurrent
// callers never send the same channel twice.
func (d *Dispatcher) Deliver(ctx context.Context, notificationID string) (*DispatchResult, error) {
	var n database.Notification
	err := d.db.WithContext(ctx).Preload("Deliveries", orderedDeliveries).Where("id = ?", notificationID).First(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotificationNotFound, notificationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load notification %s: %w", notificationID, err)
	}

	var pending []int
	for i, del := range n.Deliveries {
		if del.Outcome == database.DeliveryPending {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return resultFrom(&n), nil
	}

	contact, err := d.roster.Lookup(ctx, n.RecipientID)
	if err != nil && !errors.Is(err, roster.ErrResponderNotFound) {
		return nil, fmt.Errorf("failed to resolve recipient %s: %w", n.RecipientID, err)
	}

	msg := BuildMessage(&n)
	var wg sync.WaitGroup
	for _, i := range pending {
		del := &n.Deliveries[i]
		claimed, err := d.claim(ctx, del)
		if err != nil {
			d.logger.Warn("failed to claim delivery",
				zap.String("notification_id", n.ID), zap.String("channel", string(del.Channel)), zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}
		if contact == nil {
			d.finish(ctx, &n, del, database.DeliverySkipped, ReasonUnknownRecipient, 0)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			d.attempt(ctx, &n, del, contact, msg)
		}()
	}
	wg.Wait()

	return resultFrom(&n), nil
}

// claim moves a delivery from pending to sending
func (d *Dispatcher) claim(ctx context.Context, del *database.NotificationDelivery) (bool, error) {
	now := d.now()
	res := d.db.WithContext(context.WithoutCancel(ctx)).Model(&database.NotificationDelivery{}).
		Where("id = ? AND outcome = ?", del.ID, database.DeliveryPending).
		Updates(map[string]interface{}{
			"outcome":    database.DeliverySending,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	del.Outcome = database.DeliverySending
	del.UpdatedAt = now
	return true, nil
}

func (d *Dispatcher) attempt(ctx context.Context, n *database.Notification, del *database.NotificationDelivery, contact *roster.Contact, msg *Message) {
	t, ok := d.transports[del.Channel]
	if !ok {
		d.finish(ctx, n, del, database.DeliverySkipped, ReasonNotConfigured, 0)
		return
	}
	to := t.Address(contact)
	if to == "" {
		d.finish(ctx, n, del, database.DeliverySkipped, ReasonNoAddress, 0)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	started := time.Now()
	err := safeSend(sendCtx, t, to, msg)
	took := time.Since(started)

	switch {
	case err == nil:
		d.finish(ctx, n, del, database.DeliveryDelivered, "", took)
	case ctx.Err() != nil:
		// Caller went away (shutdown); leave it for the relay
		d.release(del)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(sendCtx.Err(), context.DeadlineExceeded):
		d.finish(ctx, n, del, database.DeliveryFailed, ReasonTimeout, took)
	default:
		d.finish(ctx, n, del, database.DeliveryFailed, err.Error(), took)
	}
}

// safeSend runs the transport and turns a panic into a failed delivery
func safeSend(ctx context.Context, t Transport, to string, msg *Message) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("transport panic: %v", r)
			}
		}()
		done <- t.Send(ctx, to, msg)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// A transport that ignores ctx must not hold up the dispatch
		return ctx.Err()
	}
}

func (d *Dispatcher) finish(ctx context.Context, n *database.Notification, del *database.NotificationDelivery, outcome database.DeliveryOutcome, reason string, took time.Duration) {
	now := d.now()
	err := d.db.WithContext(context.WithoutCancel(ctx)).Model(&database.NotificationDelivery{}).
		Where("id = ?", del.ID).
		Updates(map[string]interface{}{
			"outcome":      outcome,
			"reason":       reason,
			"attempted_at": now,
			"updated_at":   now,
		}).Error
	if err != nil {
		d.logger.Error("failed to record delivery outcome",
			zap.String("notification_id", n.ID), zap.String("channel", string(del.Channel)), zap.Error(err))
	}
	del.Outcome = outcome
	del.Reason = reason
	del.AttemptedAt = &now

	d.metrics.Delivery(string(del.Channel), string(outcome), took)
	if outcome == database.DeliveryFailed {
		d.logger.Warn("channel delivery failed",
			zap.String("notification_id", n.ID),
			zap.String("signal_id", n.SignalID),
			zap.String("channel", string(del.Channel)),
			zap.String("reason", reason))
	}
}

func (d *Dispatcher) release(del *database.NotificationDelivery) {
	err := d.db.Model(&database.NotificationDelivery{}).
		Where("id = ? AND outcome = ?", del.ID, database.DeliverySending).
		Update("outcome", database.DeliveryPending).Error
	if err != nil {
		d.logger.Warn("failed to release delivery", zap.Uint("delivery_id", del.ID), zap.Error(err))
	}
	del.Outcome = database.DeliveryPending
}

// RequeueStale returns deliveries stuck in sending since before cutoff to
// pending, e.g. after a crash mid-send
func (d *Dispatcher) RequeueStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res := d.db.WithContext(ctx).Model(&database.NotificationDelivery{}).
		Where("outcome = ? AND updated_at < ?", database.DeliverySending, cutoff).
		Updates(map[string]interface{}{
			"outcome":    database.DeliveryPending,
			"updated_at": d.now(),
		})
	return res.RowsAffected, res.Error
}

// PendingNotifications lists notifications created before cutoff that still
// have channels waiting to be attempted
func (d *Dispatcher) PendingNotifications(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	var ids []string
	err := d.db.WithContext(ctx).Model(&database.NotificationDelivery{}).
		Distinct("notification_id").
		Where("outcome = ? AND created_at < ?", database.DeliveryPending, cutoff).
		Order("notification_id").
		Limit(limit).
		Pluck("notification_id", &ids).Error
	return ids, err
}

func orderedDeliveries(db *gorm.DB) *gorm.DB {
	return db.Order("id")
}

func resultFrom(n *database.Notification) *DispatchResult {
	r := &DispatchResult{NotificationID: n.ID}
	for _, del := range n.Deliveries {
		r.Outcomes = append(r.Outcomes, ChannelOutcome{
			Channel:     del.Channel,
			Outcome:     del.Outcome,
			Reason:      del.Reason,
			AttemptedAt: del.AttemptedAt,
		})
	}
	return r
}
