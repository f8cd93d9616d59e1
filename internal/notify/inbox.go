package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/resqnet/resqnet/internal/database"
)

// Inbox answers delivery-status and in-app queries
type Inbox struct {
	db *gorm.DB
}

// NewInbox creates a new inbox
func NewInbox(db *gorm.DB) *Inbox {
	return &Inbox{db: db}
}

// ListForRecipient returns a page of the recipient's notifications, newest first
func (i *Inbox) ListForRecipient(ctx context.Context, recipientID string, unreadOnly bool, offset, limit int) ([]database.Notification, int64, error) {
	q := i.db.WithContext(ctx).Model(&database.Notification{}).Where("recipient_id = ?", recipientID)
	if unreadOnly {
		q = q.Where("read = ?", false)
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var out []database.Notification
	err := q.Preload("Deliveries", orderedDeliveries).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, total, err
}

// ListForSignal returns every notification raised for a signal with its
// per-channel delivery records, oldest first
func (i *Inbox) ListForSignal(ctx context.Context, signalID string) ([]database.Notification, error) {
	var out []database.Notification
	err := i.db.WithContext(ctx).Preload("Deliveries", orderedDeliveries).
		Where("signal_id = ?", signalID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

// Get returns one notification with its delivery records
func (i *Inbox) Get(ctx context.Context, id string) (*database.Notification, error) {
	var n database.Notification
	err := i.db.WithContext(ctx).Preload("Deliveries", orderedDeliveries).Where("id = ?", id).First(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotificationNotFound, id)
	}
	return &n, err
}

// MarkRead sets the in-app read flag. Only the recipient may mark a
// notification read; marking twice keeps the first read time.
func (i *Inbox) MarkRead(ctx context.Context, id, recipientID string) (*database.Notification, error) {
	n, err := i.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.RecipientID != recipientID {
		return nil, fmt.Errorf("%w: %s", ErrNotificationNotFound, id)
	}
	if n.Read {
		return n, nil
	}

	now := time.Now()
	err = i.db.WithContext(ctx).Model(&database.Notification{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"read": true, "read_at": now}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to mark notification read: %w", err)
	}
	n.Read = true
	n.ReadAt = &now
	return n, nil
}
