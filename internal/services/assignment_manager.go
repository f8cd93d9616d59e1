package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/resqnet/resqnet/internal/database"
	"github.com/resqnet/resqnet/internal/metrics"
	"github.com/resqnet/resqnet/internal/notify"
	"github.com/resqnet/resqnet/internal/roster"
)

// AssignRequest binds a responder to a signal
type AssignRequest struct {
	SignalID    string
	ResponderID string
	AssignedBy  string
	Notes       string
}

// RevokeRequest releases the current responder of a signal
type RevokeRequest struct {
	SignalID  string
	RevokedBy string
	Notes     string
}

// AssignmentManager keeps exactly one active assignment per signal
type AssignmentManager struct {
	store    *SignalStore
	roster   roster.Roster
	notifier Notifier
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewAssignmentManager creates a new assignment manager
func NewAssignmentManager(store *SignalStore, r roster.Roster, notifier Notifier, logger *zap.Logger, m *metrics.Metrics) *AssignmentManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssignmentManager{store: store, roster: r, notifier: notifier, logger: logger, metrics: m}
}

func (am *AssignmentManager) resolve(ctx context.Context, responderID string) (*roster.Contact, error) {
	c, err := am.roster.Lookup(ctx, responderID)
	if err != nil {
		if isResponderNotFound(err) {
			return nil, notFound("responder", responderID)
		}
		return nil, err
	}
	return c, nil
}

// Assign binds a responder to a pending, unassigned signal and moves it to
// acknowledged. The assignment notification is recorded in the same
// transaction and delivered after commit. Fails with ErrAlreadyAssigned if
// the signal already has a responder; use Reassign to replace one.
func (am *AssignmentManager) Assign(ctx context.Context, req AssignRequest) (*database.Assignment, error) {
	a, err := am.assign(ctx, req)
	am.metrics.Assignment("assign", err)
	return a, err
}

func (am *AssignmentManager) assign(ctx context.Context, req AssignRequest) (*database.Assignment, error) {
	if req.SignalID == "" || req.ResponderID == "" || req.AssignedBy == "" {
		return nil, invalidArgument("signal_id, responder_id and assigned_by are required")
	}
	responder, err := am.resolve(ctx, req.ResponderID)
	if err != nil {
		return nil, err
	}

	var (
		assignment    *database.Assignment
		notifications []string
	)
	_, err = am.store.Mutate(ctx, req.SignalID, func(tx *gorm.DB, s *database.Signal) error {
		notifications = notifications[:0]
		if s.HasAssignee() {
			return fmt.Errorf("%w: signal %s is assigned to %s", ErrAlreadyAssigned, s.ID, s.Assignee())
		}
		if s.Status != database.SignalStatusPending {
			return &TransitionError{SignalID: s.ID, From: s.Status, To: database.SignalStatusAcknowledged}
		}

		now := am.store.Now()
		assignment = &database.Assignment{
			ID:          uuid.NewString(),
			SignalID:    s.ID,
			ResponderID: responder.ID,
			AssignedBy:  req.AssignedBy,
			AssignedAt:  now,
			Notes:       req.Notes,
			Cycle:       s.Cycle,
			Active:      true,
			CreatedAt:   now,
		}
		if err := tx.Create(assignment).Error; err != nil {
			return fmt.Errorf("failed to record assignment: %w", err)
		}

		from := s.Status
		id := responder.ID
		s.AssignedResponderID = &id
		s.Status = database.SignalStatusAcknowledged

		text := fmt.Sprintf("assigned to %s", responder.Name())
		if req.Notes != "" {
			text += ": " + req.Notes
		}
		if err := appendNote(tx, s, database.NoteKindAssignment, req.AssignedBy, from, s.Status, text, now); err != nil {
			return err
		}

		nid, err := enqueue(tx, am.notifier, notify.Event{
			Type:        database.NotificationTypeAssignment,
			RecipientID: responder.ID,
			Key:         "assignment:" + assignment.ID,
			Signal:      s,
			Reason:      req.Notes,
			ActorID:     req.AssignedBy,
		})
		if err != nil {
			return err
		}
		notifications = appendID(notifications, nid)
		return nil
	})
	if err != nil {
		return nil, err
	}

	am.deliver(notifications)
	am.logger.Info("responder assigned",
		zap.String("signal_id", req.SignalID),
		zap.String("responder_id", responder.ID),
		zap.String("assigned_by", req.AssignedBy))
	return assignment, nil
}

// Reassign replaces the current responder. The prior assignment is revoked
// and kept as history; a responding signal drops back to acknowledged
// because the new responder has not started yet. Both responders are notified.
func (am *AssignmentManager) Reassign(ctx context.Context, req AssignRequest) (*database.Assignment, error) {
	a, err := am.reassign(ctx, req)
	am.metrics.Assignment("reassign", err)
	return a, err
}

func (am *AssignmentManager) reassign(ctx context.Context, req AssignRequest) (*database.Assignment, error) {
	if req.SignalID == "" || req.ResponderID == "" || req.AssignedBy == "" {
		return nil, invalidArgument("signal_id, responder_id and assigned_by are required")
	}
	responder, err := am.resolve(ctx, req.ResponderID)
	if err != nil {
		return nil, err
	}

	var (
		assignment    *database.Assignment
		notifications []string
	)
	_, err = am.store.Mutate(ctx, req.SignalID, func(tx *gorm.DB, s *database.Signal) error {
		notifications = notifications[:0]
		if !s.HasAssignee() {
			return fmt.Errorf("%w: signal %s", ErrNotAssigned, s.ID)
		}
		previous := s.Assignee()
		if previous == responder.ID {
			return fmt.Errorf("%w: signal %s is already assigned to %s", ErrAlreadyAssigned, s.ID, previous)
		}
		if s.Status != database.SignalStatusAcknowledged && s.Status != database.SignalStatusResponding {
			return &TransitionError{SignalID: s.ID, From: s.Status, To: database.SignalStatusAcknowledged}
		}

		now := am.store.Now()
		if err := revokeActiveAssignment(tx, s.ID, req.AssignedBy, now); err != nil {
			return err
		}
		assignment = &database.Assignment{
			ID:          uuid.NewString(),
			SignalID:    s.ID,
			ResponderID: responder.ID,
			AssignedBy:  req.AssignedBy,
			AssignedAt:  now,
			Notes:       req.Notes,
			Cycle:       s.Cycle,
			Active:      true,
			CreatedAt:   now,
		}
		if err := tx.Create(assignment).Error; err != nil {
			return fmt.Errorf("failed to record assignment: %w", err)
		}

		from := s.Status
		id := responder.ID
		s.AssignedResponderID = &id
		s.Status = database.SignalStatusAcknowledged

		text := fmt.Sprintf("reassigned from %s to %s", previous, responder.Name())
		if req.Notes != "" {
			text += ": " + req.Notes
		}
		if err := appendNote(tx, s, database.NoteKindAssignment, req.AssignedBy, from, s.Status, text, now); err != nil {
			return err
		}

		nid, err := enqueue(tx, am.notifier, notify.Event{
			Type:        database.NotificationTypeAssignment,
			RecipientID: responder.ID,
			Key:         "assignment:" + assignment.ID,
			Signal:      s,
			Reason:      req.Notes,
			ActorID:     req.AssignedBy,
		})
		if err != nil {
			return err
		}
		notifications = appendID(notifications, nid)

		nid, err = enqueue(tx, am.notifier, notify.Event{
			Type:        database.NotificationTypeStatusUpdate,
			RecipientID: previous,
			Key:         "reassigned:" + assignment.ID,
			Signal:      s,
			Reason:      "reassigned to " + responder.Name(),
			ActorID:     req.AssignedBy,
		})
		if err != nil {
			return err
		}
		notifications = appendID(notifications, nid)
		return nil
	})
	if err != nil {
		return nil, err
	}

	am.deliver(notifications)
	am.logger.Info("responder reassigned",
		zap.String("signal_id", req.SignalID),
		zap.String("responder_id", responder.ID),
		zap.String("assigned_by", req.AssignedBy))
	return assignment, nil
}

// Revoke releases the responder of an acknowledged signal and returns it
// to pending. The released responder is notified.
func (am *AssignmentManager) Revoke(ctx context.Context, req RevokeRequest) (*database.Signal, error) {
	s, err := am.revoke(ctx, req)
	am.metrics.Assignment("revoke", err)
	return s, err
}

func (am *AssignmentManager) revoke(ctx context.Context, req RevokeRequest) (*database.Signal, error) {
	if req.SignalID == "" || req.RevokedBy == "" {
		return nil, invalidArgument("signal_id and revoked_by are required")
	}

	var notifications []string
	signal, err := am.store.Mutate(ctx, req.SignalID, func(tx *gorm.DB, s *database.Signal) error {
		notifications = notifications[:0]
		if !s.HasAssignee() {
			return fmt.Errorf("%w: signal %s", ErrNotAssigned, s.ID)
		}
		if s.Status != database.SignalStatusAcknowledged {
			return &TransitionError{SignalID: s.ID, From: s.Status, To: database.SignalStatusPending}
		}

		now := am.store.Now()
		previous := s.Assignee()
		if err := revokeActiveAssignment(tx, s.ID, req.RevokedBy, now); err != nil {
			return err
		}
		s.AssignedResponderID = nil
		s.Status = database.SignalStatusPending

		text := "assignment of " + previous + " revoked"
		if req.Notes != "" {
			text += ": " + req.Notes
		}
		if err := appendNote(tx, s, database.NoteKindAssignment, req.RevokedBy, database.SignalStatusAcknowledged, s.Status, text, now); err != nil {
			return err
		}

		if previous == req.RevokedBy {
			return nil
		}
		nid, err := enqueue(tx, am.notifier, notify.Event{
			Type:        database.NotificationTypeStatusUpdate,
			RecipientID: previous,
			Key:         fmt.Sprintf("revoked:v%d", s.Version+1),
			Signal:      s,
			Reason:      "assignment revoked",
			ActorID:     req.RevokedBy,
		})
		if err != nil {
			return err
		}
		notifications = appendID(notifications, nid)
		return nil
	})
	if err != nil {
		return signal, err
	}

	am.deliver(notifications)
	am.logger.Info("assignment revoked",
		zap.String("signal_id", req.SignalID),
		zap.String("revoked_by", req.RevokedBy))
	return signal, nil
}

// History returns every assignment ever made for a signal, oldest first
func (am *AssignmentManager) History(ctx context.Context, signalID string) ([]database.Assignment, error) {
	if _, err := am.store.Get(ctx, signalID); err != nil {
		return nil, err
	}
	var out []database.Assignment
	err := am.store.DB().WithContext(ctx).
		Where("signal_id = ?", signalID).
		Order("assigned_at ASC").
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

func (am *AssignmentManager) deliver(ids []string) {
	for _, id := range ids {
		am.notifier.DeliverAsync(id)
	}
}

// enqueue records ev and returns the new notification id, or "" for a duplicate
func enqueue(tx *gorm.DB, n Notifier, ev notify.Event) (string, error) {
	rec, dup, err := n.Enqueue(tx, ev)
	if err != nil {
		return "", err
	}
	if dup {
		return "", nil
	}
	return rec.ID, nil
}

func appendID(ids []string, id string) []string {
	if id == "" {
		return ids
	}
	return append(ids, id)
}
