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

// Notifier records notifications transactionally and delivers them once
// the triggering change has committed. *notify.Dispatcher implements it.
type Notifier interface {
	Enqueue(tx *gorm.DB, ev notify.Event) (*database.Notification, bool, error)
	DeliverAsync(notificationID string)
}

// transitions is the canonical status graph
var transitions = map[database.SignalStatus][]database.SignalStatus{
	database.SignalStatusPending:      {database.SignalStatusAcknowledged, database.SignalStatusFalseAlarm},
	database.SignalStatusAcknowledged: {database.SignalStatusResponding, database.SignalStatusFalseAlarm, database.SignalStatusPending},
	database.SignalStatusResponding:   {database.SignalStatusResolved, database.SignalStatusFalseAlarm, database.SignalStatusAcknowledged},
	database.SignalStatusResolved:     {database.SignalStatusPending},
	database.SignalStatusFalseAlarm:   {database.SignalStatusPending},
}

// CanTransition reports whether from -> to is an edge of the status graph
func CanTransition(from, to database.SignalStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AllowedTransitions lists the statuses reachable from from
func AllowedTransitions(from database.SignalStatus) []database.SignalStatus {
	out := make([]database.SignalStatus, len(transitions[from]))
	copy(out, transitions[from])
	return out
}

// TransitionRequest asks for a status change on behalf of an actor
type TransitionRequest struct {
	SignalID string
	Status   database.SignalStatus
	ActorID  string
	Notes    string
}

// StateMachine validates and applies status transitions
type StateMachine struct {
	store    *SignalStore
	roster   roster.Roster
	notifier Notifier
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewStateMachine creates a new state machine
func NewStateMachine(store *SignalStore, r roster.Roster, notifier Notifier, logger *zap.Logger, m *metrics.Metrics) *StateMachine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateMachine{store: store, roster: r, notifier: notifier, logger: logger, metrics: m}
}

// Transition moves a signal to req.Status.
//
// Acknowledging a pending signal binds the acting responder as assignee.
// Returning an acknowledged signal to pending releases its assignee.
// Reopening a resolved or false-alarm signal starts a new response cycle:
// the assignee is cleared and the escalation level resets to zero.
// If the signal had an assignee other than the actor, that responder gets
// a status_update notification.
//
// A rejected transition returns the unchanged signal together with a
// *TransitionError.
func (m *StateMachine) Transition(ctx context.Context, req TransitionRequest) (*database.Signal, error) {
	if req.SignalID == "" {
		return nil, invalidArgument("signal_id is required")
	}
	if req.ActorID == "" {
		return nil, invalidArgument("actor_id is required")
	}
	if !req.Status.IsValid() {
		return nil, invalidArgument(fmt.Sprintf("unknown status %q", req.Status))
	}

	// Resolve the actor up front: acknowledging makes them the assignee,
	// and roster lookups must not run inside the signal transaction
	var actor *roster.Contact
	if req.Status == database.SignalStatusAcknowledged {
		c, err := m.roster.Lookup(ctx, req.ActorID)
		if err != nil && !isResponderNotFound(err) {
			return nil, err
		}
		actor = c
	}

	var (
		from          database.SignalStatus
		notifications []string
	)
	signal, err := m.store.Mutate(ctx, req.SignalID, func(tx *gorm.DB, s *database.Signal) error {
		notifications = notifications[:0]
		from = s.Status
		to := req.Status
		if !CanTransition(from, to) {
			return &TransitionError{SignalID: s.ID, From: from, To: to}
		}

		now := m.store.Now()
		previous := s.Assignee()

		switch {
		case from == database.SignalStatusPending && to == database.SignalStatusAcknowledged:
			if actor == nil {
				return notFound("responder", req.ActorID)
			}
			a := &database.Assignment{
				ID:          uuid.NewString(),
				SignalID:    s.ID,
				ResponderID: actor.ID,
				AssignedBy:  req.ActorID,
				AssignedAt:  now,
				Notes:       req.Notes,
				Cycle:       s.Cycle,
				Active:      true,
				CreatedAt:   now,
			}
			if err := tx.Create(a).Error; err != nil {
				return fmt.Errorf("failed to record assignment: %w", err)
			}
			id := actor.ID
			s.AssignedResponderID = &id

		case from == database.SignalStatusAcknowledged && to == database.SignalStatusPending:
			if err := revokeActiveAssignment(tx, s.ID, req.ActorID, now); err != nil {
				return err
			}
			s.AssignedResponderID = nil

		case from.IsTerminal() && to == database.SignalStatusPending:
			if err := revokeActiveAssignment(tx, s.ID, req.ActorID, now); err != nil {
				return err
			}
			s.AssignedResponderID = nil
			s.EscalationLevel = 0
			s.Cycle++
		}

		s.Status = to
		if err := appendNote(tx, s, database.NoteKindTransition, req.ActorID, from, to, req.Notes, now); err != nil {
			return err
		}

		if previous != "" && previous != req.ActorID {
			nid, err := enqueue(tx, m.notifier, notify.Event{
				Type:        database.NotificationTypeStatusUpdate,
				RecipientID: previous,
				Key:         fmt.Sprintf("status:%s:v%d", to, s.Version+1),
				Signal:      s,
				Reason:      fmt.Sprintf("%s -> %s", from, to),
				ActorID:     req.ActorID,
			})
			if err != nil {
				return err
			}
			notifications = appendID(notifications, nid)
		}
		return nil
	})
	m.metrics.Transition(string(from), string(req.Status), err)
	if err != nil {
		return signal, err
	}

	for _, id := range notifications {
		m.notifier.DeliverAsync(id)
	}
	m.logger.Info("signal transitioned",
		zap.String("signal_id", signal.ID),
		zap.String("from", string(from)),
		zap.String("to", string(signal.Status)),
		zap.String("actor_id", req.ActorID))
	return signal, nil
}
