package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/resqnet/resqnet/internal/database"
	"github.com/resqnet/resqnet/internal/metrics"
	"github.com/resqnet/resqnet/internal/notify"
)

// ReasonAutoTimeout marks escalations raised by the scheduler
const ReasonAutoTimeout = "auto-timeout"

// EscalateRequest raises the escalation level of a signal.
// ExpectedVersion, when non-zero, makes the call fail with ErrStaleSignal if
// the signal changed after the caller read it.
type EscalateRequest struct {
	SignalID        string
	NewLevel        int
	Reason          string
	ActorID         string
	ExpectedVersion int64
}

// Escalator raises escalation levels and owns the threshold settings
type Escalator struct {
	store        *SignalStore
	notifier     Notifier
	supervisorID string
	defaults     *database.EscalationSettings
	logger       *zap.Logger
	metrics      *metrics.Metrics
}

// NewEscalator creates a new escalator. Escalations of unassigned signals
// are sent to supervisorID.
func NewEscalator(store *SignalStore, notifier Notifier, supervisorID string, logger *zap.Logger, m *metrics.Metrics) *Escalator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Escalator{
		store:        store,
		notifier:     notifier,
		supervisorID: supervisorID,
		logger:       logger,
		metrics:      m,
	}
}

// SetDefaults sets the thresholds seeded when no settings row exists yet
func (e *Escalator) SetDefaults(defaults *database.EscalationSettings) {
	e.defaults = defaults
}

// Escalate sets the escalation level of a pending or acknowledged signal to
// req.NewLevel and notifies the assignee, or the supervisor when there is
// none. Status never changes.
func (e *Escalator) Escalate(ctx context.Context, req EscalateRequest) (*database.Signal, error) {
	if req.SignalID == "" {
		return nil, invalidArgument("signal_id is required")
	}
	if req.NewLevel <= 0 {
		return nil, invalidArgument("new level must be positive")
	}
	if req.Reason == "" {
		req.Reason = ReasonAutoTimeout
	}
	if req.ActorID == "" {
		req.ActorID = "system"
	}

	var (
		recipient     string
		notifications []string
	)
	signal, err := e.store.Mutate(ctx, req.SignalID, func(tx *gorm.DB, s *database.Signal) error {
		notifications = notifications[:0]
		if req.ExpectedVersion != 0 && s.Version != req.ExpectedVersion {
			return fmt.Errorf("%w: signal %s at version %d, expected %d", ErrStaleSignal, s.ID, s.Version, req.ExpectedVersion)
		}
		if s.Status != database.SignalStatusPending && s.Status != database.SignalStatusAcknowledged {
			return fmt.Errorf("%w: signal %s is %s", ErrNotEscalatable, s.ID, s.Status)
		}
		if req.NewLevel <= s.EscalationLevel {
			return fmt.Errorf("%w: signal %s already at level %d", ErrAlreadyEscalated, s.ID, s.EscalationLevel)
		}

		from := s.EscalationLevel
		s.EscalationLevel = req.NewLevel
		text := fmt.Sprintf("escalation level %d -> %d (%s)", from, s.EscalationLevel, req.Reason)
		if err := appendNote(tx, s, database.NoteKindEscalation, req.ActorID, s.Status, s.Status, text, e.store.Now()); err != nil {
			return err
		}

		recipient = s.Assignee()
		if recipient == "" {
			recipient = e.supervisorID
		}
		if recipient == "" {
			return nil
		}
		nid, err := enqueue(tx, e.notifier, notify.Event{
			Type:        database.NotificationTypeEscalation,
			RecipientID: recipient,
			Key:         fmt.Sprintf("escalation:c%d:l%d", s.Cycle, s.EscalationLevel),
			Signal:      s,
			Reason:      req.Reason,
			ActorID:     req.ActorID,
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

	for _, id := range notifications {
		e.notifier.DeliverAsync(id)
	}
	e.metrics.Escalation(string(signal.Priority))
	e.logger.Info("signal escalated",
		zap.String("signal_id", signal.ID),
		zap.Int("level", signal.EscalationLevel),
		zap.String("priority", string(signal.Priority)),
		zap.String("recipient_id", recipient),
		zap.String("reason", req.Reason))
	return signal, nil
}

// GetSettings returns the current thresholds
func (e *Escalator) GetSettings(ctx context.Context) (*database.EscalationSettings, error) {
	return database.GetOrCreateEscalationSettings(e.store.DB().WithContext(ctx), e.defaults)
}

// UpdateSettings replaces the thresholds
func (e *Escalator) UpdateSettings(ctx context.Context, s *database.EscalationSettings) (*database.EscalationSettings, error) {
	if err := s.Validate(); err != nil {
		return nil, invalidArgument(err.Error())
	}
	current, err := e.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	current.Enabled = s.Enabled
	current.CriticalMinutes = s.CriticalMinutes
	current.HighMinutes = s.HighMinutes
	current.MediumMinutes = s.MediumMinutes
	current.LowMinutes = s.LowMinutes
	if err := database.UpdateEscalationSettings(e.store.DB().WithContext(ctx), current); err != nil {
		return nil, fmt.Errorf("failed to update escalation settings: %w", err)
	}
	e.logger.Info("escalation settings updated",
		zap.Bool("enabled", current.Enabled),
		zap.Int("critical_minutes", current.CriticalMinutes),
		zap.Int("high_minutes", current.HighMinutes),
		zap.Int("medium_minutes", current.MediumMinutes),
		zap.Int("low_minutes", current.LowMinutes))
	return current, nil
}
