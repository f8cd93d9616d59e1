package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, j)
}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// SignalStatus represents the lifecycle status of an emergency signal
type SignalStatus string

const (
	SignalStatusPending      SignalStatus = "pending"
	SignalStatusAcknowledged SignalStatus = "acknowledged"
	SignalStatusResponding   SignalStatus = "responding"
	SignalStatusResolved     SignalStatus = "resolved"
	SignalStatusFalseAlarm   SignalStatus = "false_alarm"
)

// AllSignalStatuses returns every status in lifecycle order
func AllSignalStatuses() []SignalStatus {
	return []SignalStatus{
		SignalStatusPending,
		SignalStatusAcknowledged,
		SignalStatusResponding,
		SignalStatusResolved,
		SignalStatusFalseAlarm,
	}
}

// OpenSignalStatuses are the statuses of signals still needing a response
func OpenSignalStatuses() []SignalStatus {
	return []SignalStatus{
		SignalStatusPending,
		SignalStatusAcknowledged,
		SignalStatusResponding,
	}
}

// IsTerminal returns true for statuses that end a response cycle
func (s SignalStatus) IsTerminal() bool {
	return s == SignalStatusResolved || s == SignalStatusFalseAlarm
}

// IsValid reports whether s is a known status
func (s SignalStatus) IsValid() bool {
	for _, known := range AllSignalStatuses() {
		if s == known {
			return true
		}
	}
	return false
}

// Severity orders open statuses by how urgently they need attention.
// A pending signal nobody has picked up is the most severe.
func (s SignalStatus) Severity() int {
	switch s {
	case SignalStatusPending:
		return 3
	case SignalStatusAcknowledged:
		return 2
	case SignalStatusResponding:
		return 1
	default:
		return 0
	}
}

// Priority represents the urgency of a signal
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// AllPriorities returns priorities from lowest to highest
func AllPriorities() []Priority {
	return []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}
}

// Rank returns a comparable weight, higher is more urgent
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// IsValid reports whether p is a known priority
func (p Priority) IsValid() bool {
	return p.Rank() > 0
}

// Location is where a signal was raised
type Location struct {
	Lat     float64 `gorm:"column:lat;not null" json:"lat"`
	Lng     float64 `gorm:"column:lng;not null" json:"lng"`
	Address string  `gorm:"column:address;type:text" json:"address,omitempty"`
}

// Signal is one distress event tracked through its response lifecycle.
// Signals are never deleted; resolution is a terminal status.
type Signal struct {
	ID                  string       `gorm:"primaryKey;size:36" json:"id"`
	Location            Location     `gorm:"embedded" json:"location"`
	Message             string       `gorm:"type:text" json:"message"`
	Status              SignalStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	Priority            Priority     `gorm:"type:varchar(20);not null;index" json:"priority"`
	EscalationLevel     int          `gorm:"not null;default:0" json:"escalation_level"`
	AssignedResponderID *string      `gorm:"size:64;index" json:"assigned_responder,omitempty"`
	EmergencyType       string       `gorm:"type:varchar(64)" json:"emergency_type"`
	Cycle               int          `gorm:"not null;default:1" json:"cycle"`     // response cycle, bumped on reopen
	Version             int64        `gorm:"not null;default:1" json:"version"`   // optimistic concurrency token
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `gorm:"autoUpdateTime:false" json:"updated_at"`

	Notes []SignalNote `gorm:"foreignKey:SignalID" json:"notes,omitempty"`
}

func (Signal) TableName() string {
	return "signals"
}

// IsOpen returns true if the signal still needs a response
func (s *Signal) IsOpen() bool {
	return !s.Status.IsTerminal()
}

// Assignee returns the assigned responder id or an empty string
func (s *Signal) Assignee() string {
	if s.AssignedResponderID == nil {
		return ""
	}
	return *s.AssignedResponderID
}

// HasAssignee returns true if a responder is bound to the signal
func (s *Signal) HasAssignee() bool {
	return s.Assignee() != ""
}

// NoteKind classifies audit log entries
type NoteKind string

const (
	NoteKindTransition NoteKind = "transition"
	NoteKindAssignment NoteKind = "assignment"
	NoteKindEscalation NoteKind = "escalation"
)

// SignalNote is one append-only audit entry on a signal
type SignalNote struct {
	ID         uint         `gorm:"primaryKey" json:"id"`
	SignalID   string       `gorm:"size:36;not null;index" json:"signal_id"`
	ActorID    string       `gorm:"size:64;not null" json:"actor_id"`
	Kind       NoteKind     `gorm:"type:varchar(20);not null" json:"kind"`
	FromStatus SignalStatus `gorm:"type:varchar(20)" json:"from_status,omitempty"`
	ToStatus   SignalStatus `gorm:"type:varchar(20)" json:"to_status,omitempty"`
	Text       string       `gorm:"type:text" json:"text"`
	CreatedAt  time.Time    `json:"created_at"`
}

func (SignalNote) TableName() string {
	return "signal_notes"
}

// Responder is a roster entry. Roster management happens elsewhere;
// this service only reads these rows.
type Responder struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	DisplayName string    `gorm:"size:255" json:"display_name"`
	Email       string    `gorm:"size:255" json:"email"`
	Phone       string    `gorm:"size:64" json:"phone"`
	PushToken   string    `gorm:"type:text" json:"push_token,omitempty"`
	SlackUserID string    `gorm:"size:64" json:"slack_user_id,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Responder) TableName() string {
	return "responders"
}

// Assignment binds a responder to a signal for one response cycle.
// Rows are never deleted; revoked assignments stay as history.
type Assignment struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	SignalID    string     `gorm:"size:36;not null;index" json:"signal_id"`
	ResponderID string     `gorm:"size:64;not null;index" json:"responder_id"`
	AssignedBy  string     `gorm:"size:64;not null" json:"assigned_by"`
	AssignedAt  time.Time  `gorm:"not null" json:"assigned_at"`
	Notes       string     `gorm:"type:text" json:"notes"`
	Cycle       int        `gorm:"not null" json:"cycle"`
	Active      bool       `gorm:"index" json:"active"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	RevokedBy   string     `gorm:"size:64" json:"revoked_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (Assignment) TableName() string {
	return "assignments"
}

// NotificationType is the kind of event a notification reports
type NotificationType string

const (
	NotificationTypeAssignment   NotificationType = "assignment"
	NotificationTypeEscalation   NotificationType = "escalation"
	NotificationTypeStatusUpdate NotificationType = "status_update"
)

// Channel names one notification transport
type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
	ChannelSlack Channel = "slack"
)

// DeliveryOutcome is the per-channel result of a notification
type DeliveryOutcome string

const (
	DeliveryPending   DeliveryOutcome = "pending"
	DeliverySending   DeliveryOutcome = "sending"
	DeliveryDelivered DeliveryOutcome = "delivered"
	DeliveryFailed    DeliveryOutcome = "failed"
	DeliverySkipped   DeliveryOutcome = "skipped"
)

// IsFinal returns true once a channel attempt has concluded
func (o DeliveryOutcome) IsFinal() bool {
	return o == DeliveryDelivered || o == DeliveryFailed || o == DeliverySkipped
}

// Notification is the durable in-app record of one logical event for one
// recipient. (signal, recipient, type, event key) is its natural key.
type Notification struct {
	ID          string           `gorm:"primaryKey;size:36" json:"id"`
	SignalID    string           `gorm:"size:36;not null;uniqueIndex:idx_notifications_natural_key" json:"signal_id"`
	RecipientID string           `gorm:"size:64;not null;uniqueIndex:idx_notifications_natural_key;index" json:"recipient_id"`
	Type        NotificationType `gorm:"type:varchar(20);not null;uniqueIndex:idx_notifications_natural_key" json:"type"`
	EventKey    string           `gorm:"size:128;not null;uniqueIndex:idx_notifications_natural_key" json:"event_key"`
	Priority    Priority         `gorm:"type:varchar(20);not null" json:"priority"`
	Payload     JSONB            `gorm:"type:jsonb" json:"payload"`
	Read        bool             `json:"read"`
	ReadAt      *time.Time       `json:"read_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`

	Deliveries []NotificationDelivery `gorm:"foreignKey:NotificationID" json:"deliveries,omitempty"`
}

func (Notification) TableName() string {
	return "notifications"
}

// NotificationDelivery records the outcome of one channel for one notification
type NotificationDelivery struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	NotificationID string          `gorm:"size:36;not null;uniqueIndex:idx_delivery_channel" json:"notification_id"`
	Channel        Channel         `gorm:"type:varchar(20);not null;uniqueIndex:idx_delivery_channel" json:"channel"`
	Outcome        DeliveryOutcome `gorm:"type:varchar(20);not null;index" json:"outcome"`
	Reason         string          `gorm:"type:text" json:"reason,omitempty"`
	AttemptedAt    *time.Time      `json:"attempted_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (NotificationDelivery) TableName() string {
	return "notification_deliveries"
}
