package testhelpers

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/resqnet/resqnet/internal/database"
	"github.com/resqnet/resqnet/internal/roster"
)

// ========================================
// Signal Builder
// ========================================

// SignalBuilder builds Signal rows for testing
type SignalBuilder struct {
	signal database.Signal
}

// NewSignalBuilder creates a pending medium-priority signal in Colombo
func NewSignalBuilder() *SignalBuilder {
	now := time.Now()
	return &SignalBuilder{
		signal: database.Signal{
			ID:            uuid.NewString(),
			Location:      database.Location{Lat: 6.9271, Lng: 79.8612},
			Message:       "Test signal",
			Status:        database.SignalStatusPending,
			Priority:      database.PriorityMedium,
			EmergencyType: "flood",
			Cycle:         1,
			Version:       1,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
	}
}

// WithID sets the signal id
func (b *SignalBuilder) WithID(id string) *SignalBuilder {
	b.signal.ID = id
	return b
}

// At sets the location
func (b *SignalBuilder) At(lat, lng float64) *SignalBuilder {
	b.signal.Location = database.Location{Lat: lat, Lng: lng}
	return b
}

// WithStatus sets the status
func (b *SignalBuilder) WithStatus(status database.SignalStatus) *SignalBuilder {
	b.signal.Status = status
	return b
}

// WithPriority sets the priority
func (b *SignalBuilder) WithPriority(p database.Priority) *SignalBuilder {
	b.signal.Priority = p
	return b
}

// WithEscalationLevel sets the escalation level
func (b *SignalBuilder) WithEscalationLevel(level int) *SignalBuilder {
	b.signal.EscalationLevel = level
	return b
}

// AssignedTo sets the assigned responder
func (b *SignalBuilder) AssignedTo(responderID string) *SignalBuilder {
	b.signal.AssignedResponderID = &responderID
	return b
}

// Age sets created_at and updated_at to d before now
func (b *SignalBuilder) Age(d time.Duration) *SignalBuilder {
	ts := time.Now().Add(-d)
	b.signal.CreatedAt = ts
	b.signal.UpdatedAt = ts
	return b
}

// UpdatedAt sets updated_at only
func (b *SignalBuilder) UpdatedAt(ts time.Time) *SignalBuilder {
	b.signal.UpdatedAt = ts
	return b
}

// Build returns the constructed signal
func (b *SignalBuilder) Build() database.Signal {
	return b.signal
}

// Insert writes the signal and, when it has an assignee, its active
// assignment
func (b *SignalBuilder) Insert(t *testing.T, db *gorm.DB) *database.Signal {
	t.Helper()
	s := b.signal
	if err := db.Create(&s).Error; err != nil {
		t.Fatalf("failed to insert signal: %v", err)
	}
	if s.HasAssignee() {
		a := database.Assignment{
			ID:          uuid.NewString(),
			SignalID:    s.ID,
			ResponderID: s.Assignee(),
			AssignedBy:  "seed",
			AssignedAt:  s.UpdatedAt,
			Cycle:       s.Cycle,
			Active:      true,
		}
		if err := db.Create(&a).Error; err != nil {
			t.Fatalf("failed to insert assignment: %v", err)
		}
	}
	return &s
}

// ========================================
// Responder Builder
// ========================================

// ResponderBuilder builds Responder rows for testing
type ResponderBuilder struct {
	responder database.Responder
}

// NewResponderBuilder creates an active responder reachable on every channel
func NewResponderBuilder(id string) *ResponderBuilder {
	return &ResponderBuilder{
		responder: database.Responder{
			ID:          id,
			DisplayName: "Responder " + id,
			Email:       id + "@example.test",
			Phone:       "+94770000000",
			PushToken:   "push-" + id,
			SlackUserID: "U" + id,
			Active:      true,
		},
	}
}

// WithName sets the display name
func (b *ResponderBuilder) WithName(name string) *ResponderBuilder {
	b.responder.DisplayName = name
	return b
}

// WithoutPhone clears the phone number
func (b *ResponderBuilder) WithoutPhone() *ResponderBuilder {
	b.responder.Phone = ""
	return b
}

// Inactive marks the responder as retired
func (b *ResponderBuilder) Inactive() *ResponderBuilder {
	b.responder.Active = false
	return b
}

// Build returns the constructed responder
func (b *ResponderBuilder) Build() database.Responder {
	return b.responder
}

// Contact returns the roster view of the responder
func (b *ResponderBuilder) Contact() roster.Contact {
	r := b.responder
	return *roster.FromResponder(&r)
}

// Insert writes the responder
func (b *ResponderBuilder) Insert(t *testing.T, db *gorm.DB) *database.Responder {
	t.Helper()
	r := b.responder
	if err := db.Create(&r).Error; err != nil {
		t.Fatalf("failed to insert responder: %v", err)
	}
	return &r
}

// Roster builds a static roster from the given responders
func Roster(builders ...*ResponderBuilder) roster.Static {
	out := make(roster.Static, len(builders))
	for _, b := range builders {
		out[b.responder.ID] = b.Contact()
	}
	return out
}
