package api

import (
	"time"

	"github.com/resqnet/resqnet/internal/clustering"
	"github.com/resqnet/resqnet/internal/database"
)

// ========== Signal Requests ==========

// CreateSignalRequest is the request body for POST /api/signals.
type CreateSignalRequest struct {
	Lat           *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lng           *float64 `json:"lng" validate:"required,gte=-180,lte=180"`
	Address       string   `json:"address" validate:"omitempty,max=512"`
	Message       string   `json:"message" validate:"omitempty,max=4000"`
	Priority      string   `json:"priority" validate:"omitempty,oneof=low medium high critical"`
	EmergencyType string   `json:"emergency_type" validate:"omitempty,max=64"`
}

// TransitionRequest is the request body for POST /api/signals/{id}/transition.
type TransitionRequest struct {
	Status  string `json:"status" validate:"required,oneof=pending acknowledged responding resolved false_alarm"`
	ActorID string `json:"actor_id" validate:"required,max=64"`
	Notes   string `json:"notes" validate:"omitempty,max=4000"`
}

// AssignRequest is the request body for the assign and reassign endpoints.
type AssignRequest struct {
	ResponderID string `json:"responder_id" validate:"required,max=64"`
	AssignedBy  string `json:"assigned_by" validate:"required,max=64"`
	Notes       string `json:"notes" validate:"omitempty,max=4000"`
}

// RevokeRequest is the request body for POST /api/signals/{id}/revoke.
type RevokeRequest struct {
	RevokedBy string `json:"revoked_by" validate:"required,max=64"`
	Notes     string `json:"notes" validate:"omitempty,max=4000"`
}

// MarkReadRequest is the request body for POST /api/notifications/{id}/read.
type MarkReadRequest struct {
	RecipientID string `json:"recipient_id" validate:"required,max=64"`
}

// UpdateEscalationSettingsRequest is the request body for PUT /api/settings/escalation.
type UpdateEscalationSettingsRequest struct {
	Enabled         *bool `json:"enabled"`
	CriticalMinutes int   `json:"critical_minutes" validate:"required,min=1,max=1440"`
	HighMinutes     int   `json:"high_minutes" validate:"required,min=1,max=1440"`
	MediumMinutes   int   `json:"medium_minutes" validate:"required,min=1,max=1440"`
	LowMinutes      int   `json:"low_minutes" validate:"required,min=1,max=1440"`
}

// ========== Pagination Types ==========

// PaginationMeta contains pagination metadata for list responses.
type PaginationMeta struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// PaginatedResponse wraps a list response with pagination metadata.
type PaginatedResponse struct {
	Data       interface{}    `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
}

// ========== Mapper Output Types ==========

// SignalListItem is a compact signal for list views. It omits the audit notes.
type SignalListItem struct {
	ID                string                `json:"id"`
	Lat               float64               `json:"lat"`
	Lng               float64               `json:"lng"`
	Address           string                `json:"address,omitempty"`
	Message           string                `json:"message"`
	Status            database.SignalStatus `json:"status"`
	Priority          database.Priority     `json:"priority"`
	EscalationLevel   int                   `json:"escalation_level"`
	AssignedResponder string                `json:"assigned_responder,omitempty"`
	EmergencyType     string                `json:"emergency_type"`
	Age               string                `json:"age"`
	CreatedAt         time.Time             `json:"created_at"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

// SignalDetail is a full signal with its audit trail and the statuses it
// may move to next.
type SignalDetail struct {
	database.Signal
	AllowedTransitions []database.SignalStatus `json:"allowed_transitions"`
}

// ClustersResponse is the body of GET /api/clusters.
// ComputedAt is set when the result comes from the periodic snapshot.
type ClustersResponse struct {
	RadiusKm   float64              `json:"radius_km"`
	Count      int                  `json:"count"`
	Clusters   []clustering.Cluster `json:"clusters"`
	ComputedAt *time.Time           `json:"computed_at,omitempty"`
}

// DeliveryStatus summarizes one notification's channel outcomes.
type DeliveryStatus struct {
	NotificationID string                                        `json:"notification_id"`
	RecipientID    string                                        `json:"recipient_id"`
	Type           database.NotificationType                     `json:"type"`
	EventKey       string                                        `json:"event_key"`
	CreatedAt      time.Time                                     `json:"created_at"`
	Channels       map[database.Channel]database.DeliveryOutcome `json:"channels"`
	Reasons        map[database.Channel]string                   `json:"reasons,omitempty"`
}
