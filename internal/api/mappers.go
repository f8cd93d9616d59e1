package api

import (
	"time"

	"github.com/resqnet/resqnet/internal/clustering"
	"github.com/resqnet/resqnet/internal/database"
	"github.com/resqnet/resqnet/internal/services"
	"github.com/resqnet/resqnet/internal/utils"
)

// ToCreateSignal converts a validated request into the store's ingestion contract.
func (r CreateSignalRequest) ToCreateSignal() services.CreateSignalRequest {
	req := services.CreateSignalRequest{
		Message:       r.Message,
		PriorityHint:  database.Priority(r.Priority),
		EmergencyType: r.EmergencyType,
	}
	if r.Lat != nil {
		req.Location.Lat = *r.Lat
	}
	if r.Lng != nil {
		req.Location.Lng = *r.Lng
	}
	req.Location.Address = r.Address
	return req
}

// ApplyTo copies the thresholds onto existing settings. A missing enabled
// flag keeps the current value.
func (r UpdateEscalationSettingsRequest) ApplyTo(s *database.EscalationSettings) {
	if r.Enabled != nil {
		s.Enabled = *r.Enabled
	}
	s.CriticalMinutes = r.CriticalMinutes
	s.HighMinutes = r.HighMinutes
	s.MediumMinutes = r.MediumMinutes
	s.LowMinutes = r.LowMinutes
}

// SignalToListItem converts a database Signal to a compact list representation.
func SignalToListItem(s database.Signal, now time.Time) SignalListItem {
	return SignalListItem{
		ID:                s.ID,
		Lat:               s.Location.Lat,
		Lng:               s.Location.Lng,
		Address:           s.Location.Address,
		Message:           utils.TruncateText(s.Message, 140),
		Status:            s.Status,
		Priority:          s.Priority,
		EscalationLevel:   s.EscalationLevel,
		AssignedResponder: s.Assignee(),
		EmergencyType:     s.EmergencyType,
		Age:               utils.FormatDuration(now.Sub(s.CreatedAt)),
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

// SignalsToListItems converts a slice of database Signals to list items.
func SignalsToListItems(signals []database.Signal, now time.Time) []SignalListItem {
	items := make([]SignalListItem, len(signals))
	for i, s := range signals {
		items[i] = SignalToListItem(s, now)
	}
	return items
}

// SignalToDetail wraps a signal with its allowed next statuses.
func SignalToDetail(s *database.Signal) SignalDetail {
	allowed := services.AllowedTransitions(s.Status)
	if allowed == nil {
		allowed = []database.SignalStatus{}
	}
	return SignalDetail{Signal: *s, AllowedTransitions: allowed}
}

// ClustersToResponse builds the clusters body. A nil slice is rendered as [].
func ClustersToResponse(radiusKm float64, clusters []clustering.Cluster) ClustersResponse {
	if clusters == nil {
		clusters = []clustering.Cluster{}
	}
	return ClustersResponse{RadiusKm: radiusKm, Count: len(clusters), Clusters: clusters}
}

// NotificationToDeliveryStatus flattens a notification's delivery records.
func NotificationToDeliveryStatus(n database.Notification) DeliveryStatus {
	ds := DeliveryStatus{
		NotificationID: n.ID,
		RecipientID:    n.RecipientID,
		Type:           n.Type,
		EventKey:       n.EventKey,
		CreatedAt:      n.CreatedAt,
		Channels:       make(map[database.Channel]database.DeliveryOutcome, len(n.Deliveries)),
	}
	for _, d := range n.Deliveries {
		ds.Channels[d.Channel] = d.Outcome
		if d.Reason != "" {
			if ds.Reasons == nil {
				ds.Reasons = make(map[database.Channel]string)
			}
			ds.Reasons[d.Channel] = d.Reason
		}
	}
	return ds
}

// NotificationsToDeliveryStatus converts a slice of notifications.
func NotificationsToDeliveryStatus(ns []database.Notification) []DeliveryStatus {
	out := make([]DeliveryStatus, len(ns))
	for i, n := range ns {
		out[i] = NotificationToDeliveryStatus(n)
	}
	return out
}
