package notify

import (
	"fmt"
	"strings"

	"github.com/resqnet/resqnet/internal/database"
	"github.com/resqnet/resqnet/internal/utils"
)

// Event is one logical occurrence that a recipient must hear about.
// (SignalID, RecipientID, Type, Key) identifies it; redelivering the same
// event never creates a second notification.
type Event struct {
	Type        database.NotificationType
	RecipientID string
	Key         string
	Signal      *database.Signal
	Reason      string
	ActorID     string
}

// Message is what a transport sends
type Message struct {
	NotificationID string
	SignalID       string
	Type           database.NotificationType
	Priority       database.Priority
	Title          string
	Body           string
	Data           map[string]interface{}
}

// Snapshot captures the signal as it was when the event happened
func Snapshot(s *database.Signal, reason, actorID string) database.JSONB {
	p := database.JSONB{
		"signal_id":        s.ID,
		"status":           string(s.Status),
		"priority":         string(s.Priority),
		"escalation_level": s.EscalationLevel,
		"emergency_type":   s.EmergencyType,
		"message":          s.Message,
		"lat":              s.Location.Lat,
		"lng":              s.Location.Lng,
		"cycle":            s.Cycle,
		"updated_at":       s.UpdatedAt,
	}
	if s.Location.Address != "" {
		p["address"] = s.Location.Address
	}
	if s.HasAssignee() {
		p["assigned_responder"] = s.Assignee()
	}
	if reason != "" {
		p["reason"] = reason
	}
	if actorID != "" {
		p["actor_id"] = actorID
	}
	return p
}

// BuildMessage renders a stored notification for external transports
func BuildMessage(n *database.Notification) *Message {
	str := func(key string) string {
		if v, ok := n.Payload[key].(string); ok {
			return v
		}
		return ""
	}

	where := str("address")
	if where == "" {
		where = fmt.Sprintf("%v, %v", n.Payload["lat"], n.Payload["lng"])
	}
	kind := str("emergency_type")
	if kind == "" {
		kind = "emergency"
	}

	var title string
	switch n.Type {
	case database.NotificationTypeAssignment:
		title = fmt.Sprintf("[%s] You are assigned to a %s signal", strings.ToUpper(string(n.Priority)), kind)
	case database.NotificationTypeEscalation:
		title = fmt.Sprintf("[%s] Escalated (level %v): %s signal needs attention",
			strings.ToUpper(string(n.Priority)), n.Payload["escalation_level"], kind)
	default:
		title = fmt.Sprintf("[%s] Signal is now %s", strings.ToUpper(string(n.Priority)), str("status"))
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Signal: %s\n", n.SignalID)
	fmt.Fprintf(&body, "Location: %s\n", where)
	fmt.Fprintf(&body, "Status: %s\n", str("status"))
	if msg := str("message"); msg != "" {
		fmt.Fprintf(&body, "Message: %s\n", utils.TruncateText(msg, 280))
	}
	if reason := str("reason"); reason != "" {
		fmt.Fprintf(&body, "Reason: %s\n", reason)
	}

	return &Message{
		NotificationID: n.ID,
		SignalID:       n.SignalID,
		Type:           n.Type,
		Priority:       n.Priority,
		Title:          title,
		Body:           strings.TrimRight(body.String(), "\n"),
		Data:           n.Payload,
	}
}

// ShortText is a single-line rendering for SMS-sized channels
func (m *Message) ShortText(maxLen int) string {
	return utils.TruncateText(m.Title+" - "+strings.ReplaceAll(m.Body, "\n", "; "), maxLen)
}
