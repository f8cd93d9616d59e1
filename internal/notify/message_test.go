package notify_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/resqnet/resqnet/internal/database"
	"github.com/resqnet/resqnet/internal/notify"
	"github.com/resqnet/resqnet/internal/testhelpers"
)

func TestBuildMessage(t *testing.T) {
	s := testhelpers.NewSignalBuilder().WithPriority(database.PriorityCritical).WithEscalationLevel(2).Build()
	s.Location.Address = "12 Marine Drive"
	n := &database.Notification{
		ID:       "n1",
		SignalID: s.ID,
		Type:     database.NotificationTypeEscalation,
		Priority: s.Priority,
		Payload:  notify.Snapshot(&s, "auto-timeout", "scheduler"),
	}

	msg := notify.BuildMessage(n)
	assert.Equal(t, "n1", msg.NotificationID)
	assert.Contains(t, msg.Title, "[CRITICAL]")
	assert.Contains(t, msg.Title, "level 2")
	assert.Contains(t, msg.Title, "flood")
	assert.Contains(t, msg.Body, "Location: 12 Marine Drive")
	assert.Contains(t, msg.Body, "Reason: auto-timeout")

	short := msg.ShortText(60)
	assert.LessOrEqual(t, len([]rune(short)), 60)
	assert.NotContains(t, short, "\n")
}

func TestSnapshot(t *testing.T) {
	s := testhelpers.NewSignalBuilder().AssignedTo("responder001").Build()
	p := notify.Snapshot(&s, "", "")
	assert.Equal(t, "responder001", p["assigned_responder"])
	assert.Equal(t, "pending", p["status"])
	_, hasReason := p["reason"]
	assert.False(t, hasReason)
}
