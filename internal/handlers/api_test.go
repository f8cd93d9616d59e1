package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resqnet/resqnet/internal/api"
	"github.com/resqnet/resqnet/internal/database"
	"github.com/resqnet/resqnet/internal/services"
	"github.com/resqnet/resqnet/internal/testhelpers"
)

func TestHealth(t *testing.T) {
	s := newServer(t)
	s.do(t, http.MethodGet, "/health", nil).
		AssertStatus(http.StatusOK).
		AssertJSONEqual("", `{"status":"ok","database":"ok"}`)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newServer(t)
	s.do(t, http.MethodPost, "/api/signals", map[string]interface{}{"lat": 6.9, "lng": 79.86}).
		AssertStatus(http.StatusCreated)
	s.do(t, http.MethodGet, "/metrics", nil).
		AssertStatus(http.StatusOK).
		AssertBodyContains("resqnet_signals_created_total")
}

func TestCreateAndGetSignal(t *testing.T) {
	s := newServer(t)

	var created api.SignalDetail
	s.do(t, http.MethodPost, "/api/signals", map[string]interface{}{
		"lat": 6.9271, "lng": 79.8612, "message": "trapped on roof", "priority": "critical", "emergency_type": "flood",
	}).AssertStatus(http.StatusCreated).DecodeJSON(&created)

	assert.Equal(t, database.SignalStatusPending, created.Status)
	assert.Equal(t, database.PriorityCritical, created.Priority)
	assert.ElementsMatch(t, []database.SignalStatus{database.SignalStatusAcknowledged, database.SignalStatusFalseAlarm}, created.AllowedTransitions)

	var got api.SignalDetail
	s.do(t, http.MethodGet, "/api/signals/"+created.ID, nil).
		AssertStatus(http.StatusOK).
		DecodeJSON(&got)
	assert.Equal(t, "trapped on roof", got.Message)
}

func TestCreateSignal_Validation(t *testing.T) {
	s := newServer(t)

	s.do(t, http.MethodPost, "/api/signals", map[string]interface{}{"lat": 95.0, "priority": "urgent"}).
		AssertStatus(http.StatusUnprocessableEntity).
		AssertJSONKeyValue("code", api.CodeValidation).
		AssertJSONContainsKey("details.lat").
		AssertJSONContainsKey("details.lng").
		AssertJSONContainsKey("details.priority")

	s.do(t, http.MethodPost, "/api/signals", map[string]interface{}{"lat": 6.9, "lng": 79.8, "extra": true}).
		AssertStatus(http.StatusBadRequest)
}

func TestGetSignal_NotFound(t *testing.T) {
	s := newServer(t)
	s.do(t, http.MethodGet, "/api/signals/missing", nil).
		AssertStatus(http.StatusNotFound).
		AssertJSONKeyValue("code", api.CodeNotFound)
}

func TestListSignals(t *testing.T) {
	s := newServer(t)
	s.insert(t, testhelpers.NewSignalBuilder().WithPriority(database.PriorityHigh))
	s.insert(t, testhelpers.NewSignalBuilder().WithPriority(database.PriorityHigh).WithStatus(database.SignalStatusResolved))
	s.insert(t, testhelpers.NewSignalBuilder().WithPriority(database.PriorityLow))

	s.do(t, http.MethodGet, "/api/signals?priority=high&status=pending,acknowledged", nil).
		AssertStatus(http.StatusOK).
		AssertJSONArrayLength("data", 1).
		AssertJSONKeyValue("data.0.priority", database.PriorityHigh).
		AssertJSONKeyValue("data.0.status", database.SignalStatusPending).
		AssertJSONKeyValue("pagination.total", 1)

	s.do(t, http.MethodGet, "/api/signals?per_page=2", nil).
		AssertJSONArrayLength("data", 2).
		AssertJSONKeyValue("pagination.total", 3).
		AssertJSONKeyValue("pagination.total_pages", 2)

	s.do(t, http.MethodGet, "/api/signals?status=open", nil).AssertStatus(http.StatusUnprocessableEntity)
	s.do(t, http.MethodGet, "/api/signals?priority=urgent", nil).AssertStatus(http.StatusUnprocessableEntity)
}

func TestSignalStats(t *testing.T) {
	s := newServer(t)
	s.insert(t, testhelpers.NewSignalBuilder().WithPriority(database.PriorityCritical))
	s.insert(t, testhelpers.NewSignalBuilder().WithStatus(database.SignalStatusResolved))

	var stats services.SignalStats
	s.do(t, http.MethodGet, "/api/signals/stats", nil).
		AssertStatus(http.StatusOK).
		AssertJSONKeyValue("total", 2).
		AssertJSONKeyValue("open", 1).
		AssertJSONEqual("by_status", `{"pending":1,"acknowledged":0,"responding":0,"resolved":1,"false_alarm":0}`).
		DecodeJSON(&stats)
	assert.Len(t, stats.ByPriority, 4)
}

func TestAssignLifecycle(t *testing.T) {
	s := newServer(t)
	sig := s.insert(t, testhelpers.NewSignalBuilder())
	base := "/api/signals/" + sig.ID

	var a database.Assignment
	s.do(t, http.MethodPost, base+"/assign", api.AssignRequest{ResponderID: "responder001", AssignedBy: "admin_seed"}).
		AssertStatus(http.StatusCreated).
		DecodeJSON(&a)
	assert.Equal(t, "responder001", a.ResponderID)

	s.do(t, http.MethodPost, base+"/assign", api.AssignRequest{ResponderID: "responder002", AssignedBy: "admin_seed"}).
		AssertStatus(http.StatusConflict).
		AssertJSONKeyValue("code", api.CodeAlreadyAssigned)

	s.do(t, http.MethodPost, base+"/reassign", api.AssignRequest{ResponderID: "responder002", AssignedBy: "admin_seed"}).
		AssertStatus(http.StatusCreated)

	s.do(t, http.MethodGet, base+"/assignments", nil).
		AssertStatus(http.StatusOK).
		AssertJSONArrayLength("", 2).
		AssertJSONKeyValue("0.responder_id", "responder001").
		AssertJSONKeyValue("1.responder_id", "responder002")

	var revoked api.SignalDetail
	s.do(t, http.MethodPost, base+"/revoke", api.RevokeRequest{RevokedBy: "admin_seed"}).
		AssertStatus(http.StatusOK).
		DecodeJSON(&revoked)
	assert.Equal(t, database.SignalStatusPending, revoked.Status)
	assert.Nil(t, revoked.AssignedResponderID)

	s.do(t, http.MethodPost, base+"/revoke", api.RevokeRequest{RevokedBy: "admin_seed"}).
		AssertStatus(http.StatusConflict).
		AssertJSONKeyValue("code", api.CodeNotAssigned)

	s.do(t, http.MethodPost, base+"/assign", api.AssignRequest{ResponderID: "ghost", AssignedBy: "admin_seed"}).
		AssertStatus(http.StatusNotFound)
}

func TestTransition(t *testing.T) {
	s := newServer(t)
	sig := s.insert(t, testhelpers.NewSignalBuilder().WithStatus(database.SignalStatusAcknowledged).AssignedTo("responder001"))
	base := "/api/signals/" + sig.ID + "/transition"

	var out api.SignalDetail
	s.do(t, http.MethodPost, base, api.TransitionRequest{Status: "responding", ActorID: "responder001", Notes: "on my way"}).
		AssertStatus(http.StatusOK).
		DecodeJSON(&out)
	assert.Equal(t, database.SignalStatusResponding, out.Status)

	s.do(t, http.MethodPost, base, api.TransitionRequest{Status: "pending", ActorID: "responder001"}).
		AssertStatus(http.StatusConflict).
		AssertJSONKeyValue("code", api.CodeInvalidTransition)

	s.do(t, http.MethodPost, base, api.TransitionRequest{Status: "closed", ActorID: "responder001"}).
		AssertStatus(http.StatusUnprocessableEntity)
	s.do(t, http.MethodPost, "/api/signals/missing/transition", api.TransitionRequest{Status: "resolved", ActorID: "x"}).
		AssertStatus(http.StatusNotFound)
}

func TestNotificationEndpoints(t *testing.T) {
	s := newServer(t)
	sig := s.insert(t, testhelpers.NewSignalBuilder())

	s.do(t, http.MethodPost, "/api/signals/"+sig.ID+"/assign", api.AssignRequest{ResponderID: "responder001", AssignedBy: "admin_seed"}).
		AssertStatus(http.StatusCreated)
	s.dispatcher.Wait()

	var statuses []api.DeliveryStatus
	s.do(t, http.MethodGet, "/api/signals/"+sig.ID+"/notifications", nil).
		AssertStatus(http.StatusOK).
		DecodeJSON(&statuses)
	require.Len(t, statuses, 1)
	assert.Equal(t, database.DeliveryDelivered, statuses[0].Channels[database.ChannelInApp])
	assert.Equal(t, database.DeliveryDelivered, statuses[0].Channels[database.ChannelSMS])

	var inbox struct {
		Data       []database.Notification `json:"data"`
		Pagination api.PaginationMeta      `json:"pagination"`
	}
	s.do(t, http.MethodGet, "/api/responders/responder001/notifications?unread=true", nil).
		AssertStatus(http.StatusOK).
		DecodeJSON(&inbox)
	require.Len(t, inbox.Data, 1)
	id := inbox.Data[0].ID

	s.do(t, http.MethodPost, "/api/notifications/"+id+"/read", api.MarkReadRequest{RecipientID: "responder002"}).
		AssertStatus(http.StatusNotFound)
	s.do(t, http.MethodPost, "/api/notifications/"+id+"/read", api.MarkReadRequest{RecipientID: "responder001"}).
		AssertStatus(http.StatusOK).
		AssertJSONKeyValue("read", true)

	s.do(t, http.MethodGet, "/api/responders/responder001/notifications?unread=true", nil).
		AssertJSONArrayLength("data", 0).
		AssertJSONKeyValue("pagination.total", 0)

	s.do(t, http.MethodGet, "/api/signals/missing/notifications", nil).AssertStatus(http.StatusNotFound)
}

func TestClusters(t *testing.T) {
	s := newServer(t)
	s.insert(t, testhelpers.NewSignalBuilder().At(6.90, 79.86))
	s.insert(t, testhelpers.NewSignalBuilder().At(6.91, 79.87))
	s.insert(t, testhelpers.NewSignalBuilder().At(6.95, 79.90))

	var resp api.ClustersResponse
	s.do(t, http.MethodGet, "/api/clusters?radius_km=5", nil).
		AssertStatus(http.StatusOK).
		DecodeJSON(&resp)
	assert.Equal(t, 2, resp.Count)
	assert.Nil(t, resp.ComputedAt)

	s.do(t, http.MethodGet, "/api/clusters?radius_km=-1", nil).AssertStatus(http.StatusUnprocessableEntity)
	s.do(t, http.MethodGet, "/api/clusters?radius_km=abc", nil).AssertStatus(http.StatusUnprocessableEntity)

	_, err := s.clusters.Refresh(t.Context())
	require.NoError(t, err)
	s.do(t, http.MethodGet, "/api/clusters", nil).
		AssertStatus(http.StatusOK).
		AssertJSONContainsKey("computed_at").
		AssertJSONKeyValue("radius_km", 5).
		AssertJSONArrayLength("clusters", 2)
}

func TestEscalationSettings(t *testing.T) {
	s := newServer(t)

	var settings database.EscalationSettings
	s.do(t, http.MethodGet, "/api/settings/escalation", nil).
		AssertStatus(http.StatusOK).
		DecodeJSON(&settings)
	assert.Equal(t, 5, settings.CriticalMinutes)
	assert.True(t, settings.Enabled)

	off := false
	s.do(t, http.MethodPut, "/api/settings/escalation", api.UpdateEscalationSettingsRequest{
		Enabled: &off, CriticalMinutes: 2, HighMinutes: 10, MediumMinutes: 20, LowMinutes: 40,
	}).AssertStatus(http.StatusOK).DecodeJSON(&settings)
	assert.False(t, settings.Enabled)
	assert.Equal(t, 2, settings.CriticalMinutes)

	s.do(t, http.MethodPut, "/api/settings/escalation", map[string]int{"critical_minutes": 0}).
		AssertStatus(http.StatusUnprocessableEntity)
}

func TestMethodNotAllowed(t *testing.T) {
	s := newServer(t)
	s.do(t, http.MethodDelete, "/api/signals", nil).AssertStatus(http.StatusMethodNotAllowed)
}
