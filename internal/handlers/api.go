package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/resqnet/resqnet/internal/notify"
	"github.com/resqnet/resqnet/internal/services"
)

// APIHandler exposes the signal lifecycle over JSON
type APIHandler struct {
	store     *services.SignalStore
	machine   *services.StateMachine
	assigner  *services.AssignmentManager
	escalator *services.Escalator
	clusters  *services.ClusterService
	inbox     *notify.Inbox
	logger    *zap.Logger
	now       func() time.Time
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(store *services.SignalStore, machine *services.StateMachine, assigner *services.AssignmentManager, escalator *services.Escalator, clusters *services.ClusterService, inbox *notify.Inbox, logger *zap.Logger) *APIHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandler{
		store:     store,
		machine:   machine,
		assigner:  assigner,
		escalator: escalator,
		clusters:  clusters,
		inbox:     inbox,
		logger:    logger,
		now:       time.Now,
	}
}

// SetupRoutes sets up all API routes
func (h *APIHandler) SetupRoutes(mux *http.ServeMux) {
	// Signals
	mux.HandleFunc("POST /api/signals", h.handleCreateSignal)
	mux.HandleFunc("GET /api/signals", h.handleListSignals)
	mux.HandleFunc("GET /api/signals/stats", h.handleSignalStats)
	mux.HandleFunc("GET /api/signals/{id}", h.handleGetSignal)

	// Lifecycle
	mux.HandleFunc("POST /api/signals/{id}/transition", h.handleTransition)
	mux.HandleFunc("POST /api/signals/{id}/assign", h.handleAssign)
	mux.HandleFunc("POST /api/signals/{id}/reassign", h.handleReassign)
	mux.HandleFunc("POST /api/signals/{id}/revoke", h.handleRevoke)
	mux.HandleFunc("GET /api/signals/{id}/assignments", h.handleAssignmentHistory)
	mux.HandleFunc("GET /api/signals/{id}/notifications", h.handleSignalNotifications)

	// Clusters
	mux.HandleFunc("GET /api/clusters", h.handleClusters)

	// Notifications
	mux.HandleFunc("GET /api/responders/{id}/notifications", h.handleResponderInbox)
	mux.HandleFunc("POST /api/notifications/{id}/read", h.handleMarkRead)

	// Escalation settings
	mux.HandleFunc("GET /api/settings/escalation", h.handleGetEscalationSettings)
	mux.HandleFunc("PUT /api/settings/escalation", h.handleUpdateEscalationSettings)
}
