package handlers

import (
	"net/http"
	"strings"

	"github.com/resqnet/resqnet/internal/api"
	"github.com/resqnet/resqnet/internal/database"
	"github.com/resqnet/resqnet/internal/services"
)

// handleCreateSignal handles POST /api/signals
func (h *APIHandler) handleCreateSignal(w http.ResponseWriter, r *http.Request) {
	var req api.CreateSignalRequest
	if !api.Bind(w, r, &req) {
		return
	}

	signal, err := h.store.Create(r.Context(), req.ToCreateSignal())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusCreated, api.SignalToDetail(signal))
}

// handleListSignals handles GET /api/signals
// Query: status (comma separated), priority, emergency_type, page, per_page
func (h *APIHandler) handleListSignals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := services.SignalFilter{EmergencyType: q.Get("emergency_type")}

	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status := database.SignalStatus(strings.TrimSpace(part))
			if !status.IsValid() {
				api.RespondValidationError(w, map[string]string{"status": "unknown status " + string(status)})
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	if raw := q.Get("priority"); raw != "" {
		filter.Priority = database.Priority(raw)
		if !filter.Priority.IsValid() {
			api.RespondValidationError(w, map[string]string{"priority": "must be one of: low medium high critical"})
			return
		}
	}

	params := api.ParsePagination(r)
	signals, total, err := h.store.List(r.Context(), filter, params.Offset(), params.PerPage)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, params.Paginate(api.SignalsToListItems(signals, h.now()), total))
}

// handleSignalStats handles GET /api/signals/stats
func (h *APIHandler) handleSignalStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, stats)
}

// handleGetSignal handles GET /api/signals/{id}
func (h *APIHandler) handleGetSignal(w http.ResponseWriter, r *http.Request) {
	signal, err := h.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.SignalToDetail(signal))
}

// handleTransition handles POST /api/signals/{id}/transition
func (h *APIHandler) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req api.TransitionRequest
	if !api.Bind(w, r, &req) {
		return
	}

	signal, err := h.machine.Transition(r.Context(), services.TransitionRequest{
		SignalID: r.PathValue("id"),
		Status:   database.SignalStatus(req.Status),
		ActorID:  req.ActorID,
		Notes:    req.Notes,
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.SignalToDetail(signal))
}

// handleAssign handles POST /api/signals/{id}/assign
func (h *APIHandler) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req api.AssignRequest
	if !api.Bind(w, r, &req) {
		return
	}

	assignment, err := h.assigner.Assign(r.Context(), services.AssignRequest{
		SignalID:    r.PathValue("id"),
		ResponderID: req.ResponderID,
		AssignedBy:  req.AssignedBy,
		Notes:       req.Notes,
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusCreated, assignment)
}

// handleReassign handles POST /api/signals/{id}/reassign
func (h *APIHandler) handleReassign(w http.ResponseWriter, r *http.Request) {
	var req api.AssignRequest
	if !api.Bind(w, r, &req) {
		return
	}

	assignment, err := h.assigner.Reassign(r.Context(), services.AssignRequest{
		SignalID:    r.PathValue("id"),
		ResponderID: req.ResponderID,
		AssignedBy:  req.AssignedBy,
		Notes:       req.Notes,
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusCreated, assignment)
}

// handleRevoke handles POST /api/signals/{id}/revoke
func (h *APIHandler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req api.RevokeRequest
	if !api.Bind(w, r, &req) {
		return
	}

	signal, err := h.assigner.Revoke(r.Context(), services.RevokeRequest{
		SignalID:  r.PathValue("id"),
		RevokedBy: req.RevokedBy,
		Notes:     req.Notes,
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.SignalToDetail(signal))
}

// handleAssignmentHistory handles GET /api/signals/{id}/assignments
func (h *APIHandler) handleAssignmentHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.assigner.History(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if history == nil {
		history = []database.Assignment{}
	}
	api.RespondJSON(w, http.StatusOK, history)
}

// handleSignalNotifications handles GET /api/signals/{id}/notifications
func (h *APIHandler) handleSignalNotifications(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.store.Get(r.Context(), id); err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	ns, err := h.inbox.ListForSignal(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.NotificationsToDeliveryStatus(ns))
}
