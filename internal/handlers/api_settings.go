package handlers

import (
	"net/http"

	"github.com/resqnet/resqnet/internal/api"
)

// handleGetEscalationSettings handles GET /api/settings/escalation
func (h *APIHandler) handleGetEscalationSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.escalator.GetSettings(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, settings)
}

// handleUpdateEscalationSettings handles PUT /api/settings/escalation
func (h *APIHandler) handleUpdateEscalationSettings(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateEscalationSettingsRequest
	if !api.Bind(w, r, &req) {
		return
	}

	settings, err := h.escalator.GetSettings(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	req.ApplyTo(settings)

	updated, err := h.escalator.UpdateSettings(r.Context(), settings)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, updated)
}
