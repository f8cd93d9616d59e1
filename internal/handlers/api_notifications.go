package handlers

import (
	"net/http"

	"github.com/resqnet/resqnet/internal/api"
	"github.com/resqnet/resqnet/internal/database"
)

// handleResponderInbox handles GET /api/responders/{id}/notifications
// Query: unread=true, page, per_page
func (h *APIHandler) handleResponderInbox(w http.ResponseWriter, r *http.Request) {
	unread := r.URL.Query().Get("unread") == "true"
	params := api.ParsePagination(r)

	ns, total, err := h.inbox.ListForRecipient(r.Context(), r.PathValue("id"), unread, params.Offset(), params.PerPage)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if ns == nil {
		ns = []database.Notification{}
	}
	api.RespondJSON(w, http.StatusOK, params.Paginate(ns, total))
}

// handleMarkRead handles POST /api/notifications/{id}/read
func (h *APIHandler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var req api.MarkReadRequest
	if !api.Bind(w, r, &req) {
		return
	}

	n, err := h.inbox.MarkRead(r.Context(), r.PathValue("id"), req.RecipientID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, n)
}
