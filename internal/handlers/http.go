package handlers

import (
	"context"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/resqnet/resqnet/internal/api"
	"github.com/resqnet/resqnet/internal/metrics"
)

// HTTPHandler serves the operational endpoints
type HTTPHandler struct {
	db      *gorm.DB
	metrics *metrics.Metrics
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(db *gorm.DB, m *metrics.Metrics) *HTTPHandler {
	return &HTTPHandler{db: db, metrics: m}
}

// SetupRoutes configures the health and metrics routes
func (h *HTTPHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.Handle("GET /metrics", h.metrics.Handler())
}

// handleHealth reports ok when the database answers a ping
func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok", "database": "ok"}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		sqlDB, err := h.db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			status["status"] = "degraded"
			status["database"] = err.Error()
			api.RespondJSON(w, http.StatusServiceUnavailable, status)
			return
		}
	}

	api.RespondJSON(w, http.StatusOK, status)
}
