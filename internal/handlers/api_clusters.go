package handlers

import (
	"net/http"
	"strconv"

	"github.com/resqnet/resqnet/internal/api"
)

// maxClusterRadiusKm bounds ad-hoc clustering requests
const maxClusterRadiusKm = 500

// handleClusters handles GET /api/clusters?radius_km=
// Without radius_km the last periodic snapshot is served when one exists.
func (h *APIHandler) handleClusters(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("radius_km")
	if raw == "" {
		if snap := h.clusters.Snapshot(); snap != nil {
			resp := api.ClustersToResponse(snap.RadiusKm, snap.Clusters)
			computed := snap.ComputedAt
			resp.ComputedAt = &computed
			api.RespondJSON(w, http.StatusOK, resp)
			return
		}
	}

	radius := h.clusters.DefaultRadius()
	if raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 || v > maxClusterRadiusKm {
			api.RespondValidationError(w, map[string]string{
				"radius_km": "must be a number greater than 0 and at most " + strconv.Itoa(maxClusterRadiusKm),
			})
			return
		}
		radius = v
	}

	clusters, err := h.clusters.GetClusters(r.Context(), radius)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.ClustersToResponse(radius, clusters))
}
