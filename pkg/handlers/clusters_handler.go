package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/felineworks/resolve-engine/pkg/models"
	"github.com/felineworks/resolve-engine/pkg/services"
)

// ============================================================================
// Request/Response Types
// ============================================================================

// ClusterListResponse for GET /api/clusters
type ClusterListResponse struct {
	Clusters []*models.Cluster `json:"clusters"`
	Total    int               `json:"total"`
}

// ClusterActionRequest for POST /api/clusters/{clid}/action
type ClusterActionRequest struct {
	Action         models.ClusterAction `json:"action"`
	Classification *string              `json:"classification,omitempty"`
	ColonyID       *uuid.UUID           `json:"colony_id,omitempty"`
	ReviewedBy     string               `json:"reviewed_by"`
}

// ============================================================================
// Handler
// ============================================================================

// ClusterHandler handles place cluster review HTTP requests.
type ClusterHandler struct {
	clusterService services.ClusterService
	logger         *zap.Logger
}

// NewClusterHandler creates a new cluster handler.
func NewClusterHandler(clusterService services.ClusterService, logger *zap.Logger) *ClusterHandler {
	return &ClusterHandler{clusterService: clusterService, logger: logger}
}

// RegisterRoutes registers the cluster handler's routes on the given mux.
func (h *ClusterHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/clusters", h.List)
	mux.HandleFunc("GET /api/clusters/{clid}", h.Get)
	mux.HandleFunc("POST /api/clusters/{clid}/action", h.Apply)
}

// List handles GET /api/clusters?status
func (h *ClusterHandler) List(w http.ResponseWriter, r *http.Request) {
	var status *models.ClusterStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := models.ClusterStatus(raw)
		if !models.IsValidClusterStatus(s) {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_status", "Invalid cluster status"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		status = &s
	}

	clusters, err := h.clusterService.List(r.Context(), status)
	if err != nil {
		h.logger.Error("Failed to list clusters", zap.Error(err))
		h.writeServiceError(w, err)
		return
	}

	response := ClusterListResponse{Clusters: clusters, Total: len(clusters)}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode cluster list", zap.Error(err))
	}
}

// Get handles GET /api/clusters/{clid}
func (h *ClusterHandler) Get(w http.ResponseWriter, r *http.Request) {
	clusterID, ok := ParseClusterID(w, r, h.logger)
	if !ok {
		return
	}

	cluster, err := h.clusterService.Get(r.Context(), clusterID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, cluster); err != nil {
		h.logger.Error("Failed to encode cluster", zap.Error(err))
	}
}

// Apply handles POST /api/clusters/{clid}/action
func (h *ClusterHandler) Apply(w http.ResponseWriter, r *http.Request) {
	clusterID, ok := ParseClusterID(w, r, h.logger)
	if !ok {
		return
	}

	var req ClusterActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	result, err := h.clusterService.Apply(r.Context(), clusterID, &services.ClusterActionRequest{
		Action:         req.Action,
		Classification: req.Classification,
		ColonyID:       req.ColonyID,
		ReviewedBy:     req.ReviewedBy,
	})
	if err != nil {
		h.logger.Warn("Cluster action failed",
			zap.String("cluster_id", clusterID.String()),
			zap.String("action", string(req.Action)),
			zap.Error(err))
		h.writeServiceError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to encode cluster action response", zap.Error(err))
	}
}

func (h *ClusterHandler) writeServiceError(w http.ResponseWriter, err error) {
	if werr := ServiceErrorResponse(w, err); werr != nil {
		h.logger.Error("Failed to write error response", zap.Error(werr))
	}
}
