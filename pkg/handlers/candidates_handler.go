package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/felineworks/resolve-engine/pkg/models"
	"github.com/felineworks/resolve-engine/pkg/repositories"
	"github.com/felineworks/resolve-engine/pkg/services"
)

// ============================================================================
// Request/Response Types
// ============================================================================

// CandidateListResponse for GET /api/candidates
type CandidateListResponse struct {
	Candidates []*models.CandidateContext     `json:"candidates"`
	Counts     map[models.CandidateStatus]int `json:"counts"`
}

// ResolveCandidateRequest for POST /api/candidates/{cid}/resolve
type ResolveCandidateRequest struct {
	Action     models.ResolutionAction `json:"action"`
	Notes      *string                 `json:"notes,omitempty"`
	ResolvedBy string                  `json:"resolved_by"`
}

// ResolveCandidateResponse reports one applied resolution.
type ResolveCandidateResponse struct {
	Success bool                   `json:"success"`
	Status  models.CandidateStatus `json:"status"`
	Merge   *services.MergeResult  `json:"merge,omitempty"`
}

// ============================================================================
// Handler
// ============================================================================

// CandidateHandler handles review queue HTTP requests.
type CandidateHandler struct {
	reviewService services.ReviewService
	logger        *zap.Logger
}

// NewCandidateHandler creates a new candidate handler.
func NewCandidateHandler(reviewService services.ReviewService, logger *zap.Logger) *CandidateHandler {
	return &CandidateHandler{reviewService: reviewService, logger: logger}
}

// RegisterRoutes registers the candidate handler's routes on the given mux.
func (h *CandidateHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/candidates", h.List)
	mux.HandleFunc("POST /api/candidates/{cid}/resolve", h.Resolve)
}

// List handles GET /api/candidates?status&kind&limit&offset
func (h *CandidateHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.parseListFilter(w, r)
	if !ok {
		return
	}

	candidates, err := h.reviewService.ListQueue(r.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list candidates", zap.Error(err))
		h.writeServiceError(w, err)
		return
	}

	counts, err := h.reviewService.QueueCounts(r.Context(), filter.Kind)
	if err != nil {
		h.logger.Error("Failed to count candidates", zap.Error(err))
		h.writeServiceError(w, err)
		return
	}

	response := CandidateListResponse{Candidates: candidates, Counts: counts}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode candidate list", zap.Error(err))
	}
}

// Resolve handles POST /api/candidates/{cid}/resolve
func (h *CandidateHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	candidateID, ok := ParseCandidateID(w, r, h.logger)
	if !ok {
		return
	}

	var req ResolveCandidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	result, err := h.reviewService.Resolve(r.Context(), candidateID, req.Action, req.ResolvedBy, req.Notes)
	if err != nil {
		h.logger.Warn("Candidate resolution failed",
			zap.String("candidate_id", candidateID.String()),
			zap.String("action", string(req.Action)),
			zap.Error(err))
		h.writeServiceError(w, err)
		return
	}

	response := ResolveCandidateResponse{
		Success: true,
		Status:  result.Candidate.Status,
		Merge:   result.Merge,
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode resolution response", zap.Error(err))
	}
}

func (h *CandidateHandler) parseListFilter(w http.ResponseWriter, r *http.Request) (repositories.CandidateListFilter, bool) {
	filter := repositories.CandidateListFilter{}
	query := r.URL.Query()

	if raw := query.Get("status"); raw != "" {
		status := models.CandidateStatus(raw)
		if !models.IsValidCandidateStatus(status) {
			h.writeBadParam(w, "invalid_status", "Invalid candidate status")
			return filter, false
		}
		filter.Status = &status
	}
	if raw := query.Get("kind"); raw != "" {
		kind := models.EntityKind(raw)
		if !models.IsValidEntityKind(kind) {
			h.writeBadParam(w, "invalid_kind", "Invalid entity kind")
			return filter, false
		}
		filter.Kind = &kind
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.writeBadParam(w, "invalid_limit", "Invalid limit")
			return filter, false
		}
		filter.Limit = limit
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			h.writeBadParam(w, "invalid_offset", "Invalid offset")
			return filter, false
		}
		filter.Offset = offset
	}
	return filter, true
}

func (h *CandidateHandler) writeBadParam(w http.ResponseWriter, code, message string) {
	if err := ErrorResponse(w, http.StatusBadRequest, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *CandidateHandler) writeServiceError(w http.ResponseWriter, err error) {
	if werr := ServiceErrorResponse(w, err); werr != nil {
		h.logger.Error("Failed to write error response", zap.Error(werr))
	}
}
