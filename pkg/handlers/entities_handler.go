package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/felineworks/resolve-engine/pkg/models"
	"github.com/felineworks/resolve-engine/pkg/repositories"
	"github.com/felineworks/resolve-engine/pkg/services"
)

// defaultAuditLimit caps how much history one request returns.
const defaultAuditLimit = 100

// CanonicalResponse for GET /api/entities/{eid}/canonical
type CanonicalResponse struct {
	EntityID    string `json:"entity_id"`
	CanonicalID string `json:"canonical_id"`
	// Merged is true when the requested id is no longer the live record.
	Merged bool `json:"merged"`
}

// AuditHistoryResponse for GET /api/entities/{eid}/audit
type AuditHistoryResponse struct {
	Entries []*models.MergeAuditEntry `json:"entries"`
	Total   int                       `json:"total"`
}

// IdentifierLookupResponse for GET /api/identifiers/lookup
type IdentifierLookupResponse struct {
	EntityIDs []uuid.UUID `json:"entity_ids"`
}

// EntityHandler exposes canonical resolution, identifier lookup, and audit
// history to the other subsystems of the platform.
type EntityHandler struct {
	resolver        services.CanonicalResolver
	identifierIndex services.IdentifierIndex
	auditRepo       repositories.AuditRepository
	logger          *zap.Logger
}

// NewEntityHandler creates a new entity handler.
func NewEntityHandler(resolver services.CanonicalResolver, identifierIndex services.IdentifierIndex, auditRepo repositories.AuditRepository, logger *zap.Logger) *EntityHandler {
	return &EntityHandler{resolver: resolver, identifierIndex: identifierIndex, auditRepo: auditRepo, logger: logger}
}

// RegisterRoutes registers the entity handler's routes on the given mux.
func (h *EntityHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/entities/{eid}/canonical", h.Canonical)
	mux.HandleFunc("GET /api/entities/{eid}/audit", h.AuditHistory)
	mux.HandleFunc("GET /api/identifiers/lookup", h.LookupIdentifier)
}

// Canonical handles GET /api/entities/{eid}/canonical
func (h *EntityHandler) Canonical(w http.ResponseWriter, r *http.Request) {
	entityID, ok := ParseEntityID(w, r, h.logger)
	if !ok {
		return
	}

	canonicalID, err := h.resolver.Resolve(r.Context(), entityID)
	if err != nil {
		h.logger.Warn("Canonical resolution failed",
			zap.String("entity_id", entityID.String()),
			zap.Error(err))
		h.writeServiceError(w, err)
		return
	}

	response := CanonicalResponse{
		EntityID:    entityID.String(),
		CanonicalID: canonicalID.String(),
		Merged:      canonicalID != entityID,
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode canonical response", zap.Error(err))
	}
}

// AuditHistory handles GET /api/entities/{eid}/audit
func (h *EntityHandler) AuditHistory(w http.ResponseWriter, r *http.Request) {
	entityID, ok := ParseEntityID(w, r, h.logger)
	if !ok {
		return
	}

	entries, err := h.auditRepo.GetByEntity(r.Context(), entityID, defaultAuditLimit)
	if err != nil {
		h.logger.Error("Failed to load audit history",
			zap.String("entity_id", entityID.String()),
			zap.Error(err))
		h.writeServiceError(w, err)
		return
	}

	response := AuditHistoryResponse{Entries: entries, Total: len(entries)}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode audit history", zap.Error(err))
	}
}

// LookupIdentifier handles GET /api/identifiers/lookup?type&value
func (h *EntityHandler) LookupIdentifier(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	idType := models.IdentifierType(query.Get("type"))
	if !models.IsValidIdentifierType(idType) {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_type", "Invalid identifier type"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	value := query.Get("value")
	if value == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_value", "value is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	entityIDs, err := h.identifierIndex.Lookup(r.Context(), idType, value)
	if err != nil {
		h.logger.Error("Identifier lookup failed",
			zap.String("id_type", string(idType)),
			zap.Error(err))
		h.writeServiceError(w, err)
		return
	}
	if entityIDs == nil {
		entityIDs = []uuid.UUID{}
	}

	if err := WriteJSON(w, http.StatusOK, IdentifierLookupResponse{EntityIDs: entityIDs}); err != nil {
		h.logger.Error("Failed to encode identifier lookup response", zap.Error(err))
	}
}

func (h *EntityHandler) writeServiceError(w http.ResponseWriter, err error) {
	if werr := ServiceErrorResponse(w, err); werr != nil {
		h.logger.Error("Failed to write error response", zap.Error(werr))
	}
}
