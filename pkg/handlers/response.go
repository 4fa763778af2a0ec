// Package handlers implements the engine's HTTP surface: the review queue,
// cluster review, canonical resolution, and health endpoints.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/felineworks/resolve-engine/pkg/apperrors"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// ServiceErrorResponse maps a service error onto its HTTP status and writes
// it. Validation problems are 400, unknown ids 404, lost races and merge
// conflicts 409, everything else (including chain integrity failures) 500.
func ServiceErrorResponse(w http.ResponseWriter, err error) error {
	switch {
	case apperrors.IsValidation(err):
		return ErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, apperrors.ErrNotFound):
		return ErrorResponse(w, http.StatusNotFound, "not_found", err.Error())
	case apperrors.IsAlreadyResolved(err):
		return ErrorResponse(w, http.StatusConflict, "already_resolved", err.Error())
	case apperrors.IsMergeConflict(err):
		return ErrorResponse(w, http.StatusConflict, "merge_conflict", err.Error())
	default:
		return ErrorResponse(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
