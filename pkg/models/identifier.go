package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Identifier Type
// ============================================================================

// IdentifierType describes the kind of external identifier attached to an
// entity. Normalization rules vary by type (see pkg/matching).
type IdentifierType string

const (
	IdentifierTypeEmail     IdentifierType = "email"
	IdentifierTypePhone     IdentifierType = "phone"
	IdentifierTypeAddress   IdentifierType = "address"
	IdentifierTypeMicrochip IdentifierType = "microchip"
	IdentifierTypeSourceRef IdentifierType = "source_ref"
)

// ValidIdentifierTypes contains all valid identifier type values.
var ValidIdentifierTypes = []IdentifierType{
	IdentifierTypeEmail,
	IdentifierTypePhone,
	IdentifierTypeAddress,
	IdentifierTypeMicrochip,
	IdentifierTypeSourceRef,
}

// IsValidIdentifierType checks if the given type is valid.
func IsValidIdentifierType(t IdentifierType) bool {
	for _, v := range ValidIdentifierTypes {
		if v == t {
			return true
		}
	}
	return false
}

// ============================================================================
// Identifier
// ============================================================================

// Identifier is a normalized external identifier for an entity. Identifiers
// are written by the ingestion collaborators; the engine only reads them.
// A normalized-value collision between two canonical entities is never
// silently allowed; the candidate generator must surface it.
type Identifier struct {
	ID              uuid.UUID      `json:"id"`
	EntityID        uuid.UUID      `json:"entity_id"`
	IDType          IdentifierType `json:"id_type"`
	RawValue        string         `json:"raw_value"`
	NormalizedValue string         `json:"normalized_value"`
	Confidence      float64        `json:"confidence"`
	SourceSystem    string         `json:"source_system"`
	CreatedAt       time.Time      `json:"created_at"`
}
