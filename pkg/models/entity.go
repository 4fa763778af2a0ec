package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Entity Kind
// ============================================================================

// EntityKind classifies the real-world subject an entity record describes.
type EntityKind string

const (
	EntityKindPerson       EntityKind = "person"
	EntityKindPlace        EntityKind = "place"
	EntityKindOrganization EntityKind = "organization"
)

// ValidEntityKinds contains all valid entity kind values.
var ValidEntityKinds = []EntityKind{
	EntityKindPerson,
	EntityKindPlace,
	EntityKindOrganization,
}

// IsValidEntityKind checks if the given kind is valid.
func IsValidEntityKind(k EntityKind) bool {
	for _, v := range ValidEntityKinds {
		if v == k {
			return true
		}
	}
	return false
}

// ============================================================================
// Entity
// ============================================================================

// Entity is a person, place, or organization record produced by the intake
// pipelines. Ingestion creates entities; this engine never does. Once an
// entity loses a merge, MergedIntoEntityID is set exactly once and never
// cleared, and every reader is expected to follow the chain through the
// canonical resolver.
type Entity struct {
	ID                 uuid.UUID      `json:"id"`
	Kind               EntityKind     `json:"kind"`
	DisplayName        string         `json:"display_name"`
	Attributes         map[string]any `json:"attributes,omitempty"`
	MergedIntoEntityID *uuid.UUID     `json:"merged_into_entity_id,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// IsCanonical reports whether this entity is the live record for its subject.
func (e *Entity) IsCanonical() bool {
	return e.MergedIntoEntityID == nil
}

// PopulatedAttributeCount counts non-empty attribute values, used by the
// merge executor's data-completeness winner rule.
func (e *Entity) PopulatedAttributeCount() int {
	count := 0
	if e.DisplayName != "" {
		count++
	}
	for _, v := range e.Attributes {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			if val != "" {
				count++
			}
		default:
			count++
		}
	}
	return count
}
