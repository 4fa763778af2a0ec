package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/felineworks/resolve-engine/pkg/matching"
	"github.com/felineworks/resolve-engine/pkg/models"
	"github.com/felineworks/resolve-engine/pkg/repositories"
)

// IdentifierIndex is the normalized-identifier lookup over canonical
// entities. It is a pure read index: identifiers are written by the
// ingestion collaborators, never here.
type IdentifierIndex interface {
	// Lookup normalizes the raw value for its type and returns the canonical
	// entity ids holding a matching identifier. Values that normalize to
	// nothing match nothing.
	Lookup(ctx context.Context, idType models.IdentifierType, raw string) ([]uuid.UUID, error)
}

type identifierIndex struct {
	identifierRepo repositories.IdentifierRepository
}

// NewIdentifierIndex creates a new IdentifierIndex.
func NewIdentifierIndex(identifierRepo repositories.IdentifierRepository) IdentifierIndex {
	return &identifierIndex{identifierRepo: identifierRepo}
}

var _ IdentifierIndex = (*identifierIndex)(nil)

func (idx *identifierIndex) Lookup(ctx context.Context, idType models.IdentifierType, raw string) ([]uuid.UUID, error) {
	normalized := matching.NormalizeIdentifier(raw, idType)
	if normalized == "" {
		return nil, nil
	}
	return idx.identifierRepo.LookupCanonical(ctx, idType, normalized)
}
