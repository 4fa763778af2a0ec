// Package services implements the resolution engine's application services:
// the canonical resolver, identifier index, candidate generator, review
// queue, merge executor, and cluster reconciler.
package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/felineworks/resolve-engine/pkg/apperrors"
	"github.com/felineworks/resolve-engine/pkg/repositories"
)

// maxChainDepth bounds the merged_into walk. Real chains stay short because
// finalize always points at a currently-canonical entity; anything deeper
// means the pointers are corrupted.
const maxChainDepth = 16

// CanonicalResolver follows merge pointers to the live record for any
// entity id. Every subsystem holding an entity reference resolves through
// it; that is what keeps "the record moved" transparent.
type CanonicalResolver interface {
	// Resolve walks merged_into_entity_id until it reaches a canonical
	// entity. Returns apperrors.ErrNotFound for unknown ids and an
	// IntegrityError if the chain exceeds its depth bound or revisits an id.
	Resolve(ctx context.Context, entityID uuid.UUID) (uuid.UUID, error)
}

type canonicalResolver struct {
	entityRepo repositories.EntityRepository
}

// NewCanonicalResolver creates a new CanonicalResolver.
func NewCanonicalResolver(entityRepo repositories.EntityRepository) CanonicalResolver {
	return &canonicalResolver{entityRepo: entityRepo}
}

var _ CanonicalResolver = (*canonicalResolver)(nil)

func (r *canonicalResolver) Resolve(ctx context.Context, entityID uuid.UUID) (uuid.UUID, error) {
	current := entityID
	seen := map[uuid.UUID]struct{}{current: {}}

	for depth := 0; depth < maxChainDepth; depth++ {
		mergedInto, err := r.entityRepo.GetMergedInto(ctx, current)
		if err != nil {
			return uuid.Nil, err
		}
		if mergedInto == nil {
			return current, nil
		}

		current = *mergedInto
		if _, ok := seen[current]; ok {
			// A cycle is always a data bug, never intended.
			return uuid.Nil, &apperrors.IntegrityError{EntityID: entityID, Depth: depth + 1}
		}
		seen[current] = struct{}{}
	}

	return uuid.Nil, &apperrors.IntegrityError{EntityID: entityID, Depth: maxChainDepth}
}
