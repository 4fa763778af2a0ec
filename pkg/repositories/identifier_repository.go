package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/felineworks/resolve-engine/pkg/database"
	"github.com/felineworks/resolve-engine/pkg/models"
)

// IdentifierRepository provides read access to normalized identifiers.
// Identifiers are written by the ingestion collaborators, never here; the
// one exception is repointing during a merge, which the relationship
// repository owns.
type IdentifierRepository interface {
	GetByEntity(ctx context.Context, entityID uuid.UUID) ([]*models.Identifier, error)
	// GetByEntities loads identifiers for many entities in one round trip.
	GetByEntities(ctx context.Context, entityIDs []uuid.UUID) (map[uuid.UUID][]*models.Identifier, error)
	// LookupCanonical returns the canonical entity ids holding an identifier
	// with the given type and normalized value.
	LookupCanonical(ctx context.Context, idType models.IdentifierType, normalizedValue string) ([]uuid.UUID, error)
}

type identifierRepository struct{}

// NewIdentifierRepository creates a new IdentifierRepository.
func NewIdentifierRepository() IdentifierRepository {
	return &identifierRepository{}
}

var _ IdentifierRepository = (*identifierRepository)(nil)

const identifierColumns = `id, entity_id, id_type, raw_value, normalized_value, confidence, source_system, created_at`

func (r *identifierRepository) GetByEntity(ctx context.Context, entityID uuid.UUID) ([]*models.Identifier, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `
		SELECT ` + identifierColumns + `
		FROM resolve_identifiers
		WHERE entity_id = $1
		ORDER BY id_type, normalized_value`

	rows, err := scope.Conn.Query(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query identifiers: %w", err)
	}
	defer rows.Close()

	return scanIdentifierRows(rows)
}

func (r *identifierRepository) GetByEntities(ctx context.Context, entityIDs []uuid.UUID) (map[uuid.UUID][]*models.Identifier, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `
		SELECT ` + identifierColumns + `
		FROM resolve_identifiers
		WHERE entity_id = ANY($1)
		ORDER BY entity_id, id_type, normalized_value`

	rows, err := scope.Conn.Query(ctx, query, entityIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query identifiers: %w", err)
	}
	defer rows.Close()

	identifiers, err := scanIdentifierRows(rows)
	if err != nil {
		return nil, err
	}

	byEntity := make(map[uuid.UUID][]*models.Identifier, len(entityIDs))
	for _, id := range identifiers {
		byEntity[id.EntityID] = append(byEntity[id.EntityID], id)
	}
	return byEntity, nil
}

func (r *identifierRepository) LookupCanonical(ctx context.Context, idType models.IdentifierType, normalizedValue string) ([]uuid.UUID, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `
		SELECT DISTINCT i.entity_id
		FROM resolve_identifiers i
		JOIN resolve_entities e ON e.id = i.entity_id
		WHERE i.id_type = $1
		  AND i.normalized_value = $2
		  AND e.merged_into_entity_id IS NULL
		ORDER BY i.entity_id`

	rows, err := scope.Conn.Query(ctx, query, idType, normalizedValue)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup identifier: %w", err)
	}
	defer rows.Close()

	var entityIDs []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan entity id: %w", err)
		}
		entityIDs = append(entityIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating identifier rows: %w", err)
	}
	return entityIDs, nil
}

// ============================================================================
// Helper Functions - Scan
// ============================================================================

func scanIdentifierRows(rows pgx.Rows) ([]*models.Identifier, error) {
	var identifiers []*models.Identifier

	for rows.Next() {
		var i models.Identifier
		err := rows.Scan(
			&i.ID, &i.EntityID, &i.IDType, &i.RawValue, &i.NormalizedValue,
			&i.Confidence, &i.SourceSystem, &i.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan identifier row: %w", err)
		}
		identifiers = append(identifiers, &i)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating identifier rows: %w", err)
	}
	return identifiers, nil
}
