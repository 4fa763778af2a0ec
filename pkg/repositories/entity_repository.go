// Package repositories provides pgx data access for the resolution engine.
// Every repository reads the pinned connection scope from context, so calls
// made while a transaction is open on that connection run inside it.
package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/felineworks/resolve-engine/pkg/apperrors"
	"github.com/felineworks/resolve-engine/pkg/database"
	"github.com/felineworks/resolve-engine/pkg/models"
)

// EntityRepository provides data access for entities. Entities are created
// by ingestion; this engine only reads them and finalizes merges.
type EntityRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Entity, error)
	// GetMergedInto returns the merge pointer for an entity without loading
	// the full row. Returns apperrors.ErrNotFound for unknown ids.
	GetMergedInto(ctx context.Context, id uuid.UUID) (*uuid.UUID, error)
	// ListCanonicalByKind returns all canonical entities of one kind.
	ListCanonicalByKind(ctx context.Context, kind models.EntityKind) ([]*models.Entity, error)
	// SetMergedInto finalizes a merge: it points loser at winner if and only
	// if the loser is still canonical. Returns false when the pointer was
	// already set.
	SetMergedInto(ctx context.Context, loserID, winnerID uuid.UUID) (bool, error)
	// UpdateDisplayName backfills the winner's display name during a merge.
	UpdateDisplayName(ctx context.Context, id uuid.UUID, displayName string) error
	// UpdateAttributes replaces the attribute document.
	UpdateAttributes(ctx context.Context, id uuid.UUID, attributes map[string]any) error
	// SetMemberClassification bulk-sets the classification attribute on the
	// given place entities (cluster reconciliation).
	SetMemberClassification(ctx context.Context, placeIDs []uuid.UUID, classification string) (int, error)
	// LockPair takes transaction-scoped exclusive advisory locks on both
	// entity ids, always lower id first, so concurrent overlapping merges
	// cannot deadlock. Must be called inside a transaction.
	LockPair(ctx context.Context, a, b uuid.UUID) error
}

type entityRepository struct{}

// NewEntityRepository creates a new EntityRepository.
func NewEntityRepository() EntityRepository {
	return &entityRepository{}
}

var _ EntityRepository = (*entityRepository)(nil)

const entityColumns = `id, kind, display_name, attributes, merged_into_entity_id, created_at, updated_at`

func (r *entityRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `SELECT ` + entityColumns + ` FROM resolve_entities WHERE id = $1`

	entity, err := scanEntityRow(scope.Conn.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperrors.ErrNotFound
	}
	return entity, err
}

func (r *entityRepository) GetMergedInto(ctx context.Context, id uuid.UUID) (*uuid.UUID, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	var mergedInto *uuid.UUID
	err := scope.Conn.QueryRow(ctx,
		`SELECT merged_into_entity_id FROM resolve_entities WHERE id = $1`, id,
	).Scan(&mergedInto)
	if err == pgx.ErrNoRows {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read merge pointer: %w", err)
	}
	return mergedInto, nil
}

func (r *entityRepository) ListCanonicalByKind(ctx context.Context, kind models.EntityKind) ([]*models.Entity, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `
		SELECT ` + entityColumns + `
		FROM resolve_entities
		WHERE kind = $1 AND merged_into_entity_id IS NULL
		ORDER BY created_at ASC`

	rows, err := scope.Conn.Query(ctx, query, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to query canonical entities: %w", err)
	}
	defer rows.Close()

	return scanEntityRows(rows)
}

func (r *entityRepository) SetMergedInto(ctx context.Context, loserID, winnerID uuid.UUID) (bool, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return false, fmt.Errorf("no database scope in context")
	}

	query := `
		UPDATE resolve_entities
		SET merged_into_entity_id = $2, updated_at = NOW()
		WHERE id = $1 AND merged_into_entity_id IS NULL`

	result, err := scope.Conn.Exec(ctx, query, loserID, winnerID)
	if err != nil {
		return false, fmt.Errorf("failed to set merge pointer: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

func (r *entityRepository) UpdateDisplayName(ctx context.Context, id uuid.UUID, displayName string) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	_, err := scope.Conn.Exec(ctx,
		`UPDATE resolve_entities SET display_name = $2, updated_at = NOW() WHERE id = $1`,
		id, displayName)
	if err != nil {
		return fmt.Errorf("failed to update display name: %w", err)
	}
	return nil
}

func (r *entityRepository) UpdateAttributes(ctx context.Context, id uuid.UUID, attributes map[string]any) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	attrsJSON, err := json.Marshal(attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}

	_, err = scope.Conn.Exec(ctx,
		`UPDATE resolve_entities SET attributes = $2, updated_at = NOW() WHERE id = $1`,
		id, attrsJSON)
	if err != nil {
		return fmt.Errorf("failed to update attributes: %w", err)
	}
	return nil
}

func (r *entityRepository) SetMemberClassification(ctx context.Context, placeIDs []uuid.UUID, classification string) (int, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no database scope in context")
	}

	query := `
		UPDATE resolve_entities
		SET attributes = jsonb_set(COALESCE(attributes, '{}'::jsonb), '{classification}', to_jsonb($2::text)),
		    updated_at = NOW()
		WHERE id = ANY($1) AND kind = 'place'`

	result, err := scope.Conn.Exec(ctx, query, placeIDs, classification)
	if err != nil {
		return 0, fmt.Errorf("failed to set classification: %w", err)
	}
	return int(result.RowsAffected()), nil
}

func (r *entityRepository) LockPair(ctx context.Context, a, b uuid.UUID) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	first, second := models.NormalizePair(a, b)
	for _, id := range []uuid.UUID{first, second} {
		_, err := scope.Conn.Exec(ctx,
			`SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, id)
		if err != nil {
			return fmt.Errorf("failed to lock entity %s: %w", id, err)
		}
	}
	return nil
}

// ============================================================================
// Helper Functions - Scan
// ============================================================================

func scanEntityRow(row pgx.Row) (*models.Entity, error) {
	var e models.Entity
	var attrsJSON []byte
	var createdAt, updatedAt time.Time

	err := row.Scan(&e.ID, &e.Kind, &e.DisplayName, &attrsJSON, &e.MergedIntoEntityID, &createdAt, &updatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}

	if len(attrsJSON) > 0 {
		if err := json.Unmarshal(attrsJSON, &e.Attributes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entity attributes: %w", err)
		}
	}
	e.CreatedAt = createdAt
	e.UpdatedAt = updatedAt
	return &e, nil
}

func scanEntityRows(rows pgx.Rows) ([]*models.Entity, error) {
	var entities []*models.Entity

	for rows.Next() {
		entity, err := scanEntityRow(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entity rows: %w", err)
	}
	return entities, nil
}
