package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/felineworks/resolve-engine/pkg/apperrors"
	"github.com/felineworks/resolve-engine/pkg/database"
	"github.com/felineworks/resolve-engine/pkg/models"
)

// ClusterRepository provides data access for spatially-grouped place
// clusters. Clusters are created by an external grouping job; this engine
// only reviews and terminates them.
type ClusterRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Cluster, error)
	List(ctx context.Context, status *models.ClusterStatus) ([]*models.Cluster, error)
	// UpdateStatusCAS transitions a cluster out of pending with a status
	// compare-and-swap; returns false when it was no longer pending.
	UpdateStatusCAS(ctx context.Context, id uuid.UUID, status models.ClusterStatus, reviewedBy string) (bool, error)
	// UpdateConsistency records a recomputed dominant classification and
	// consistency score.
	UpdateConsistency(ctx context.Context, id uuid.UUID, dominant string, score float64) error
	// MemberClassifications returns each member place's current
	// classification attribute (empty string when unset).
	MemberClassifications(ctx context.Context, id uuid.UUID) (map[uuid.UUID]string, error)
	// LinkMembersToColony associates every member place with the colony
	// aggregate. Existing associations are kept as-is. Returns the number of
	// new links.
	LinkMembersToColony(ctx context.Context, id uuid.UUID, colonyID uuid.UUID) (int, error)
}

type clusterRepository struct{}

// NewClusterRepository creates a new ClusterRepository.
func NewClusterRepository() ClusterRepository {
	return &clusterRepository{}
}

var _ ClusterRepository = (*clusterRepository)(nil)

func (r *clusterRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Cluster, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `
		SELECT c.id, c.dominant_classification, c.consistency_score, c.status,
		       c.created_at, c.reviewed_at, c.reviewed_by,
		       COALESCE(array_agg(m.place_id) FILTER (WHERE m.place_id IS NOT NULL), '{}')
		FROM resolve_clusters c
		LEFT JOIN resolve_cluster_members m ON m.cluster_id = c.id
		WHERE c.id = $1
		GROUP BY c.id`

	cluster, err := scanClusterRow(scope.Conn.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperrors.ErrNotFound
	}
	return cluster, err
}

func (r *clusterRepository) List(ctx context.Context, status *models.ClusterStatus) ([]*models.Cluster, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `
		SELECT c.id, c.dominant_classification, c.consistency_score, c.status,
		       c.created_at, c.reviewed_at, c.reviewed_by,
		       COALESCE(array_agg(m.place_id) FILTER (WHERE m.place_id IS NOT NULL), '{}')
		FROM resolve_clusters c
		LEFT JOIN resolve_cluster_members m ON m.cluster_id = c.id
		WHERE ($1::text IS NULL OR c.status = $1)
		GROUP BY c.id
		ORDER BY c.consistency_score ASC, c.created_at ASC`

	rows, err := scope.Conn.Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query clusters: %w", err)
	}
	defer rows.Close()

	var clusters []*models.Cluster
	for rows.Next() {
		cluster, err := scanClusterRow(rows)
		if err != nil {
			return nil, err
		}
		clusters = append(clusters, cluster)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cluster rows: %w", err)
	}
	return clusters, nil
}

func (r *clusterRepository) UpdateStatusCAS(ctx context.Context, id uuid.UUID, status models.ClusterStatus, reviewedBy string) (bool, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return false, fmt.Errorf("no database scope in context")
	}

	query := `
		UPDATE resolve_clusters
		SET status = $2, reviewed_by = $3, reviewed_at = NOW()
		WHERE id = $1 AND status = 'pending'`

	result, err := scope.Conn.Exec(ctx, query, id, status, reviewedBy)
	if err != nil {
		return false, fmt.Errorf("failed to update cluster status: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

func (r *clusterRepository) UpdateConsistency(ctx context.Context, id uuid.UUID, dominant string, score float64) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	_, err := scope.Conn.Exec(ctx,
		`UPDATE resolve_clusters SET dominant_classification = $2, consistency_score = $3 WHERE id = $1`,
		id, dominant, score)
	if err != nil {
		return fmt.Errorf("failed to update cluster consistency: %w", err)
	}
	return nil
}

func (r *clusterRepository) MemberClassifications(ctx context.Context, id uuid.UUID) (map[uuid.UUID]string, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `
		SELECT m.place_id, COALESCE(e.attributes->>'classification', '')
		FROM resolve_cluster_members m
		JOIN resolve_entities e ON e.id = m.place_id
		WHERE m.cluster_id = $1`

	rows, err := scope.Conn.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query member classifications: %w", err)
	}
	defer rows.Close()

	classifications := make(map[uuid.UUID]string)
	for rows.Next() {
		var placeID uuid.UUID
		var classification string
		if err := rows.Scan(&placeID, &classification); err != nil {
			return nil, fmt.Errorf("failed to scan member classification: %w", err)
		}
		classifications[placeID] = classification
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating member classifications: %w", err)
	}
	return classifications, nil
}

func (r *clusterRepository) LinkMembersToColony(ctx context.Context, id uuid.UUID, colonyID uuid.UUID) (int, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no database scope in context")
	}

	query := `
		INSERT INTO resolve_colony_members (colony_id, place_id)
		SELECT $2, m.place_id
		FROM resolve_cluster_members m
		WHERE m.cluster_id = $1
		ON CONFLICT (colony_id, place_id) DO NOTHING`

	result, err := scope.Conn.Exec(ctx, query, id, colonyID)
	if err != nil {
		return 0, fmt.Errorf("failed to link members to colony: %w", err)
	}
	return int(result.RowsAffected()), nil
}

// ============================================================================
// Helper Functions - Scan
// ============================================================================

func scanClusterRow(row pgx.Row) (*models.Cluster, error) {
	var c models.Cluster

	err := row.Scan(
		&c.ID, &c.DominantClassification, &c.ConsistencyScore, &c.Status,
		&c.CreatedAt, &c.ReviewedAt, &c.ReviewedBy, &c.MemberPlaceIDs,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan cluster: %w", err)
	}
	return &c, nil
}
