package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/felineworks/resolve-engine/pkg/apperrors"
	"github.com/felineworks/resolve-engine/pkg/database"
	"github.com/felineworks/resolve-engine/pkg/models"
)

// CandidateListFilter narrows candidate queries. Nil fields are not applied.
type CandidateListFilter struct {
	Status *models.CandidateStatus
	Kind   *models.EntityKind
	Limit  int
	Offset int
}

// CandidateRepository provides data access for duplicate candidates.
type CandidateRepository interface {
	// UpsertPending inserts a pending candidate for an unordered pair, or
	// raises the existing pending candidate's score when the new signal is
	// stronger. The partial unique index on pending pairs makes a second
	// simultaneous pending candidate impossible. Returns true when a new row
	// was created.
	UpsertPending(ctx context.Context, candidate *models.DuplicateCandidate) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.DuplicateCandidate, error)
	// GetLatestByPair returns the most recent candidate for the unordered
	// pair in any status, or nil when the pair has never been surfaced.
	GetLatestByPair(ctx context.Context, a, b uuid.UUID) (*models.DuplicateCandidate, error)
	List(ctx context.Context, filter CandidateListFilter) ([]*models.DuplicateCandidate, error)
	StatusCounts(ctx context.Context, kind *models.EntityKind) (map[models.CandidateStatus]int, error)
	// ResolveCAS transitions a candidate out of pending with a status
	// compare-and-swap. Exactly one concurrent caller can win; the rest see
	// false. The swap runs on the scoped connection, so inside a merge
	// transaction it commits or rolls back with the merge.
	ResolveCAS(ctx context.Context, id uuid.UUID, status models.CandidateStatus, resolvedBy string, notes *string) (bool, error)
	// ListPendingPairs returns the normalized pending pairs for one kind,
	// used by the generator to skip already-surfaced pairs.
	ListPendingPairs(ctx context.Context, kind models.EntityKind) (map[[2]uuid.UUID]struct{}, error)
}

type candidateRepository struct{}

// NewCandidateRepository creates a new CandidateRepository.
func NewCandidateRepository() CandidateRepository {
	return &candidateRepository{}
}

var _ CandidateRepository = (*candidateRepository)(nil)

const candidateColumns = `id, entity_id_a, entity_id_b, kind, match_type, similarity_score,
	matched_identifier, status, created_at, resolved_by, resolved_at, resolution_notes`

func (r *candidateRepository) UpsertPending(ctx context.Context, candidate *models.DuplicateCandidate) (bool, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return false, fmt.Errorf("no database scope in context")
	}

	if candidate.ID == uuid.Nil {
		candidate.ID = uuid.New()
	}
	candidate.EntityIDA, candidate.EntityIDB = models.NormalizePair(candidate.EntityIDA, candidate.EntityIDB)
	candidate.Status = models.CandidateStatusPending
	candidate.CreatedAt = time.Now()

	query := `
		INSERT INTO resolve_candidates (
			id, entity_id_a, entity_id_b, kind, match_type, similarity_score,
			matched_identifier, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8)
		ON CONFLICT (entity_id_a, entity_id_b) WHERE status = 'pending'
		DO UPDATE SET
			similarity_score = GREATEST(resolve_candidates.similarity_score, EXCLUDED.similarity_score),
			match_type = CASE
				WHEN EXCLUDED.similarity_score > resolve_candidates.similarity_score THEN EXCLUDED.match_type
				ELSE resolve_candidates.match_type
			END,
			matched_identifier = COALESCE(EXCLUDED.matched_identifier, resolve_candidates.matched_identifier)
		RETURNING (xmax = 0) AS inserted`

	var inserted bool
	err := scope.Conn.QueryRow(ctx, query,
		candidate.ID, candidate.EntityIDA, candidate.EntityIDB, candidate.Kind,
		candidate.MatchType, candidate.SimilarityScore, candidate.MatchedIdentifier,
		candidate.CreatedAt,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert candidate: %w", err)
	}
	return inserted, nil
}

func (r *candidateRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DuplicateCandidate, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `SELECT ` + candidateColumns + ` FROM resolve_candidates WHERE id = $1`

	candidate, err := scanCandidateRow(scope.Conn.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperrors.ErrNotFound
	}
	return candidate, err
}

func (r *candidateRepository) GetLatestByPair(ctx context.Context, a, b uuid.UUID) (*models.DuplicateCandidate, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	first, second := models.NormalizePair(a, b)
	query := `
		SELECT ` + candidateColumns + `
		FROM resolve_candidates
		WHERE entity_id_a = $1 AND entity_id_b = $2
		ORDER BY created_at DESC
		LIMIT 1`

	candidate, err := scanCandidateRow(scope.Conn.QueryRow(ctx, query, first, second))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return candidate, err
}

func (r *candidateRepository) List(ctx context.Context, filter CandidateListFilter) ([]*models.DuplicateCandidate, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT ` + candidateColumns + `
		FROM resolve_candidates
		WHERE ($1::text IS NULL OR status = $1)
		  AND ($2::text IS NULL OR kind = $2)
		ORDER BY similarity_score DESC, created_at ASC
		LIMIT $3 OFFSET $4`

	rows, err := scope.Conn.Query(ctx, query, filter.Status, filter.Kind, limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	return scanCandidateRows(rows)
}

func (r *candidateRepository) StatusCounts(ctx context.Context, kind *models.EntityKind) (map[models.CandidateStatus]int, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `
		SELECT status, COUNT(*)
		FROM resolve_candidates
		WHERE ($1::text IS NULL OR kind = $1)
		GROUP BY status`

	rows, err := scope.Conn.Query(ctx, query, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to count candidates: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.CandidateStatus]int)
	for rows.Next() {
		var status models.CandidateStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}
	return counts, nil
}

func (r *candidateRepository) ResolveCAS(ctx context.Context, id uuid.UUID, status models.CandidateStatus, resolvedBy string, notes *string) (bool, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return false, fmt.Errorf("no database scope in context")
	}

	query := `
		UPDATE resolve_candidates
		SET status = $2, resolved_by = $3, resolved_at = NOW(), resolution_notes = $4
		WHERE id = $1 AND status = 'pending'`

	result, err := scope.Conn.Exec(ctx, query, id, status, resolvedBy, notes)
	if err != nil {
		return false, fmt.Errorf("failed to resolve candidate: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

func (r *candidateRepository) ListPendingPairs(ctx context.Context, kind models.EntityKind) (map[[2]uuid.UUID]struct{}, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `
		SELECT entity_id_a, entity_id_b
		FROM resolve_candidates
		WHERE kind = $1 AND status = 'pending'`

	rows, err := scope.Conn.Query(ctx, query, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending pairs: %w", err)
	}
	defer rows.Close()

	pairs := make(map[[2]uuid.UUID]struct{})
	for rows.Next() {
		var a, b uuid.UUID
		if err := rows.Scan(&a, &b); err != nil {
			return nil, fmt.Errorf("failed to scan pending pair: %w", err)
		}
		pairs[[2]uuid.UUID{a, b}] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending pairs: %w", err)
	}
	return pairs, nil
}

// ============================================================================
// Helper Functions - Scan
// ============================================================================

func scanCandidateRow(row pgx.Row) (*models.DuplicateCandidate, error) {
	var c models.DuplicateCandidate

	err := row.Scan(
		&c.ID, &c.EntityIDA, &c.EntityIDB, &c.Kind, &c.MatchType, &c.SimilarityScore,
		&c.MatchedIdentifier, &c.Status, &c.CreatedAt, &c.ResolvedBy, &c.ResolvedAt, &c.ResolutionNotes,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan candidate: %w", err)
	}
	return &c, nil
}

func scanCandidateRows(rows pgx.Rows) ([]*models.DuplicateCandidate, error) {
	var candidates []*models.DuplicateCandidate

	for rows.Next() {
		candidate, err := scanCandidateRow(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, candidate)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candidate rows: %w", err)
	}
	return candidates, nil
}
