package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/felineworks/resolve-engine/pkg/apperrors"
	"github.com/felineworks/resolve-engine/pkg/database"
)

// RepointTarget is one statically-declared foreign-key reference the merge
// executor rewrites from loser to winner. The scope is a fixed enumeration,
// never built from strings at runtime, so the set of tables a merge can
// touch is reviewable in one place.
type RepointTarget struct {
	// Table is the dependent relationship table.
	Table string
	// Column is the entity-reference column to rewrite.
	Column string
	// CollapseKey lists the columns that, together with Column, make a row
	// unique. A loser row that would duplicate a winner row on this key
	// after repointing is collapsed instead of left duplicated. Empty means
	// rows are never considered duplicates of each other.
	CollapseKey []string
	// ConfidenceColumn, when set, decides which copy a collapse keeps: the
	// highest-confidence one.
	ConfidenceColumn string
}

// RepointTargets is the full repoint scope of an entity merge.
var RepointTargets = []RepointTarget{
	{Table: "resolve_identifiers", Column: "entity_id", CollapseKey: []string{"id_type", "normalized_value"}, ConfidenceColumn: "confidence"},
	{Table: "resolve_appointments", Column: "person_id", CollapseKey: []string{"source_system", "source_pk"}},
	{Table: "resolve_requests", Column: "requester_id"},
	{Table: "resolve_requests", Column: "place_id"},
	{Table: "resolve_place_residents", Column: "person_id", CollapseKey: []string{"place_id", "role"}, ConfidenceColumn: "confidence"},
	{Table: "resolve_place_residents", Column: "place_id", CollapseKey: []string{"person_id", "role"}, ConfidenceColumn: "confidence"},
	{Table: "resolve_cat_links", Column: "person_id", CollapseKey: []string{"cat_id", "relationship"}, ConfidenceColumn: "confidence"},
	{Table: "resolve_messages", Column: "person_id"},
	{Table: "resolve_colony_members", Column: "place_id", CollapseKey: []string{"colony_id"}},
}

// TargetRepointResult reports what one target contributed to a merge.
// RowIDs identifies every repointed row so the audit log can carry one entry
// per rewritten relationship.
type TargetRepointResult struct {
	Table     string      `json:"table"`
	Column    string      `json:"column"`
	Repointed int         `json:"repointed"`
	Collapsed int         `json:"collapsed"`
	RowIDs    []uuid.UUID `json:"-"`
}

// RepointResult aggregates a full repoint pass.
type RepointResult struct {
	Repointed int
	Collapsed int
	PerTarget []TargetRepointResult
}

// RelationshipRepository owns the dependent relationship tables: counting
// references for the completeness score and rewriting them during a merge.
type RelationshipRepository interface {
	// CountByEntity counts rows across the repoint scope that reference the
	// entity. Feeds the winner-selection completeness score and the review
	// queue's decision context.
	CountByEntity(ctx context.Context, entityID uuid.UUID) (int, error)
	// RepointAll rewrites every reference from loser to winner, collapsing
	// would-be duplicates. Must run inside the merge transaction. A unique
	// violation the collapse rule cannot cover surfaces as a
	// MergeConflictError naming the table.
	RepointAll(ctx context.Context, loserID, winnerID uuid.UUID) (*RepointResult, error)
}

type relationshipRepository struct{}

// NewRelationshipRepository creates a new RelationshipRepository.
func NewRelationshipRepository() RelationshipRepository {
	return &relationshipRepository{}
}

var _ RelationshipRepository = (*relationshipRepository)(nil)

func (r *relationshipRepository) CountByEntity(ctx context.Context, entityID uuid.UUID) (int, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no database scope in context")
	}

	total := 0
	for _, target := range RepointTargets {
		// Identifier rows are attributes of the entity, not activity.
		if target.Table == "resolve_identifiers" {
			continue
		}
		query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s = $1`, target.Table, target.Column)
		var count int
		if err := scope.Conn.QueryRow(ctx, query, entityID).Scan(&count); err != nil {
			return 0, fmt.Errorf("failed to count %s rows: %w", target.Table, err)
		}
		total += count
	}
	return total, nil
}

func (r *relationshipRepository) RepointAll(ctx context.Context, loserID, winnerID uuid.UUID) (*RepointResult, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	result := &RepointResult{}
	for _, target := range RepointTargets {
		collapsed, err := collapseDuplicates(ctx, scope, target, loserID, winnerID)
		if err != nil {
			return nil, err
		}

		update := fmt.Sprintf(`UPDATE %s SET %s = $2 WHERE %s = $1 RETURNING id`,
			target.Table, target.Column, target.Column)
		rowIDs, err := queryRepointedIDs(ctx, scope, update, loserID, winnerID)
		if err != nil {
			return nil, mapRepointError(err, target)
		}

		repointed := len(rowIDs)
		result.Repointed += repointed
		result.Collapsed += collapsed
		if repointed > 0 || collapsed > 0 {
			result.PerTarget = append(result.PerTarget, TargetRepointResult{
				Table:     target.Table,
				Column:    target.Column,
				Repointed: repointed,
				Collapsed: collapsed,
				RowIDs:    rowIDs,
			})
		}
	}
	return result, nil
}

func queryRepointedIDs(ctx context.Context, scope *database.Scope, query string, loserID, winnerID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := scope.Conn.Query(ctx, query, loserID, winnerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// collapseDuplicates removes the copies that would collide once loser rows
// are repointed, keeping the highest-confidence one when the target tracks
// confidence and the winner's copy otherwise.
func collapseDuplicates(ctx context.Context, scope *database.Scope, target RepointTarget, loserID, winnerID uuid.UUID) (int, error) {
	if len(target.CollapseKey) == 0 {
		return 0, nil
	}

	join := make([]string, 0, len(target.CollapseKey))
	for _, col := range target.CollapseKey {
		join = append(join, fmt.Sprintf("l.%s = w.%s", col, col))
	}
	joinClause := strings.Join(join, " AND ")

	confidenceGuard := ""
	if target.ConfidenceColumn != "" {
		confidenceGuard = fmt.Sprintf(" AND l.%s <= w.%s", target.ConfidenceColumn, target.ConfidenceColumn)
	}

	// Drop loser copies dominated by a winner copy.
	dropLoser := fmt.Sprintf(`
		DELETE FROM %s l
		USING %s w
		WHERE l.%s = $1 AND w.%s = $2 AND %s%s`,
		target.Table, target.Table, target.Column, target.Column, joinClause, confidenceGuard)

	tag, err := scope.Conn.Exec(ctx, dropLoser, loserID, winnerID)
	if err != nil {
		return 0, mapRepointError(err, target)
	}
	collapsed := int(tag.RowsAffected())

	// Any loser copy still colliding is strictly more confident; drop the
	// winner copy it supersedes.
	if target.ConfidenceColumn != "" {
		dropWinner := fmt.Sprintf(`
			DELETE FROM %s w
			USING %s l
			WHERE w.%s = $2 AND l.%s = $1 AND %s`,
			target.Table, target.Table, target.Column, target.Column, joinClause)

		tag, err := scope.Conn.Exec(ctx, dropWinner, loserID, winnerID)
		if err != nil {
			return 0, mapRepointError(err, target)
		}
		collapsed += int(tag.RowsAffected())
	}

	return collapsed, nil
}

// mapRepointError converts a unique violation into the MergeConflictError
// the review surface shows verbatim.
func mapRepointError(err error, target RepointTarget) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return &apperrors.MergeConflictError{
			Relationship: target.Table,
			Detail:       pgErr.Detail,
		}
	}
	return fmt.Errorf("failed to repoint %s.%s: %w", target.Table, target.Column, err)
}
