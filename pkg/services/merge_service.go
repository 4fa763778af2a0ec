package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/felineworks/resolve-engine/pkg/apperrors"
	"github.com/felineworks/resolve-engine/pkg/database"
	"github.com/felineworks/resolve-engine/pkg/jsonutil"
	"github.com/felineworks/resolve-engine/pkg/models"
	"github.com/felineworks/resolve-engine/pkg/repositories"
)

// MergeState tracks where a merge is in its lifecycle. The states exist for
// logging and the result payload; a merge is never persisted mid-flight
// because the whole thing runs in one transaction.
type MergeState string

const (
	MergeStateRequested  MergeState = "requested"
	MergeStateValidating MergeState = "validating"
	MergeStateRepointing MergeState = "repointing"
	MergeStateFinalizing MergeState = "finalizing"
	MergeStateCommitted  MergeState = "committed"
	MergeStateAborted    MergeState = "aborted"
)

// maxLockRetries bounds how often a merge re-resolves its pair after
// acquiring the pair locks. Each retry means a concurrent merge moved one
// of the entities between resolve and lock.
const maxLockRetries = 3

// MergeRequest asks the executor to merge two entities. The caller names
// the pair; the executor picks which record survives.
type MergeRequest struct {
	EntityIDA   uuid.UUID
	EntityIDB   uuid.UUID
	InitiatedBy string
	// CandidateID, when set, ties the merge to a review-queue candidate
	// whose status flips inside the same transaction.
	CandidateID *uuid.UUID
	Notes       *string
}

// MergeResult reports a committed merge.
type MergeResult struct {
	State     MergeState `json:"state"`
	WinnerID  uuid.UUID  `json:"winner_id"`
	LoserID   uuid.UUID  `json:"loser_id"`
	// NoOp is true when both inputs already resolved to the same canonical
	// entity and nothing was changed.
	NoOp             bool     `json:"no_op"`
	Repointed        int      `json:"relationships_repointed"`
	Collapsed        int      `json:"relationships_collapsed"`
	FieldsBackfilled []string `json:"fields_backfilled,omitempty"`
}

// MergeService is the transactional merge executor. A merge either fully
// commits (references repointed, loser pointed at winner, candidate closed,
// audit written) or leaves no trace.
type MergeService interface {
	Merge(ctx context.Context, req *MergeRequest) (*MergeResult, error)
}

type mergeService struct {
	entityRepo       repositories.EntityRepository
	identifierRepo   repositories.IdentifierRepository
	relationshipRepo repositories.RelationshipRepository
	candidateRepo    repositories.CandidateRepository
	auditRepo        repositories.AuditRepository
	resolver         CanonicalResolver
	logger           *zap.Logger
}

// MergeServiceDeps contains dependencies for the merge executor.
type MergeServiceDeps struct {
	EntityRepo       repositories.EntityRepository
	IdentifierRepo   repositories.IdentifierRepository
	RelationshipRepo repositories.RelationshipRepository
	CandidateRepo    repositories.CandidateRepository
	AuditRepo        repositories.AuditRepository
	Resolver         CanonicalResolver
	Logger           *zap.Logger
}

// NewMergeService creates a new MergeService.
func NewMergeService(deps *MergeServiceDeps) MergeService {
	return &mergeService{
		entityRepo:       deps.EntityRepo,
		identifierRepo:   deps.IdentifierRepo,
		relationshipRepo: deps.RelationshipRepo,
		candidateRepo:    deps.CandidateRepo,
		auditRepo:        deps.AuditRepo,
		resolver:         deps.Resolver,
		logger:           deps.Logger.Named("merge"),
	}
}

var _ MergeService = (*mergeService)(nil)

func (s *mergeService) Merge(ctx context.Context, req *MergeRequest) (*MergeResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	var result *MergeResult
	err := scope.WithinTx(ctx, func(ctx context.Context) error {
		var txErr error
		result, txErr = s.execute(ctx, req)
		return txErr
	})
	if err != nil {
		s.logger.Warn("Merge aborted",
			zap.String("entity_a", req.EntityIDA.String()),
			zap.String("entity_b", req.EntityIDB.String()),
			zap.String("initiated_by", req.InitiatedBy),
			zap.Error(err))
		return nil, err
	}

	if result.NoOp {
		s.logger.Info("Merge was a no-op, pair already canonical-equal",
			zap.String("canonical_id", result.WinnerID.String()),
			zap.String("initiated_by", req.InitiatedBy))
	} else {
		s.logger.Info("Merge committed",
			zap.String("winner_id", result.WinnerID.String()),
			zap.String("loser_id", result.LoserID.String()),
			zap.String("initiated_by", req.InitiatedBy),
			zap.Int("repointed", result.Repointed),
			zap.Int("collapsed", result.Collapsed),
			zap.Strings("fields_backfilled", result.FieldsBackfilled))
	}
	return result, nil
}

func (s *mergeService) validate(req *MergeRequest) error {
	if req.EntityIDA == uuid.Nil || req.EntityIDB == uuid.Nil {
		return apperrors.NewValidationError("entity_id", "both entity ids are required")
	}
	if req.EntityIDA == req.EntityIDB {
		return apperrors.NewValidationError("entity_id", "cannot merge an entity with itself")
	}
	if req.InitiatedBy == "" {
		return apperrors.NewValidationError("initiated_by", "initiated_by is required")
	}
	return nil
}

// execute runs inside the merge transaction.
func (s *mergeService) execute(ctx context.Context, req *MergeRequest) (*MergeResult, error) {
	idA, idB, err := s.lockCanonicalPair(ctx, req.EntityIDA, req.EntityIDB)
	if err != nil {
		return nil, err
	}

	if idA == idB {
		// Both sides already point at the same record. Close the candidate
		// if there is one and report success without touching anything else.
		if err := s.closeCandidate(ctx, req); err != nil {
			return nil, err
		}
		return &MergeResult{State: MergeStateCommitted, WinnerID: idA, LoserID: idA, NoOp: true}, nil
	}

	winner, loser, err := s.selectWinner(ctx, idA, idB)
	if err != nil {
		return nil, err
	}

	repoint, err := s.relationshipRepo.RepointAll(ctx, loser.ID, winner.ID)
	if err != nil {
		return nil, err
	}

	backfilled, err := s.backfill(ctx, winner, loser)
	if err != nil {
		return nil, err
	}

	pointed, err := s.entityRepo.SetMergedInto(ctx, loser.ID, winner.ID)
	if err != nil {
		return nil, err
	}
	if !pointed {
		// The pair locks should make this impossible; failing loud beats
		// silently double-pointing.
		return nil, fmt.Errorf("entity %s was merged concurrently", loser.ID)
	}

	if err := s.closeCandidate(ctx, req); err != nil {
		return nil, err
	}

	if err := s.writeAudit(ctx, req, winner, loser, repoint, backfilled); err != nil {
		return nil, err
	}

	return &MergeResult{
		State:            MergeStateCommitted,
		WinnerID:         winner.ID,
		LoserID:          loser.ID,
		Repointed:        repoint.Repointed,
		Collapsed:        repoint.Collapsed,
		FieldsBackfilled: backfilled,
	}, nil
}

// lockCanonicalPair resolves both inputs to canonical ids and takes the
// ordered advisory locks on them, retrying when a concurrent merge moves an
// entity between resolve and lock. On return the pair is stable for the
// rest of the transaction.
func (s *mergeService) lockCanonicalPair(ctx context.Context, a, b uuid.UUID) (uuid.UUID, uuid.UUID, error) {
	idA, err := s.resolver.Resolve(ctx, a)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	idB, err := s.resolver.Resolve(ctx, b)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}

	for attempt := 0; attempt < maxLockRetries; attempt++ {
		if idA == idB {
			return idA, idB, nil
		}
		if err := s.entityRepo.LockPair(ctx, idA, idB); err != nil {
			return uuid.Nil, uuid.Nil, err
		}

		// Re-resolve under the locks. If nothing moved we are stable.
		againA, err := s.resolver.Resolve(ctx, idA)
		if err != nil {
			return uuid.Nil, uuid.Nil, err
		}
		againB, err := s.resolver.Resolve(ctx, idB)
		if err != nil {
			return uuid.Nil, uuid.Nil, err
		}
		if againA == idA && againB == idB {
			return idA, idB, nil
		}
		idA, idB = againA, againB
	}
	return uuid.Nil, uuid.Nil, fmt.Errorf("could not stabilize merge pair after %d attempts", maxLockRetries)
}

// selectWinner applies the data-completeness rule: populated attributes plus
// identifier count plus relationship count, ties broken by the earlier
// created_at. The caller never chooses; survivorship is a property of the
// data.
func (s *mergeService) selectWinner(ctx context.Context, idA, idB uuid.UUID) (winner, loser *models.Entity, err error) {
	entityA, err := s.entityRepo.GetByID(ctx, idA)
	if err != nil {
		return nil, nil, err
	}
	entityB, err := s.entityRepo.GetByID(ctx, idB)
	if err != nil {
		return nil, nil, err
	}
	if entityA.Kind != entityB.Kind {
		return nil, nil, apperrors.NewValidationError("entity_id",
			fmt.Sprintf("cannot merge a %s with a %s", entityA.Kind, entityB.Kind))
	}

	scoreA, err := s.completeness(ctx, entityA)
	if err != nil {
		return nil, nil, err
	}
	scoreB, err := s.completeness(ctx, entityB)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case scoreA > scoreB:
		return entityA, entityB, nil
	case scoreB > scoreA:
		return entityB, entityA, nil
	case entityA.CreatedAt.After(entityB.CreatedAt):
		return entityB, entityA, nil
	default:
		return entityA, entityB, nil
	}
}

func (s *mergeService) completeness(ctx context.Context, entity *models.Entity) (int, error) {
	identifiers, err := s.identifierRepo.GetByEntity(ctx, entity.ID)
	if err != nil {
		return 0, err
	}
	relationships, err := s.relationshipRepo.CountByEntity(ctx, entity.ID)
	if err != nil {
		return 0, err
	}
	return entity.PopulatedAttributeCount() + len(identifiers) + relationships, nil
}

// backfill copies loser field values into winner fields that are empty.
// Populated winner fields always win; a merge never overwrites data the
// surviving record already has.
func (s *mergeService) backfill(ctx context.Context, winner, loser *models.Entity) ([]string, error) {
	var backfilled []string

	if winner.DisplayName == "" && loser.DisplayName != "" {
		if err := s.entityRepo.UpdateDisplayName(ctx, winner.ID, loser.DisplayName); err != nil {
			return nil, err
		}
		winner.DisplayName = loser.DisplayName
		backfilled = append(backfilled, "display_name")
	}

	merged := winner.Attributes
	if merged == nil {
		merged = make(map[string]any)
	}
	changed := false
	for key, value := range loser.Attributes {
		if !populated(value) {
			continue
		}
		if populated(merged[key]) {
			continue
		}
		merged[key] = value
		backfilled = append(backfilled, key)
		changed = true
	}
	if changed {
		if err := s.entityRepo.UpdateAttributes(ctx, winner.ID, merged); err != nil {
			return nil, err
		}
		winner.Attributes = merged
	}
	return backfilled, nil
}

func populated(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	default:
		return true
	}
}

// closeCandidate flips the linked candidate to merged inside the merge
// transaction. A lost race means someone else adjudicated the candidate
// first, which aborts the whole merge.
func (s *mergeService) closeCandidate(ctx context.Context, req *MergeRequest) error {
	if req.CandidateID == nil {
		return nil
	}
	swapped, err := s.candidateRepo.ResolveCAS(ctx, *req.CandidateID, models.CandidateStatusMerged, req.InitiatedBy, req.Notes)
	if err != nil {
		return err
	}
	if !swapped {
		candidate, err := s.candidateRepo.GetByID(ctx, *req.CandidateID)
		if err != nil {
			return err
		}
		return &apperrors.AlreadyResolvedError{CandidateID: candidate.ID, Status: string(candidate.Status)}
	}
	return nil
}

// writeAudit records one entry per repointed relationship row, one per
// backfilled field, and one merge summary, all in a single batch inside the
// merge transaction.
func (s *mergeService) writeAudit(
	ctx context.Context,
	req *MergeRequest,
	winner, loser *models.Entity,
	repoint *repositories.RepointResult,
	backfilled []string,
) error {
	now := time.Now()
	loserStr := loser.ID.String()
	winnerStr := winner.ID.String()
	reason := fmt.Sprintf("merged duplicate %s into %s", loser.ID, winner.ID)

	var entries []*models.MergeAuditEntry
	for _, target := range repoint.PerTarget {
		for _, rowID := range target.RowIDs {
			entries = append(entries, &models.MergeAuditEntry{
				EntityType: models.AuditEntityTypeRelationship,
				EntityID:   rowID,
				Field:      target.Table + "." + target.Column,
				OldValue:   &loserStr,
				NewValue:   &winnerStr,
				EditedBy:   req.InitiatedBy,
				EditSource: models.AuditSourceMerge,
				Reason:     reason,
				CreatedAt:  now,
			})
		}
	}

	for _, field := range backfilled {
		value := fieldValue(winner, field)
		entries = append(entries, &models.MergeAuditEntry{
			EntityType: models.AuditEntityTypeEntity,
			EntityID:   winner.ID,
			Field:      field,
			NewValue:   &value,
			EditedBy:   req.InitiatedBy,
			EditSource: models.AuditSourceMerge,
			Reason:     reason,
			CreatedAt:  now,
		})
	}

	summary := models.MergeSummary{
		LoserID:     loser.ID,
		WinnerID:    winner.ID,
		InitiatedBy: req.InitiatedBy,
		CandidateID: req.CandidateID,
		Repointed:   repoint.Repointed,
		Collapsed:   repoint.Collapsed,
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode merge summary: %w", err)
	}
	payloadStr := string(payload)
	entries = append(entries, &models.MergeAuditEntry{
		EntityType: models.AuditEntityTypeEntity,
		EntityID:   winner.ID,
		Field:      models.AuditFieldMergeSummary,
		OldValue:   &loserStr,
		NewValue:   &payloadStr,
		EditedBy:   req.InitiatedBy,
		EditSource: models.AuditSourceMerge,
		Reason:     reason,
		CreatedAt:  now,
	})

	return s.auditRepo.CreateBatch(ctx, entries)
}

func fieldValue(entity *models.Entity, field string) string {
	if field == "display_name" {
		return entity.DisplayName
	}
	return jsonutil.ScalarString(entity.Attributes[field])
}
