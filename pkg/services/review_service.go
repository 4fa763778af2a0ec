package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/felineworks/resolve-engine/pkg/apperrors"
	"github.com/felineworks/resolve-engine/pkg/models"
	"github.com/felineworks/resolve-engine/pkg/repositories"
)

// ResolutionResult reports one adjudicated candidate. Merge carries the
// merge outcome when the action was merge, nil otherwise.
type ResolutionResult struct {
	Candidate *models.DuplicateCandidate `json:"candidate"`
	Merge     *MergeResult               `json:"merge,omitempty"`
}

// ReviewService is the human review queue over duplicate candidates. It
// never decides anything itself: it presents decision context and applies
// exactly one staff decision per candidate.
type ReviewService interface {
	// ListQueue returns candidates with their full decision context
	// attached: both entities, their identifiers, relationship counts, and
	// whether the pair shares an address.
	ListQueue(ctx context.Context, filter repositories.CandidateListFilter) ([]*models.CandidateContext, error)
	// QueueCounts returns candidate counts per status, optionally narrowed
	// to one entity kind.
	QueueCounts(ctx context.Context, kind *models.EntityKind) (map[models.CandidateStatus]int, error)
	// Resolve applies a staff decision to a pending candidate. Exactly one
	// concurrent resolution wins; the rest get an AlreadyResolvedError. A
	// merge decision runs the full merge transaction before the candidate
	// is considered resolved.
	Resolve(ctx context.Context, candidateID uuid.UUID, action models.ResolutionAction, resolvedBy string, notes *string) (*ResolutionResult, error)
}

type reviewService struct {
	candidateRepo    repositories.CandidateRepository
	entityRepo       repositories.EntityRepository
	identifierRepo   repositories.IdentifierRepository
	relationshipRepo repositories.RelationshipRepository
	mergeService     MergeService
	logger           *zap.Logger
}

// ReviewServiceDeps contains dependencies for the review queue.
type ReviewServiceDeps struct {
	CandidateRepo    repositories.CandidateRepository
	EntityRepo       repositories.EntityRepository
	IdentifierRepo   repositories.IdentifierRepository
	RelationshipRepo repositories.RelationshipRepository
	MergeService     MergeService
	Logger           *zap.Logger
}

// NewReviewService creates a new ReviewService.
func NewReviewService(deps *ReviewServiceDeps) ReviewService {
	return &reviewService{
		candidateRepo:    deps.CandidateRepo,
		entityRepo:       deps.EntityRepo,
		identifierRepo:   deps.IdentifierRepo,
		relationshipRepo: deps.RelationshipRepo,
		mergeService:     deps.MergeService,
		logger:           deps.Logger.Named("review"),
	}
}

var _ ReviewService = (*reviewService)(nil)

func (s *reviewService) ListQueue(ctx context.Context, filter repositories.CandidateListFilter) ([]*models.CandidateContext, error) {
	candidates, err := s.candidateRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []*models.CandidateContext{}, nil
	}

	entityIDs := make([]uuid.UUID, 0, len(candidates)*2)
	for _, c := range candidates {
		entityIDs = append(entityIDs, c.EntityIDA, c.EntityIDB)
	}
	identifiers, err := s.identifierRepo.GetByEntities(ctx, entityIDs)
	if err != nil {
		return nil, err
	}

	contexts := make([]*models.CandidateContext, 0, len(candidates))
	for _, candidate := range candidates {
		cc, err := s.buildContext(ctx, candidate, identifiers)
		if err != nil {
			return nil, err
		}
		contexts = append(contexts, cc)
	}
	return contexts, nil
}

func (s *reviewService) buildContext(
	ctx context.Context,
	candidate *models.DuplicateCandidate,
	identifiers map[uuid.UUID][]*models.Identifier,
) (*models.CandidateContext, error) {
	entityA, err := s.entityRepo.GetByID(ctx, candidate.EntityIDA)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate entity %s: %w", candidate.EntityIDA, err)
	}
	entityB, err := s.entityRepo.GetByID(ctx, candidate.EntityIDB)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate entity %s: %w", candidate.EntityIDB, err)
	}
	countA, err := s.relationshipRepo.CountByEntity(ctx, candidate.EntityIDA)
	if err != nil {
		return nil, err
	}
	countB, err := s.relationshipRepo.CountByEntity(ctx, candidate.EntityIDB)
	if err != nil {
		return nil, err
	}

	idsA := identifiers[candidate.EntityIDA]
	idsB := identifiers[candidate.EntityIDB]
	return &models.CandidateContext{
		Candidate:          candidate,
		EntityA:            entityA,
		EntityB:            entityB,
		IdentifiersA:       idsA,
		IdentifiersB:       idsB,
		RelationshipCountA: countA,
		RelationshipCountB: countB,
		SharedAddress:      sharesAddress(idsA, idsB),
	}, nil
}

func sharesAddress(idsA, idsB []*models.Identifier) bool {
	addresses := make(map[string]struct{})
	for _, id := range idsA {
		if id.IDType == models.IdentifierTypeAddress && id.NormalizedValue != "" {
			addresses[id.NormalizedValue] = struct{}{}
		}
	}
	for _, id := range idsB {
		if id.IDType != models.IdentifierTypeAddress {
			continue
		}
		if _, ok := addresses[id.NormalizedValue]; ok {
			return true
		}
	}
	return false
}

func (s *reviewService) QueueCounts(ctx context.Context, kind *models.EntityKind) (map[models.CandidateStatus]int, error) {
	return s.candidateRepo.StatusCounts(ctx, kind)
}

func (s *reviewService) Resolve(ctx context.Context, candidateID uuid.UUID, action models.ResolutionAction, resolvedBy string, notes *string) (*ResolutionResult, error) {
	if !models.IsValidResolutionAction(action) {
		return nil, apperrors.NewValidationError("action", fmt.Sprintf("invalid action: %s", action))
	}
	if resolvedBy == "" {
		return nil, apperrors.NewValidationError("resolved_by", "resolved_by is required")
	}

	candidate, err := s.candidateRepo.GetByID(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	if candidate.Status != models.CandidateStatusPending {
		return nil, &apperrors.AlreadyResolvedError{CandidateID: candidate.ID, Status: string(candidate.Status)}
	}

	if action == models.ResolutionActionMerge {
		return s.resolveMerge(ctx, candidate, resolvedBy, notes)
	}

	swapped, err := s.candidateRepo.ResolveCAS(ctx, candidate.ID, action.TerminalStatus(), resolvedBy, notes)
	if err != nil {
		return nil, err
	}
	if !swapped {
		// Someone else got there between our read and the swap.
		current, err := s.candidateRepo.GetByID(ctx, candidate.ID)
		if err != nil {
			return nil, err
		}
		return nil, &apperrors.AlreadyResolvedError{CandidateID: current.ID, Status: string(current.Status)}
	}

	s.logger.Info("Candidate resolved",
		zap.String("candidate_id", candidate.ID.String()),
		zap.String("action", string(action)),
		zap.String("resolved_by", resolvedBy))

	resolved, err := s.candidateRepo.GetByID(ctx, candidate.ID)
	if err != nil {
		return nil, err
	}
	return &ResolutionResult{Candidate: resolved}, nil
}

// resolveMerge delegates to the merge executor, which flips the candidate
// status inside the merge transaction. The candidate only reads as merged
// once the merge has actually committed.
func (s *reviewService) resolveMerge(ctx context.Context, candidate *models.DuplicateCandidate, resolvedBy string, notes *string) (*ResolutionResult, error) {
	mergeResult, err := s.mergeService.Merge(ctx, &MergeRequest{
		EntityIDA:   candidate.EntityIDA,
		EntityIDB:   candidate.EntityIDB,
		InitiatedBy: resolvedBy,
		CandidateID: &candidate.ID,
		Notes:       notes,
	})
	if err != nil {
		return nil, err
	}

	resolved, err := s.candidateRepo.GetByID(ctx, candidate.ID)
	if err != nil {
		return nil, err
	}
	return &ResolutionResult{Candidate: resolved, Merge: mergeResult}, nil
}
