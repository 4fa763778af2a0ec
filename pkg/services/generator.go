package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/felineworks/resolve-engine/pkg/matching"
	"github.com/felineworks/resolve-engine/pkg/models"
	"github.com/felineworks/resolve-engine/pkg/repositories"
)

// maxBucketSize skips pathological blocking buckets instead of burning the
// batch window on a quadratic bucket. Oversized buckets mean the blocking
// key is degenerate for that data and needs tuning, not brute force.
const maxBucketSize = 500

// GeneratorStats summarizes one candidate generation run.
type GeneratorStats struct {
	Kind               models.EntityKind `json:"kind"`
	SkippedLocked      bool              `json:"skipped_locked"`
	Entities           int               `json:"entities"`
	Buckets            int               `json:"buckets"`
	PairsScored        int               `json:"pairs_scored"`
	CandidatesUpserted int               `json:"candidates_upserted"`
	CandidatesCreated  int               `json:"candidates_created"`
	Suppressed         int               `json:"suppressed"`
	Duration           time.Duration     `json:"-"`
}

// CandidateGenerator is the periodic blocking + scoring batch that turns
// entity data into pending duplicate candidates. It runs per entity kind
// under an exclusive run-lock and never merges anything itself.
type CandidateGenerator interface {
	Run(ctx context.Context, kind models.EntityKind) (*GeneratorStats, error)
}

type candidateGenerator struct {
	entityRepo     repositories.EntityRepository
	identifierRepo repositories.IdentifierRepository
	candidateRepo  repositories.CandidateRepository
	scorer         *matching.Scorer
	thresholds     matching.Thresholds
	runLock        RunLocker
	lockTTL        time.Duration
	logger         *zap.Logger
}

// CandidateGeneratorDeps contains dependencies for the generator.
type CandidateGeneratorDeps struct {
	EntityRepo     repositories.EntityRepository
	IdentifierRepo repositories.IdentifierRepository
	CandidateRepo  repositories.CandidateRepository
	Thresholds     matching.Thresholds
	RunLock        RunLocker
	LockTTL        time.Duration
	Logger         *zap.Logger
}

// NewCandidateGenerator creates a new CandidateGenerator.
func NewCandidateGenerator(deps *CandidateGeneratorDeps) CandidateGenerator {
	lockTTL := deps.LockTTL
	if lockTTL == 0 {
		lockTTL = 25 * time.Minute
	}
	return &candidateGenerator{
		entityRepo:     deps.EntityRepo,
		identifierRepo: deps.IdentifierRepo,
		candidateRepo:  deps.CandidateRepo,
		scorer:         matching.NewScorer(deps.Thresholds),
		thresholds:     deps.Thresholds,
		runLock:        deps.RunLock,
		lockTTL:        lockTTL,
		logger:         deps.Logger.Named("generator"),
	}
}

var _ CandidateGenerator = (*candidateGenerator)(nil)

func (g *candidateGenerator) Run(ctx context.Context, kind models.EntityKind) (*GeneratorStats, error) {
	if !models.IsValidEntityKind(kind) {
		return nil, fmt.Errorf("invalid entity kind: %s", kind)
	}

	release, acquired, err := g.runLock.TryAcquire(ctx, "resolve:generator:"+string(kind), g.lockTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		g.logger.Info("Generator run already in progress, skipping",
			zap.String("kind", string(kind)))
		return &GeneratorStats{Kind: kind, SkippedLocked: true}, nil
	}
	defer release()

	started := time.Now()
	stats := &GeneratorStats{Kind: kind}

	entities, err := g.entityRepo.ListCanonicalByKind(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to load canonical entities: %w", err)
	}
	stats.Entities = len(entities)
	if len(entities) < 2 {
		return stats, nil
	}

	entityIDs := make([]uuid.UUID, len(entities))
	for i, e := range entities {
		entityIDs[i] = e.ID
	}
	identifiers, err := g.identifierRepo.GetByEntities(ctx, entityIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load identifiers: %w", err)
	}

	pending, err := g.candidateRepo.ListPendingPairs(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending pairs: %w", err)
	}

	buckets := make(map[string][]int)
	for i, entity := range entities {
		for _, key := range matching.BlockKeys(entity, identifiers[entity.ID]) {
			buckets[key] = append(buckets[key], i)
		}
	}
	stats.Buckets = len(buckets)

	scored := make(map[[2]uuid.UUID]struct{})
	for key, members := range buckets {
		if len(members) < 2 {
			continue
		}
		if len(members) > maxBucketSize {
			g.logger.Warn("Skipping oversized blocking bucket",
				zap.String("kind", string(kind)),
				zap.String("bucket", key),
				zap.Int("size", len(members)))
			continue
		}

		for i := 0; i < len(members); i++ {
			for j := i + 1; j < len(members); j++ {
				a, b := entities[members[i]], entities[members[j]]
				if err := g.scorePair(ctx, stats, scored, pending, a, b, identifiers); err != nil {
					return nil, err
				}
			}
		}
	}

	stats.Duration = time.Since(started)
	g.logger.Info("Generator run complete",
		zap.String("kind", string(kind)),
		zap.Int("entities", stats.Entities),
		zap.Int("buckets", stats.Buckets),
		zap.Int("pairs_scored", stats.PairsScored),
		zap.Int("candidates_upserted", stats.CandidatesUpserted),
		zap.Int("candidates_created", stats.CandidatesCreated),
		zap.Int("suppressed", stats.Suppressed),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

func (g *candidateGenerator) scorePair(
	ctx context.Context,
	stats *GeneratorStats,
	scored map[[2]uuid.UUID]struct{},
	pending map[[2]uuid.UUID]struct{},
	a, b *models.Entity,
	identifiers map[uuid.UUID][]*models.Identifier,
) error {
	first, second := models.NormalizePair(a.ID, b.ID)
	pair := [2]uuid.UUID{first, second}
	if _, done := scored[pair]; done {
		return nil
	}
	scored[pair] = struct{}{}
	stats.PairsScored++

	// A pair with an open candidate is already in front of staff.
	if _, open := pending[pair]; open {
		return nil
	}

	result := g.scorer.Score(a, b, identifiers[a.ID], identifiers[b.ID])
	if !result.Matched() {
		return nil
	}

	previous, err := g.candidateRepo.GetLatestByPair(ctx, a.ID, b.ID)
	if err != nil {
		return fmt.Errorf("failed to check pair history: %w", err)
	}
	if previous != nil && !g.shouldResurface(previous, result) {
		stats.Suppressed++
		return nil
	}

	candidate := &models.DuplicateCandidate{
		EntityIDA:       a.ID,
		EntityIDB:       b.ID,
		Kind:            a.Kind,
		MatchType:       result.MatchType,
		SimilarityScore: result.Score,
	}
	if result.MatchedIdentifier != "" {
		candidate.MatchedIdentifier = &result.MatchedIdentifier
	}

	created, err := g.candidateRepo.UpsertPending(ctx, candidate)
	if err != nil {
		return err
	}
	stats.CandidatesUpserted++
	if created {
		stats.CandidatesCreated++
	}
	return nil
}

// shouldResurface decides whether a previously adjudicated pair earns
// another review. Staff said no once; only a materially stronger signal
// overrides that. A first-time exact identifier always qualifies, since
// high fuzzy scores leave the delta no room.
func (g *candidateGenerator) shouldResurface(previous *models.DuplicateCandidate, result matching.Result) bool {
	switch previous.Status {
	case models.CandidateStatusDismissed, models.CandidateStatusKeptSeparate:
		if result.MatchType == models.MatchTypeExactIdentifier &&
			previous.MatchType != models.MatchTypeExactIdentifier {
			return true
		}
		return result.Score >= previous.SimilarityScore+g.thresholds.ResurfaceDelta
	case models.CandidateStatusMerged:
		// Both sides already resolve to one canonical record.
		return false
	}
	return true
}
