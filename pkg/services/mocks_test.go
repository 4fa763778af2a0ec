package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/felineworks/resolve-engine/pkg/apperrors"
	"github.com/felineworks/resolve-engine/pkg/models"
	"github.com/felineworks/resolve-engine/pkg/repositories"
)

// mockEntityRepo implements repositories.EntityRepository for testing.
type mockEntityRepo struct {
	entities       map[uuid.UUID]*models.Entity
	lockPairCalls  [][2]uuid.UUID
	setMergedCalls int
	getErr         error
	setMergedErr   error
}

func newMockEntityRepo(entities ...*models.Entity) *mockEntityRepo {
	m := &mockEntityRepo{entities: make(map[uuid.UUID]*models.Entity)}
	for _, e := range entities {
		m.entities[e.ID] = e
	}
	return m
}

func (m *mockEntityRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Entity, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	e, ok := m.entities[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return e, nil
}

func (m *mockEntityRepo) GetMergedInto(_ context.Context, id uuid.UUID) (*uuid.UUID, error) {
	e, ok := m.entities[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return e.MergedIntoEntityID, nil
}

func (m *mockEntityRepo) ListCanonicalByKind(_ context.Context, kind models.EntityKind) ([]*models.Entity, error) {
	var out []*models.Entity
	for _, e := range m.entities {
		if e.Kind == kind && e.IsCanonical() {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockEntityRepo) SetMergedInto(_ context.Context, loserID, winnerID uuid.UUID) (bool, error) {
	if m.setMergedErr != nil {
		return false, m.setMergedErr
	}
	loser, ok := m.entities[loserID]
	if !ok || loser.MergedIntoEntityID != nil {
		return false, nil
	}
	loser.MergedIntoEntityID = &winnerID
	m.setMergedCalls++
	return true, nil
}

func (m *mockEntityRepo) UpdateDisplayName(_ context.Context, id uuid.UUID, displayName string) error {
	m.entities[id].DisplayName = displayName
	return nil
}

func (m *mockEntityRepo) UpdateAttributes(_ context.Context, id uuid.UUID, attributes map[string]any) error {
	m.entities[id].Attributes = attributes
	return nil
}

func (m *mockEntityRepo) SetMemberClassification(_ context.Context, placeIDs []uuid.UUID, classification string) (int, error) {
	updated := 0
	for _, id := range placeIDs {
		e, ok := m.entities[id]
		if !ok {
			continue
		}
		if e.Attributes == nil {
			e.Attributes = make(map[string]any)
		}
		if e.Attributes["classification"] != classification {
			e.Attributes["classification"] = classification
			updated++
		}
	}
	return updated, nil
}

func (m *mockEntityRepo) LockPair(_ context.Context, a, b uuid.UUID) error {
	first, second := models.NormalizePair(a, b)
	m.lockPairCalls = append(m.lockPairCalls, [2]uuid.UUID{first, second})
	return nil
}

// mockIdentifierRepo implements repositories.IdentifierRepository.
type mockIdentifierRepo struct {
	byEntity map[uuid.UUID][]*models.Identifier
}

func newMockIdentifierRepo() *mockIdentifierRepo {
	return &mockIdentifierRepo{byEntity: make(map[uuid.UUID][]*models.Identifier)}
}

func (m *mockIdentifierRepo) add(entityID uuid.UUID, idType models.IdentifierType, normalized string) {
	m.byEntity[entityID] = append(m.byEntity[entityID], &models.Identifier{
		ID:              uuid.New(),
		EntityID:        entityID,
		IDType:          idType,
		NormalizedValue: normalized,
	})
}

func (m *mockIdentifierRepo) GetByEntity(_ context.Context, entityID uuid.UUID) ([]*models.Identifier, error) {
	return m.byEntity[entityID], nil
}

func (m *mockIdentifierRepo) GetByEntities(_ context.Context, entityIDs []uuid.UUID) (map[uuid.UUID][]*models.Identifier, error) {
	out := make(map[uuid.UUID][]*models.Identifier)
	for _, id := range entityIDs {
		if ids, ok := m.byEntity[id]; ok {
			out[id] = ids
		}
	}
	return out, nil
}

func (m *mockIdentifierRepo) LookupCanonical(_ context.Context, idType models.IdentifierType, normalizedValue string) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for entityID, ids := range m.byEntity {
		for _, id := range ids {
			if id.IDType == idType && id.NormalizedValue == normalizedValue {
				out = append(out, entityID)
				break
			}
		}
	}
	return out, nil
}

// mockCandidateRepo implements repositories.CandidateRepository.
type mockCandidateRepo struct {
	candidates map[uuid.UUID]*models.DuplicateCandidate
	upsertErr  error
	resolveErr error
}

func newMockCandidateRepo(candidates ...*models.DuplicateCandidate) *mockCandidateRepo {
	m := &mockCandidateRepo{candidates: make(map[uuid.UUID]*models.DuplicateCandidate)}
	for _, c := range candidates {
		m.candidates[c.ID] = c
	}
	return m
}

func (m *mockCandidateRepo) UpsertPending(_ context.Context, candidate *models.DuplicateCandidate) (bool, error) {
	if m.upsertErr != nil {
		return false, m.upsertErr
	}
	candidate.EntityIDA, candidate.EntityIDB = models.NormalizePair(candidate.EntityIDA, candidate.EntityIDB)
	for _, existing := range m.candidates {
		if existing.Status != models.CandidateStatusPending {
			continue
		}
		if existing.EntityIDA == candidate.EntityIDA && existing.EntityIDB == candidate.EntityIDB {
			if candidate.SimilarityScore > existing.SimilarityScore {
				existing.SimilarityScore = candidate.SimilarityScore
				existing.MatchType = candidate.MatchType
			}
			return false, nil
		}
	}
	candidate.ID = uuid.New()
	candidate.Status = models.CandidateStatusPending
	candidate.CreatedAt = time.Now()
	m.candidates[candidate.ID] = candidate
	return true, nil
}

func (m *mockCandidateRepo) GetByID(_ context.Context, id uuid.UUID) (*models.DuplicateCandidate, error) {
	c, ok := m.candidates[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return c, nil
}

func (m *mockCandidateRepo) GetLatestByPair(_ context.Context, a, b uuid.UUID) (*models.DuplicateCandidate, error) {
	first, second := models.NormalizePair(a, b)
	var latest *models.DuplicateCandidate
	for _, c := range m.candidates {
		if c.EntityIDA != first || c.EntityIDB != second {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			latest = c
		}
	}
	return latest, nil
}

func (m *mockCandidateRepo) List(_ context.Context, filter repositories.CandidateListFilter) ([]*models.DuplicateCandidate, error) {
	var out []*models.DuplicateCandidate
	for _, c := range m.candidates {
		if filter.Status != nil && c.Status != *filter.Status {
			continue
		}
		if filter.Kind != nil && c.Kind != *filter.Kind {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *mockCandidateRepo) StatusCounts(_ context.Context, kind *models.EntityKind) (map[models.CandidateStatus]int, error) {
	counts := make(map[models.CandidateStatus]int)
	for _, c := range m.candidates {
		if kind != nil && c.Kind != *kind {
			continue
		}
		counts[c.Status]++
	}
	return counts, nil
}

func (m *mockCandidateRepo) ResolveCAS(_ context.Context, id uuid.UUID, status models.CandidateStatus, resolvedBy string, notes *string) (bool, error) {
	if m.resolveErr != nil {
		return false, m.resolveErr
	}
	c, ok := m.candidates[id]
	if !ok || c.Status != models.CandidateStatusPending {
		return false, nil
	}
	now := time.Now()
	c.Status = status
	c.ResolvedBy = &resolvedBy
	c.ResolvedAt = &now
	c.ResolutionNotes = notes
	return true, nil
}

func (m *mockCandidateRepo) ListPendingPairs(_ context.Context, kind models.EntityKind) (map[[2]uuid.UUID]struct{}, error) {
	out := make(map[[2]uuid.UUID]struct{})
	for _, c := range m.candidates {
		if c.Kind == kind && c.Status == models.CandidateStatusPending {
			out[[2]uuid.UUID{c.EntityIDA, c.EntityIDB}] = struct{}{}
		}
	}
	return out, nil
}

// mockRelationshipRepo implements repositories.RelationshipRepository.
type mockRelationshipRepo struct {
	counts        map[uuid.UUID]int
	repointResult *repositories.RepointResult
	repointErr    error
	repointCalls  [][2]uuid.UUID
}

func newMockRelationshipRepo() *mockRelationshipRepo {
	return &mockRelationshipRepo{
		counts:        make(map[uuid.UUID]int),
		repointResult: &repositories.RepointResult{},
	}
}

func (m *mockRelationshipRepo) CountByEntity(_ context.Context, entityID uuid.UUID) (int, error) {
	return m.counts[entityID], nil
}

func (m *mockRelationshipRepo) RepointAll(_ context.Context, loserID, winnerID uuid.UUID) (*repositories.RepointResult, error) {
	m.repointCalls = append(m.repointCalls, [2]uuid.UUID{loserID, winnerID})
	if m.repointErr != nil {
		return nil, m.repointErr
	}
	return m.repointResult, nil
}

// mockAuditRepo implements repositories.AuditRepository.
type mockAuditRepo struct {
	entries []*models.MergeAuditEntry
}

func (m *mockAuditRepo) Create(_ context.Context, entry *models.MergeAuditEntry) error {
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockAuditRepo) CreateBatch(_ context.Context, entries []*models.MergeAuditEntry) error {
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *mockAuditRepo) GetByEntity(_ context.Context, entityID uuid.UUID, limit int) ([]*models.MergeAuditEntry, error) {
	var out []*models.MergeAuditEntry
	for _, e := range m.entries {
		if e.EntityID == entityID {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockAuditRepo) byField(field string) []*models.MergeAuditEntry {
	var out []*models.MergeAuditEntry
	for _, e := range m.entries {
		if e.Field == field {
			out = append(out, e)
		}
	}
	return out
}

// mockClusterRepo implements repositories.ClusterRepository.
type mockClusterRepo struct {
	clusters        map[uuid.UUID]*models.Cluster
	classifications map[uuid.UUID]map[uuid.UUID]string
	entityRepo      *mockEntityRepo
	linked          map[uuid.UUID][]uuid.UUID
}

func newMockClusterRepo(entityRepo *mockEntityRepo, clusters ...*models.Cluster) *mockClusterRepo {
	m := &mockClusterRepo{
		clusters:   make(map[uuid.UUID]*models.Cluster),
		entityRepo: entityRepo,
		linked:     make(map[uuid.UUID][]uuid.UUID),
	}
	for _, c := range clusters {
		m.clusters[c.ID] = c
	}
	return m
}

func (m *mockClusterRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Cluster, error) {
	c, ok := m.clusters[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return c, nil
}

func (m *mockClusterRepo) List(_ context.Context, status *models.ClusterStatus) ([]*models.Cluster, error) {
	var out []*models.Cluster
	for _, c := range m.clusters {
		if status != nil && c.Status != *status {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *mockClusterRepo) UpdateStatusCAS(_ context.Context, id uuid.UUID, status models.ClusterStatus, reviewedBy string) (bool, error) {
	c, ok := m.clusters[id]
	if !ok || c.Status != models.ClusterStatusPending {
		return false, nil
	}
	now := time.Now()
	c.Status = status
	c.ReviewedBy = &reviewedBy
	c.ReviewedAt = &now
	return true, nil
}

func (m *mockClusterRepo) UpdateConsistency(_ context.Context, id uuid.UUID, dominant string, score float64) error {
	c := m.clusters[id]
	c.DominantClassification = dominant
	c.ConsistencyScore = score
	return nil
}

func (m *mockClusterRepo) MemberClassifications(_ context.Context, id uuid.UUID) (map[uuid.UUID]string, error) {
	out := make(map[uuid.UUID]string)
	for _, placeID := range m.clusters[id].MemberPlaceIDs {
		e, ok := m.entityRepo.entities[placeID]
		if !ok {
			continue
		}
		classification, _ := e.Attributes["classification"].(string)
		out[placeID] = classification
	}
	return out, nil
}

func (m *mockClusterRepo) LinkMembersToColony(_ context.Context, id uuid.UUID, colonyID uuid.UUID) (int, error) {
	linked := 0
	for _, placeID := range m.clusters[id].MemberPlaceIDs {
		already := false
		for _, existing := range m.linked[colonyID] {
			if existing == placeID {
				already = true
				break
			}
		}
		if !already {
			m.linked[colonyID] = append(m.linked[colonyID], placeID)
			linked++
		}
	}
	return linked, nil
}

var (
	_ repositories.EntityRepository       = (*mockEntityRepo)(nil)
	_ repositories.IdentifierRepository   = (*mockIdentifierRepo)(nil)
	_ repositories.CandidateRepository    = (*mockCandidateRepo)(nil)
	_ repositories.RelationshipRepository = (*mockRelationshipRepo)(nil)
	_ repositories.AuditRepository        = (*mockAuditRepo)(nil)
	_ repositories.ClusterRepository      = (*mockClusterRepo)(nil)
)
