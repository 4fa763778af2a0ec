package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/felineworks/resolve-engine/pkg/apperrors"
	"github.com/felineworks/resolve-engine/pkg/database"
	"github.com/felineworks/resolve-engine/pkg/models"
	"github.com/felineworks/resolve-engine/pkg/repositories"
)

type mergeFixture struct {
	entityRepo       *mockEntityRepo
	identifierRepo   *mockIdentifierRepo
	relationshipRepo *mockRelationshipRepo
	candidateRepo    *mockCandidateRepo
	auditRepo        *mockAuditRepo
	service          MergeService
}

func newMergeFixture(entities ...*models.Entity) *mergeFixture {
	f := &mergeFixture{
		entityRepo:       newMockEntityRepo(entities...),
		identifierRepo:   newMockIdentifierRepo(),
		relationshipRepo: newMockRelationshipRepo(),
		candidateRepo:    newMockCandidateRepo(),
		auditRepo:        &mockAuditRepo{},
	}
	f.service = NewMergeService(&MergeServiceDeps{
		EntityRepo:       f.entityRepo,
		IdentifierRepo:   f.identifierRepo,
		RelationshipRepo: f.relationshipRepo,
		CandidateRepo:    f.candidateRepo,
		AuditRepo:        f.auditRepo,
		Resolver:         NewCanonicalResolver(f.entityRepo),
		Logger:           zap.NewNop(),
	})
	return f
}

func scopedContext() context.Context {
	return database.SetScope(context.Background(), &database.Scope{})
}

func TestMergeRejectsSelfPair(t *testing.T) {
	id := uuid.New()
	f := newMergeFixture(&models.Entity{ID: id, Kind: models.EntityKindPerson})

	_, err := f.service.Merge(scopedContext(), &MergeRequest{
		EntityIDA: id, EntityIDB: id, InitiatedBy: "staff",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestMergeRequiresInitiatedBy(t *testing.T) {
	f := newMergeFixture()

	_, err := f.service.Merge(scopedContext(), &MergeRequest{
		EntityIDA: uuid.New(), EntityIDB: uuid.New(),
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestMergeRejectsKindMismatch(t *testing.T) {
	person := &models.Entity{ID: uuid.New(), Kind: models.EntityKindPerson, DisplayName: "Mary"}
	place := &models.Entity{ID: uuid.New(), Kind: models.EntityKindPlace, DisplayName: "Riverside"}
	f := newMergeFixture(person, place)

	_, err := f.service.Merge(scopedContext(), &MergeRequest{
		EntityIDA: person.ID, EntityIDB: place.ID, InitiatedBy: "staff",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestMergeSelectsMoreCompleteWinner(t *testing.T) {
	rich := &models.Entity{
		ID:          uuid.New(),
		Kind:        models.EntityKindPerson,
		DisplayName: "Mary Smith",
		Attributes:  map[string]any{"city": "Oakland", "notes": "trapper"},
		CreatedAt:   time.Now(),
	}
	sparse := &models.Entity{
		ID:          uuid.New(),
		Kind:        models.EntityKindPerson,
		DisplayName: "M Smith",
		CreatedAt:   time.Now().Add(-time.Hour),
	}
	f := newMergeFixture(rich, sparse)
	f.identifierRepo.add(rich.ID, models.IdentifierTypeEmail, "mary@example.com")
	f.relationshipRepo.counts[rich.ID] = 3

	result, err := f.service.Merge(scopedContext(), &MergeRequest{
		EntityIDA: sparse.ID, EntityIDB: rich.ID, InitiatedBy: "staff",
	})
	require.NoError(t, err)

	assert.Equal(t, MergeStateCommitted, result.State)
	assert.Equal(t, rich.ID, result.WinnerID)
	assert.Equal(t, sparse.ID, result.LoserID)
	require.NotNil(t, sparse.MergedIntoEntityID)
	assert.Equal(t, rich.ID, *sparse.MergedIntoEntityID)
	assert.Nil(t, rich.MergedIntoEntityID)

	require.Len(t, f.relationshipRepo.repointCalls, 1)
	assert.Equal(t, [2]uuid.UUID{sparse.ID, rich.ID}, f.relationshipRepo.repointCalls[0])
}

func TestMergeTieBreaksOnEarlierCreation(t *testing.T) {
	older := &models.Entity{
		ID: uuid.New(), Kind: models.EntityKindPerson, DisplayName: "Mary Smith",
		CreatedAt: time.Now().Add(-48 * time.Hour),
	}
	newer := &models.Entity{
		ID: uuid.New(), Kind: models.EntityKindPerson, DisplayName: "Mary Smith",
		CreatedAt: time.Now(),
	}
	f := newMergeFixture(older, newer)

	result, err := f.service.Merge(scopedContext(), &MergeRequest{
		EntityIDA: newer.ID, EntityIDB: older.ID, InitiatedBy: "staff",
	})
	require.NoError(t, err)
	assert.Equal(t, older.ID, result.WinnerID)
	assert.Equal(t, newer.ID, result.LoserID)
}

func TestMergeIsIdempotentOnMergedPair(t *testing.T) {
	winner := &models.Entity{ID: uuid.New(), Kind: models.EntityKindPerson, DisplayName: "Mary Smith"}
	loser := &models.Entity{ID: uuid.New(), Kind: models.EntityKindPerson, DisplayName: "M Smith", MergedIntoEntityID: &winner.ID}
	f := newMergeFixture(winner, loser)

	// Retrying the merge after it already committed changes nothing.
	result, err := f.service.Merge(scopedContext(), &MergeRequest{
		EntityIDA: loser.ID, EntityIDB: winner.ID, InitiatedBy: "staff",
	})
	require.NoError(t, err)
	assert.Equal(t, MergeStateCommitted, result.State)
	assert.True(t, result.NoOp)
	assert.Equal(t, winner.ID, result.WinnerID)
	assert.Empty(t, f.relationshipRepo.repointCalls)
	assert.Equal(t, 0, f.entityRepo.setMergedCalls)
}

func TestMergeBackfillsEmptyWinnerFields(t *testing.T) {
	winner := &models.Entity{
		ID: uuid.New(), Kind: models.EntityKindPerson, DisplayName: "Mary Smith",
		Attributes: map[string]any{"city": "Oakland"},
		CreatedAt:  time.Now().Add(-time.Hour),
	}
	loser := &models.Entity{
		ID: uuid.New(), Kind: models.EntityKindPerson, DisplayName: "M Smith",
		Attributes: map[string]any{"city": "Berkeley", "phone_note": "evenings only"},
		CreatedAt:  time.Now(),
	}
	f := newMergeFixture(winner, loser)
	f.identifierRepo.add(winner.ID, models.IdentifierTypeEmail, "mary@example.com")

	result, err := f.service.Merge(scopedContext(), &MergeRequest{
		EntityIDA: winner.ID, EntityIDB: loser.ID, InitiatedBy: "staff",
	})
	require.NoError(t, err)
	assert.Equal(t, winner.ID, result.WinnerID)

	// The empty field was filled, the populated one kept.
	assert.Equal(t, "evenings only", winner.Attributes["phone_note"])
	assert.Equal(t, "Oakland", winner.Attributes["city"])
	assert.Equal(t, []string{"phone_note"}, result.FieldsBackfilled)
}

func TestMergeAuditsEveryRepointedRow(t *testing.T) {
	winner := &models.Entity{
		ID: uuid.New(), Kind: models.EntityKindPerson, DisplayName: "Mary Smith",
		Attributes: map[string]any{"city": "Oakland"},
	}
	loser := &models.Entity{ID: uuid.New(), Kind: models.EntityKindPerson, DisplayName: "M Smith"}
	f := newMergeFixture(winner, loser)

	rowIDs := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	f.relationshipRepo.repointResult = &repositories.RepointResult{
		Repointed: 5,
		PerTarget: []repositories.TargetRepointResult{
			{Table: "resolve_appointments", Column: "person_id", Repointed: 3, RowIDs: rowIDs},
			{Table: "resolve_messages", Column: "person_id", Repointed: 2, RowIDs: []uuid.UUID{uuid.New(), uuid.New()}},
		},
	}

	_, err := f.service.Merge(scopedContext(), &MergeRequest{
		EntityIDA: loser.ID, EntityIDB: winner.ID, InitiatedBy: "staff",
	})
	require.NoError(t, err)

	var relationshipEntries int
	for _, e := range f.auditRepo.entries {
		if e.EntityType == models.AuditEntityTypeRelationship {
			relationshipEntries++
			assert.Equal(t, loser.ID.String(), *e.OldValue)
			assert.Equal(t, winner.ID.String(), *e.NewValue)
			assert.Equal(t, models.AuditSourceMerge, e.EditSource)
		}
	}
	assert.Equal(t, 5, relationshipEntries)

	summaries := f.auditRepo.byField(models.AuditFieldMergeSummary)
	require.Len(t, summaries, 1)
	assert.Equal(t, winner.ID, summaries[0].EntityID)
	assert.Contains(t, *summaries[0].NewValue, loser.ID.String())
}

func TestMergeClosesLinkedCandidate(t *testing.T) {
	winner := &models.Entity{ID: uuid.New(), Kind: models.EntityKindPerson, DisplayName: "Mary Smith", Attributes: map[string]any{"city": "Oakland"}}
	loser := &models.Entity{ID: uuid.New(), Kind: models.EntityKindPerson, DisplayName: "M Smith"}
	f := newMergeFixture(winner, loser)

	a, b := models.NormalizePair(loser.ID, winner.ID)
	candidate := &models.DuplicateCandidate{
		ID: uuid.New(), EntityIDA: a, EntityIDB: b,
		Kind: models.EntityKindPerson, Status: models.CandidateStatusPending,
	}
	f.candidateRepo.candidates[candidate.ID] = candidate

	_, err := f.service.Merge(scopedContext(), &MergeRequest{
		EntityIDA: loser.ID, EntityIDB: winner.ID,
		InitiatedBy: "staff", CandidateID: &candidate.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.CandidateStatusMerged, candidate.Status)
	require.NotNil(t, candidate.ResolvedBy)
	assert.Equal(t, "staff", *candidate.ResolvedBy)
}

func TestMergeFailsWhenCandidateAlreadyResolved(t *testing.T) {
	winner := &models.Entity{ID: uuid.New(), Kind: models.EntityKindPerson, DisplayName: "Mary Smith", Attributes: map[string]any{"city": "Oakland"}}
	loser := &models.Entity{ID: uuid.New(), Kind: models.EntityKindPerson, DisplayName: "M Smith"}
	f := newMergeFixture(winner, loser)

	a, b := models.NormalizePair(loser.ID, winner.ID)
	candidate := &models.DuplicateCandidate{
		ID: uuid.New(), EntityIDA: a, EntityIDB: b,
		Kind: models.EntityKindPerson, Status: models.CandidateStatusDismissed,
	}
	f.candidateRepo.candidates[candidate.ID] = candidate

	_, err := f.service.Merge(scopedContext(), &MergeRequest{
		EntityIDA: loser.ID, EntityIDB: winner.ID,
		InitiatedBy: "staff", CandidateID: &candidate.ID,
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsAlreadyResolved(err))
}

func TestMergeAbortsOnRepointConflict(t *testing.T) {
	winner := &models.Entity{ID: uuid.New(), Kind: models.EntityKindPerson, DisplayName: "Mary Smith", Attributes: map[string]any{"city": "Oakland"}}
	loser := &models.Entity{ID: uuid.New(), Kind: models.EntityKindPerson, DisplayName: "M Smith"}
	f := newMergeFixture(winner, loser)
	f.relationshipRepo.repointErr = &apperrors.MergeConflictError{Relationship: "resolve_requests"}

	_, err := f.service.Merge(scopedContext(), &MergeRequest{
		EntityIDA: loser.ID, EntityIDB: winner.ID, InitiatedBy: "staff",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsMergeConflict(err))
	// The loser was never pointed at the winner.
	assert.Nil(t, loser.MergedIntoEntityID)
}

func TestMergeUnknownEntity(t *testing.T) {
	known := &models.Entity{ID: uuid.New(), Kind: models.EntityKindPerson, DisplayName: "Mary Smith"}
	f := newMergeFixture(known)

	_, err := f.service.Merge(scopedContext(), &MergeRequest{
		EntityIDA: known.ID, EntityIDB: uuid.New(), InitiatedBy: "staff",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMergeLocksPairBeforeRepointing(t *testing.T) {
	winner := &models.Entity{ID: uuid.New(), Kind: models.EntityKindPerson, DisplayName: "Mary Smith", Attributes: map[string]any{"city": "Oakland"}}
	loser := &models.Entity{ID: uuid.New(), Kind: models.EntityKindPerson, DisplayName: "M Smith"}
	f := newMergeFixture(winner, loser)

	_, err := f.service.Merge(scopedContext(), &MergeRequest{
		EntityIDA: loser.ID, EntityIDB: winner.ID, InitiatedBy: "staff",
	})
	require.NoError(t, err)
	require.NotEmpty(t, f.entityRepo.lockPairCalls)

	a, b := models.NormalizePair(loser.ID, winner.ID)
	assert.Equal(t, [2]uuid.UUID{a, b}, f.entityRepo.lockPairCalls[0])
}
