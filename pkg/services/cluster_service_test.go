package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/felineworks/resolve-engine/pkg/apperrors"
	"github.com/felineworks/resolve-engine/pkg/models"
)

type clusterFixture struct {
	entityRepo  *mockEntityRepo
	clusterRepo *mockClusterRepo
	auditRepo   *mockAuditRepo
	service     ClusterService
}

func newClusterFixture(entities ...*models.Entity) *clusterFixture {
	f := &clusterFixture{
		entityRepo: newMockEntityRepo(entities...),
		auditRepo:  &mockAuditRepo{},
	}
	f.clusterRepo = newMockClusterRepo(f.entityRepo)
	f.service = NewClusterService(&ClusterServiceDeps{
		ClusterRepo: f.clusterRepo,
		EntityRepo:  f.entityRepo,
		AuditRepo:   f.auditRepo,
		Logger:      zap.NewNop(),
	})
	return f
}

func (f *clusterFixture) addCluster(status models.ClusterStatus, memberIDs ...uuid.UUID) *models.Cluster {
	c := &models.Cluster{
		ID:             uuid.New(),
		MemberPlaceIDs: memberIDs,
		Status:         status,
		CreatedAt:      time.Now(),
	}
	f.clusterRepo.clusters[c.ID] = c
	return c
}

func place(classification string) *models.Entity {
	e := &models.Entity{ID: uuid.New(), Kind: models.EntityKindPlace, DisplayName: "123 Main St"}
	if classification != "" {
		e.Attributes = map[string]any{"classification": classification}
	}
	return e
}

func strPtr(s string) *string { return &s }

func TestClusterApplyRejectsInvalidAction(t *testing.T) {
	f := newClusterFixture()
	_, err := f.service.Apply(scopedContext(), uuid.New(), &ClusterActionRequest{
		Action: models.ClusterAction("annex"), ReviewedBy: "staff",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestClusterApplyRequiresReviewedBy(t *testing.T) {
	f := newClusterFixture()
	_, err := f.service.Apply(scopedContext(), uuid.New(), &ClusterActionRequest{
		Action: models.ClusterActionDismiss,
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestClusterReconcileRequiresClassification(t *testing.T) {
	f := newClusterFixture()
	_, err := f.service.Apply(scopedContext(), uuid.New(), &ClusterActionRequest{
		Action: models.ClusterActionReconcile, ReviewedBy: "staff",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestClusterMergeRequiresColonyID(t *testing.T) {
	f := newClusterFixture()
	_, err := f.service.Apply(scopedContext(), uuid.New(), &ClusterActionRequest{
		Action: models.ClusterActionMerge, ReviewedBy: "staff",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestClusterApplyUnknownCluster(t *testing.T) {
	f := newClusterFixture()
	_, err := f.service.Apply(scopedContext(), uuid.New(), &ClusterActionRequest{
		Action: models.ClusterActionDismiss, ReviewedBy: "staff",
	})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestClusterReconcileUpdatesMembersAndConsistency(t *testing.T) {
	colony := place("colony")
	feeding := place("feeding_station")
	unclassified := place("")
	f := newClusterFixture(colony, feeding, unclassified)
	cluster := f.addCluster(models.ClusterStatusPending, colony.ID, feeding.ID, unclassified.ID)

	result, err := f.service.Apply(scopedContext(), cluster.ID, &ClusterActionRequest{
		Action:         models.ClusterActionReconcile,
		Classification: strPtr("colony"),
		ReviewedBy:     "staff",
	})
	require.NoError(t, err)

	// The member already classified as colony was untouched.
	assert.Equal(t, 2, result.MembersUpdated)
	assert.Equal(t, "colony", feeding.Attributes["classification"])
	assert.Equal(t, "colony", unclassified.Attributes["classification"])

	assert.Equal(t, models.ClusterStatusReviewed, result.Cluster.Status)
	require.NotNil(t, result.Cluster.ReviewedBy)
	assert.Equal(t, "staff", *result.Cluster.ReviewedBy)

	// Consistency recomputed from what the members actually hold now.
	assert.Equal(t, "colony", result.Cluster.DominantClassification)
	assert.InDelta(t, 1.0, result.Cluster.ConsistencyScore, 0.0001)

	// One audit entry per changed member, none for the unchanged one.
	changed := f.auditRepo.byField("classification")
	require.Len(t, changed, 2)
	for _, entry := range changed {
		assert.Equal(t, models.AuditSourceReconcile, entry.EditSource)
		assert.Equal(t, "staff", entry.EditedBy)
		require.NotNil(t, entry.NewValue)
		assert.Equal(t, "colony", *entry.NewValue)
	}
	prior := f.auditRepo.entries
	for _, entry := range prior {
		if entry.EntityID == feeding.ID {
			require.NotNil(t, entry.OldValue)
			assert.Equal(t, "feeding_station", *entry.OldValue)
		}
		if entry.EntityID == unclassified.ID {
			assert.Nil(t, entry.OldValue)
		}
	}
}

func TestClusterReconcileSkipsMissingMembers(t *testing.T) {
	a := place("colony")
	b := place("colony")
	f := newClusterFixture(a, b)
	// One member place was deleted out from under the cluster. The action
	// still succeeds over the members that remain.
	cluster := f.addCluster(models.ClusterStatusPending, a.ID, b.ID, uuid.New())

	result, err := f.service.Apply(scopedContext(), cluster.ID, &ClusterActionRequest{
		Action:         models.ClusterActionReconcile,
		Classification: strPtr("colony"),
		ReviewedBy:     "staff",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.MembersUpdated)
	assert.InDelta(t, 1.0, result.Cluster.ConsistencyScore, 0.0001)
	assert.Empty(t, f.auditRepo.entries)
}

func TestClusterMergeLinksMembersToColony(t *testing.T) {
	a := place("colony")
	b := place("colony")
	f := newClusterFixture(a, b)
	cluster := f.addCluster(models.ClusterStatusPending, a.ID, b.ID)
	colonyID := uuid.New()

	result, err := f.service.Apply(scopedContext(), cluster.ID, &ClusterActionRequest{
		Action:     models.ClusterActionMerge,
		ColonyID:   &colonyID,
		ReviewedBy: "staff",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.LinksCreated)
	assert.Equal(t, models.ClusterStatusMerged, result.Cluster.Status)
	assert.ElementsMatch(t, []uuid.UUID{a.ID, b.ID}, f.clusterRepo.linked[colonyID])

	// Member places stay distinct entities.
	assert.Nil(t, a.MergedIntoEntityID)
	assert.Nil(t, b.MergedIntoEntityID)

	entries := f.auditRepo.byField("colony_id")
	require.Len(t, entries, 1)
	assert.Equal(t, cluster.ID, entries[0].EntityID)
	assert.Equal(t, models.AuditEntityTypeCluster, entries[0].EntityType)
	require.NotNil(t, entries[0].NewValue)
	assert.Equal(t, colonyID.String(), *entries[0].NewValue)
}

func TestClusterDismissOnlyFlipsStatus(t *testing.T) {
	a := place("feeding_station")
	f := newClusterFixture(a)
	cluster := f.addCluster(models.ClusterStatusPending, a.ID)

	result, err := f.service.Apply(scopedContext(), cluster.ID, &ClusterActionRequest{
		Action:     models.ClusterActionDismiss,
		ReviewedBy: "staff",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ClusterStatusReviewed, result.Cluster.Status)
	assert.Equal(t, 0, result.MembersUpdated)
	assert.Equal(t, 0, result.LinksCreated)
	assert.Equal(t, "feeding_station", a.Attributes["classification"])
	assert.Empty(t, f.auditRepo.entries)
}

func TestClusterApplyExactlyOnce(t *testing.T) {
	a := place("colony")
	f := newClusterFixture(a)
	cluster := f.addCluster(models.ClusterStatusPending, a.ID)

	_, err := f.service.Apply(scopedContext(), cluster.ID, &ClusterActionRequest{
		Action: models.ClusterActionDismiss, ReviewedBy: "first",
	})
	require.NoError(t, err)

	_, err = f.service.Apply(scopedContext(), cluster.ID, &ClusterActionRequest{
		Action:         models.ClusterActionReconcile,
		Classification: strPtr("colony"),
		ReviewedBy:     "second",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsAlreadyResolved(err))
	assert.Equal(t, "first", *cluster.ReviewedBy)
	// The losing action never wrote anything.
	assert.Empty(t, f.auditRepo.entries)
}
