package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/felineworks/resolve-engine/pkg/apperrors"
	"github.com/felineworks/resolve-engine/pkg/database"
	"github.com/felineworks/resolve-engine/pkg/models"
	"github.com/felineworks/resolve-engine/pkg/repositories"
)

// ClusterActionRequest is one staff decision on a pending place cluster.
type ClusterActionRequest struct {
	Action models.ClusterAction
	// Classification is required for reconcile.
	Classification *string
	// ColonyID is required for merge.
	ColonyID *uuid.UUID
	// ReviewedBy is the acting staff member.
	ReviewedBy string
}

// ClusterActionResult reports an applied cluster action.
type ClusterActionResult struct {
	Cluster        *models.Cluster `json:"cluster"`
	MembersUpdated int             `json:"members_updated"`
	LinksCreated   int             `json:"links_created"`
}

// ClusterService is the reconciler over spatially-grouped place clusters.
// Cluster actions are bulk attribute writes over member places; member
// places always remain distinct entities, nothing here collapses identity.
type ClusterService interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Cluster, error)
	List(ctx context.Context, status *models.ClusterStatus) ([]*models.Cluster, error)
	// Apply applies one terminal action to a pending cluster. Exactly one
	// concurrent caller can win the status swap; the rest get an
	// AlreadyResolvedError. The action and the swap share one transaction.
	Apply(ctx context.Context, id uuid.UUID, req *ClusterActionRequest) (*ClusterActionResult, error)
}

type clusterService struct {
	clusterRepo repositories.ClusterRepository
	entityRepo  repositories.EntityRepository
	auditRepo   repositories.AuditRepository
	logger      *zap.Logger
}

// ClusterServiceDeps contains dependencies for the cluster reconciler.
type ClusterServiceDeps struct {
	ClusterRepo repositories.ClusterRepository
	EntityRepo  repositories.EntityRepository
	AuditRepo   repositories.AuditRepository
	Logger      *zap.Logger
}

// NewClusterService creates a new ClusterService.
func NewClusterService(deps *ClusterServiceDeps) ClusterService {
	return &clusterService{
		clusterRepo: deps.ClusterRepo,
		entityRepo:  deps.EntityRepo,
		auditRepo:   deps.AuditRepo,
		logger:      deps.Logger.Named("cluster"),
	}
}

var _ ClusterService = (*clusterService)(nil)

func (s *clusterService) Get(ctx context.Context, id uuid.UUID) (*models.Cluster, error) {
	return s.clusterRepo.GetByID(ctx, id)
}

func (s *clusterService) List(ctx context.Context, status *models.ClusterStatus) ([]*models.Cluster, error) {
	return s.clusterRepo.List(ctx, status)
}

func (s *clusterService) Apply(ctx context.Context, id uuid.UUID, req *ClusterActionRequest) (*ClusterActionResult, error) {
	if err := validateClusterAction(req); err != nil {
		return nil, err
	}

	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	var result *ClusterActionResult
	err := scope.WithinTx(ctx, func(ctx context.Context) error {
		var txErr error
		result, txErr = s.apply(ctx, id, req)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Cluster action applied",
		zap.String("cluster_id", id.String()),
		zap.String("action", string(req.Action)),
		zap.String("reviewed_by", req.ReviewedBy),
		zap.Int("members_updated", result.MembersUpdated),
		zap.Int("links_created", result.LinksCreated))
	return result, nil
}

func validateClusterAction(req *ClusterActionRequest) error {
	if !models.IsValidClusterAction(req.Action) {
		return apperrors.NewValidationError("action", fmt.Sprintf("invalid action: %s", req.Action))
	}
	if req.ReviewedBy == "" {
		return apperrors.NewValidationError("reviewed_by", "reviewed_by is required")
	}
	switch req.Action {
	case models.ClusterActionReconcile:
		if req.Classification == nil || *req.Classification == "" {
			return apperrors.NewValidationError("classification", "classification is required for reconcile")
		}
	case models.ClusterActionMerge:
		if req.ColonyID == nil || *req.ColonyID == uuid.Nil {
			return apperrors.NewValidationError("colony_id", "colony_id is required for merge")
		}
	}
	return nil
}

// apply runs inside the action transaction. The status swap goes first so a
// lost race never performs the bulk write; a later failure rolls the swap
// back with everything else.
func (s *clusterService) apply(ctx context.Context, id uuid.UUID, req *ClusterActionRequest) (*ClusterActionResult, error) {
	cluster, err := s.clusterRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	swapped, err := s.clusterRepo.UpdateStatusCAS(ctx, id, terminalClusterStatus(req.Action), req.ReviewedBy)
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, &apperrors.AlreadyResolvedError{Subject: "cluster", CandidateID: cluster.ID, Status: string(cluster.Status)}
	}

	result := &ClusterActionResult{}
	switch req.Action {
	case models.ClusterActionReconcile:
		result.MembersUpdated, err = s.reconcile(ctx, cluster, *req.Classification, req.ReviewedBy)
	case models.ClusterActionMerge:
		result.LinksCreated, err = s.mergeIntoColony(ctx, cluster, *req.ColonyID, req.ReviewedBy)
	case models.ClusterActionDismiss:
		// Reviewed, nothing else changes.
	}
	if err != nil {
		return nil, err
	}

	result.Cluster, err = s.clusterRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func terminalClusterStatus(action models.ClusterAction) models.ClusterStatus {
	if action == models.ClusterActionMerge {
		return models.ClusterStatusMerged
	}
	return models.ClusterStatusReviewed
}

// reconcile bulk-sets the classification attribute on every member place,
// audits each change, and recomputes the cluster's consistency from what is
// actually stored afterwards.
func (s *clusterService) reconcile(ctx context.Context, cluster *models.Cluster, classification, reviewedBy string) (int, error) {
	before, err := s.clusterRepo.MemberClassifications(ctx, cluster.ID)
	if err != nil {
		return 0, err
	}

	updated, err := s.entityRepo.SetMemberClassification(ctx, cluster.MemberPlaceIDs, classification)
	if err != nil {
		return 0, err
	}

	var entries []*models.MergeAuditEntry
	for _, placeID := range cluster.MemberPlaceIDs {
		old, known := before[placeID]
		if !known || old == classification {
			continue
		}
		entry := &models.MergeAuditEntry{
			EntityType: models.AuditEntityTypeEntity,
			EntityID:   placeID,
			Field:      "classification",
			NewValue:   &classification,
			EditedBy:   reviewedBy,
			EditSource: models.AuditSourceReconcile,
			Reason:     fmt.Sprintf("cluster %s reconciled", cluster.ID),
		}
		if old != "" {
			entry.OldValue = &old
		}
		entries = append(entries, entry)
	}
	if len(entries) > 0 {
		if err := s.auditRepo.CreateBatch(ctx, entries); err != nil {
			return 0, err
		}
	}

	dominant, score, err := s.computeConsistency(ctx, cluster.ID)
	if err != nil {
		return 0, err
	}
	if err := s.clusterRepo.UpdateConsistency(ctx, cluster.ID, dominant, score); err != nil {
		return 0, err
	}
	return updated, nil
}

func (s *clusterService) mergeIntoColony(ctx context.Context, cluster *models.Cluster, colonyID uuid.UUID, reviewedBy string) (int, error) {
	linked, err := s.clusterRepo.LinkMembersToColony(ctx, cluster.ID, colonyID)
	if err != nil {
		return 0, err
	}

	colonyStr := colonyID.String()
	err = s.auditRepo.Create(ctx, &models.MergeAuditEntry{
		EntityType: models.AuditEntityTypeCluster,
		EntityID:   cluster.ID,
		Field:      "colony_id",
		NewValue:   &colonyStr,
		EditedBy:   reviewedBy,
		EditSource: models.AuditSourceReconcile,
		Reason:     fmt.Sprintf("cluster merged into colony, %d member places linked", linked),
	})
	if err != nil {
		return 0, err
	}
	return linked, nil
}

// computeConsistency derives the dominant classification and the fraction of
// members holding it. Unclassified members count against consistency.
func (s *clusterService) computeConsistency(ctx context.Context, clusterID uuid.UUID) (string, float64, error) {
	classifications, err := s.clusterRepo.MemberClassifications(ctx, clusterID)
	if err != nil {
		return "", 0, err
	}
	if len(classifications) == 0 {
		return "", 0, nil
	}

	counts := make(map[string]int)
	for _, c := range classifications {
		if c != "" {
			counts[c]++
		}
	}
	dominant, best := "", 0
	for c, n := range counts {
		if n > best || (n == best && c < dominant) {
			dominant, best = c, n
		}
	}
	return dominant, float64(best) / float64(len(classifications)), nil
}
