package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Cluster Status
// ============================================================================

// ClusterStatus represents the review state of a spatial place cluster.
type ClusterStatus string

const (
	ClusterStatusPending  ClusterStatus = "pending"
	ClusterStatusReviewed ClusterStatus = "reviewed"
	ClusterStatusMerged   ClusterStatus = "merged"
)

// ValidClusterStatuses contains all valid cluster status values.
var ValidClusterStatuses = []ClusterStatus{
	ClusterStatusPending,
	ClusterStatusReviewed,
	ClusterStatusMerged,
}

// IsValidClusterStatus checks if the given status is valid.
func IsValidClusterStatus(s ClusterStatus) bool {
	for _, v := range ValidClusterStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// ============================================================================
// Cluster Action
// ============================================================================

// ClusterAction is a staff decision on a pending cluster. Unlike entity
// merges, cluster actions are reversible bulk attribute writes; member
// places remain distinct entities.
type ClusterAction string

const (
	ClusterActionReconcile ClusterAction = "reconcile"
	ClusterActionMerge     ClusterAction = "merge"
	ClusterActionDismiss   ClusterAction = "dismiss"
)

// ValidClusterActions contains all valid cluster action values.
var ValidClusterActions = []ClusterAction{
	ClusterActionReconcile,
	ClusterActionMerge,
	ClusterActionDismiss,
}

// IsValidClusterAction checks if the given action is valid.
func IsValidClusterAction(a ClusterAction) bool {
	for _, v := range ValidClusterActions {
		if v == a {
			return true
		}
	}
	return false
}

// ============================================================================
// Cluster
// ============================================================================

// Cluster is a spatially-grouped set of place entities produced by an
// external grouping job. ConsistencyScore is the fraction of members sharing
// the dominant classification.
type Cluster struct {
	ID                     uuid.UUID     `json:"id"`
	MemberPlaceIDs         []uuid.UUID   `json:"member_place_ids"`
	DominantClassification string        `json:"dominant_classification"`
	ConsistencyScore       float64       `json:"consistency_score"`
	Status                 ClusterStatus `json:"status"`
	CreatedAt              time.Time     `json:"created_at"`
	ReviewedAt             *time.Time    `json:"reviewed_at,omitempty"`
	ReviewedBy             *string       `json:"reviewed_by,omitempty"`
}
