package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Match Types
// ============================================================================

// MatchType records which signal produced a duplicate candidate.
type MatchType string

const (
	MatchTypeExactIdentifier MatchType = "exact_identifier"
	MatchTypeFuzzyName       MatchType = "fuzzy_name"
	MatchTypeSharedAddress   MatchType = "shared_address"
	MatchTypeAISuggested     MatchType = "ai_suggested"
)

// ValidMatchTypes contains all valid match type values.
var ValidMatchTypes = []MatchType{
	MatchTypeExactIdentifier,
	MatchTypeFuzzyName,
	MatchTypeSharedAddress,
	MatchTypeAISuggested,
}

// IsValidMatchType checks if the given match type is valid.
func IsValidMatchType(m MatchType) bool {
	for _, v := range ValidMatchTypes {
		if v == m {
			return true
		}
	}
	return false
}

// ============================================================================
// Candidate Status
// ============================================================================

// CandidateStatus represents the review state of a duplicate candidate.
// Candidates only ever move from pending to a terminal status; they are
// never deleted.
type CandidateStatus string

const (
	CandidateStatusPending      CandidateStatus = "pending"
	CandidateStatusMerged       CandidateStatus = "merged"
	CandidateStatusKeptSeparate CandidateStatus = "kept_separate"
	CandidateStatusDismissed    CandidateStatus = "dismissed"
)

// ValidCandidateStatuses contains all valid candidate status values.
var ValidCandidateStatuses = []CandidateStatus{
	CandidateStatusPending,
	CandidateStatusMerged,
	CandidateStatusKeptSeparate,
	CandidateStatusDismissed,
}

// IsValidCandidateStatus checks if the given status is valid.
func IsValidCandidateStatus(s CandidateStatus) bool {
	for _, v := range ValidCandidateStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// ============================================================================
// Resolution Action
// ============================================================================

// ResolutionAction is a staff decision on a pending candidate.
type ResolutionAction string

const (
	ResolutionActionMerge        ResolutionAction = "merge"
	ResolutionActionKeepSeparate ResolutionAction = "keep_separate"
	ResolutionActionDismiss      ResolutionAction = "dismiss"
)

// ValidResolutionActions contains all valid resolution action values.
var ValidResolutionActions = []ResolutionAction{
	ResolutionActionMerge,
	ResolutionActionKeepSeparate,
	ResolutionActionDismiss,
}

// IsValidResolutionAction checks if the given action is valid.
func IsValidResolutionAction(a ResolutionAction) bool {
	for _, v := range ValidResolutionActions {
		if v == a {
			return true
		}
	}
	return false
}

// TerminalStatus returns the candidate status a resolution action produces.
func (a ResolutionAction) TerminalStatus() CandidateStatus {
	switch a {
	case ResolutionActionMerge:
		return CandidateStatusMerged
	case ResolutionActionKeepSeparate:
		return CandidateStatusKeptSeparate
	case ResolutionActionDismiss:
		return CandidateStatusDismissed
	}
	return ""
}

// ============================================================================
// Duplicate Candidate
// ============================================================================

// DuplicateCandidate is a proposed duplicate pair awaiting human resolution.
// The pair is unordered: EntityIDA and EntityIDB are stored normalized
// (lower uuid first) so at most one unresolved candidate can exist per pair.
type DuplicateCandidate struct {
	ID                uuid.UUID       `json:"id"`
	EntityIDA         uuid.UUID       `json:"entity_id_a"`
	EntityIDB         uuid.UUID       `json:"entity_id_b"`
	Kind              EntityKind      `json:"kind"`
	MatchType         MatchType       `json:"match_type"`
	SimilarityScore   float64         `json:"similarity_score"`
	MatchedIdentifier *string         `json:"matched_identifier,omitempty"`
	Status            CandidateStatus `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	ResolvedBy        *string         `json:"resolved_by,omitempty"`
	ResolvedAt        *time.Time      `json:"resolved_at,omitempty"`
	ResolutionNotes   *string         `json:"resolution_notes,omitempty"`
}

// NormalizePair returns the unordered pair (a, b) in storage order,
// lower uuid first.
func NormalizePair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if b.String() < a.String() {
		return b, a
	}
	return a, b
}

// CandidateContext is the denormalized decision context the review queue
// attaches to each candidate so staff can adjudicate without chasing
// references.
type CandidateContext struct {
	Candidate          *DuplicateCandidate `json:"candidate"`
	EntityA            *Entity             `json:"entity_a"`
	EntityB            *Entity             `json:"entity_b"`
	IdentifiersA       []*Identifier       `json:"identifiers_a"`
	IdentifiersB       []*Identifier       `json:"identifiers_b"`
	RelationshipCountA int                 `json:"relationship_count_a"`
	RelationshipCountB int                 `json:"relationship_count_b"`
	SharedAddress      bool                `json:"shared_address"`
}
