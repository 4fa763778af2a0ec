package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit entity types.
const (
	AuditEntityTypeEntity       = "entity"
	AuditEntityTypeRelationship = "relationship"
	AuditEntityTypeCandidate    = "candidate"
	AuditEntityTypeCluster      = "cluster"
)

// Audit edit sources.
const (
	AuditSourceMerge     = "merge"
	AuditSourceReconcile = "reconcile"
	AuditSourceAdmin     = "admin"
)

// Audit field name for the top-level merge summary entry.
const AuditFieldMergeSummary = "merge_summary"

// MergeAuditEntry is one immutable row of merge/field history. Entries are
// never updated or deleted. One merge yields one entry per changed field or
// repointed relationship plus one top-level summary entry.
type MergeAuditEntry struct {
	ID         uuid.UUID `json:"id"`
	EntityType string    `json:"entity_type"`
	EntityID   uuid.UUID `json:"entity_id"`
	Field      string    `json:"field"`
	OldValue   *string   `json:"old_value,omitempty"`
	NewValue   *string   `json:"new_value,omitempty"`
	EditedBy   string    `json:"edited_by"`
	EditSource string    `json:"edit_source"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// MergeSummary is the payload of the top-level merge summary audit entry,
// stored JSON-encoded in NewValue.
type MergeSummary struct {
	LoserID     uuid.UUID  `json:"loser_id"`
	WinnerID    uuid.UUID  `json:"winner_id"`
	InitiatedBy string     `json:"initiated_by"`
	CandidateID *uuid.UUID `json:"candidate_id,omitempty"`
	Repointed   int        `json:"relationships_repointed"`
	Collapsed   int        `json:"relationships_collapsed"`
}
