package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/felineworks/resolve-engine/pkg/database"
	"github.com/felineworks/resolve-engine/pkg/models"
)

// AuditRepository provides append-only access to the merge/field history.
// There is deliberately no update or delete path.
type AuditRepository interface {
	Create(ctx context.Context, entry *models.MergeAuditEntry) error
	// CreateBatch appends several entries in one round trip, preserving
	// order. Used by the merge executor, which emits one entry per changed
	// field or relationship plus a summary.
	CreateBatch(ctx context.Context, entries []*models.MergeAuditEntry) error
	GetByEntity(ctx context.Context, entityID uuid.UUID, limit int) ([]*models.MergeAuditEntry, error)
}

type auditRepository struct{}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository() AuditRepository {
	return &auditRepository{}
}

var _ AuditRepository = (*auditRepository)(nil)

const auditInsert = `
	INSERT INTO resolve_audit_log (
		id, entity_type, entity_id, field, old_value, new_value,
		edited_by, edit_source, reason, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

func (r *auditRepository) Create(ctx context.Context, entry *models.MergeAuditEntry) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	prepareAuditEntry(entry)
	_, err := scope.Conn.Exec(ctx, auditInsert,
		entry.ID, entry.EntityType, entry.EntityID, entry.Field,
		entry.OldValue, entry.NewValue, entry.EditedBy, entry.EditSource,
		entry.Reason, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}
	return nil
}

func (r *auditRepository) CreateBatch(ctx context.Context, entries []*models.MergeAuditEntry) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	batch := &pgx.Batch{}
	for _, entry := range entries {
		prepareAuditEntry(entry)
		batch.Queue(auditInsert,
			entry.ID, entry.EntityType, entry.EntityID, entry.Field,
			entry.OldValue, entry.NewValue, entry.EditedBy, entry.EditSource,
			entry.Reason, entry.CreatedAt,
		)
	}

	results := scope.Conn.SendBatch(ctx, batch)
	defer results.Close()

	for range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to create audit entries: %w", err)
		}
	}
	return nil
}

func (r *auditRepository) GetByEntity(ctx context.Context, entityID uuid.UUID, limit int) ([]*models.MergeAuditEntry, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, entity_type, entity_id, field, old_value, new_value,
		       edited_by, edit_source, reason, created_at
		FROM resolve_audit_log
		WHERE entity_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := scope.Conn.Query(ctx, query, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.MergeAuditEntry
	for rows.Next() {
		var e models.MergeAuditEntry
		err := rows.Scan(
			&e.ID, &e.EntityType, &e.EntityID, &e.Field, &e.OldValue, &e.NewValue,
			&e.EditedBy, &e.EditSource, &e.Reason, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}
	return entries, nil
}

func prepareAuditEntry(entry *models.MergeAuditEntry) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
}
