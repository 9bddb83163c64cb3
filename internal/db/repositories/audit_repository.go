// audit_repository.go stores the audit trail. Workflow code writes its entry inside
// the same transaction as the change it records; the request middleware writes
// one per mutating API call.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/consortium-members/membership-backend/internal/db/models"
)

const auditColumns = `id, user_id, organization_id, action, resource_type, resource_id, metadata, ip_address, created_at`

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db DBTX
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db DBTX) *AuditRepository {
	return &AuditRepository{db: db}
}

// WithTx returns a repository bound to the given transaction
func (r *AuditRepository) WithTx(tx DBTX) *AuditRepository {
	return &AuditRepository{db: tx}
}

// AuditFilters narrows List. Nil fields are not filtered on.
type AuditFilters struct {
	UserID         *string
	OrganizationID *string
	Action         *string
	ResourceType   *string
	StartDate      *time.Time
	EndDate        *time.Time
}

// clauses renders the filters as an AND-ed WHERE fragment with positional args
func (f AuditFilters) clauses() (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.UserID != nil {
		add("user_id = $%d", *f.UserID)
	}
	if f.OrganizationID != nil {
		add("organization_id = $%d", *f.OrganizationID)
	}
	if f.Action != nil {
		add("action = $%d", *f.Action)
	}
	if f.ResourceType != nil {
		add("resource_type = $%d", *f.ResourceType)
	}
	if f.StartDate != nil {
		add("created_at >= $%d", *f.StartDate)
	}
	if f.EndDate != nil {
		add("created_at <= $%d", *f.EndDate)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanAuditLog(row interface{ Scan(...interface{}) error }) (*models.AuditLog, error) {
	entry := &models.AuditLog{}
	var metadata []byte
	if err := row.Scan(
		&entry.ID,
		&entry.UserID,
		&entry.OrganizationID,
		&entry.Action,
		&entry.ResourceType,
		&entry.ResourceID,
		&metadata,
		&entry.IPAddress,
		&entry.CreatedAt,
	); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode audit metadata for %s: %w", entry.ID, err)
		}
	}
	return entry, nil
}

// Insert assigns an id and timestamp and writes the entry.
func (r *AuditRepository) Insert(ctx context.Context, entry *models.AuditLog) error {
	var metadata interface{}
	if entry.Metadata != nil {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode audit metadata: %w", err)
		}
		metadata = encoded
	}
	entry.ID = uuid.New().String()
	entry.CreatedAt = time.Now()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (`+auditColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.UserID, entry.OrganizationID, entry.Action,
		entry.ResourceType, entry.ResourceID, metadata, entry.IPAddress, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// Record writes a workflow event such as "transfer.completed" against one resource.
func (r *AuditRepository) Record(ctx context.Context, actorID, orgID *string, action, resourceType, resourceID string, metadata map[string]interface{}) error {
	entry := &models.AuditLog{
		UserID:         actorID,
		OrganizationID: orgID,
		Action:         action,
		ResourceType:   &resourceType,
		Metadata:       metadata,
	}
	if resourceID != "" {
		entry.ResourceID = &resourceID
	}
	return r.Insert(ctx, entry)
}

// List returns a newest-first page of entries and the total matching count.
func (r *AuditRepository) List(ctx context.Context, filters AuditFilters, limit, offset int) ([]*models.AuditLog, int, error) {
	where, args := filters.clauses()

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM audit_logs%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		auditColumns, where, len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	entries := make([]*models.AuditLog, 0)
	for rows.Next() {
		entry, err := scanAuditLog(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, entry)
	}
	return entries, total, rows.Err()
}

// GetByID returns one entry, or (nil, nil) when it does not exist.
func (r *AuditRepository) GetByID(ctx context.Context, id string) (*models.AuditLog, error) {
	entry, err := scanAuditLog(r.db.QueryRowContext(ctx,
		`SELECT `+auditColumns+` FROM audit_logs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit log: %w", err)
	}
	return entry, nil
}
