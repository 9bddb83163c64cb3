// analytics_repository.go implements AnalyticsRepository: the system-usage datacube,
// rebuilt in full from audit_logs and read back for the admin dashboard.
package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/consortium-members/membership-backend/internal/db/models"
)

// AnalyticsRepository handles usage cube database operations
type AnalyticsRepository struct {
	db DBTX
}

// NewAnalyticsRepository creates a new AnalyticsRepository
func NewAnalyticsRepository(db DBTX) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

// WithTx returns a repository bound to the given transaction
func (r *AnalyticsRepository) WithTx(tx DBTX) *AnalyticsRepository {
	return &AnalyticsRepository{db: tx}
}

// ClearCube removes every cube row
func (r *AnalyticsRepository) ClearCube(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM usage_cube`); err != nil {
		return fmt.Errorf("failed to clear usage cube: %w", err)
	}
	return nil
}

// RebuildCube aggregates audit_logs since the given time into the cube and returns
// the number of cells written. Call ClearCube first in the same transaction.
func (r *AnalyticsRepository) RebuildCube(ctx context.Context, since, refreshedAt time.Time) (int64, error) {
	query := `
		INSERT INTO usage_cube (day, action, resource_type, organization_id, event_count, distinct_users, refreshed_at)
		SELECT
			DATE(created_at)             AS day,
			action,
			COALESCE(resource_type, '')  AS resource_type,
			organization_id,
			COUNT(*)                     AS event_count,
			COUNT(DISTINCT user_id)      AS distinct_users,
			$2
		FROM audit_logs
		WHERE created_at >= $1
		GROUP BY DATE(created_at), action, COALESCE(resource_type, ''), organization_id
	`
	res, err := r.db.ExecContext(ctx, query, since, refreshedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to rebuild usage cube: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n, nil
}

// UsageFilters narrows ListUsage
type UsageFilters struct {
	From           *time.Time
	To             *time.Time
	Action         *string
	OrganizationID *string
}

// ListUsage returns cube cells, newest day first
func (r *AnalyticsRepository) ListUsage(ctx context.Context, filters UsageFilters, limit int) ([]*models.UsageCubeRow, error) {
	query := `
		SELECT day, action, resource_type, organization_id, event_count, distinct_users, refreshed_at
		FROM usage_cube
		WHERE 1=1
	`
	args := make([]interface{}, 0)
	paramIndex := 1

	if filters.From != nil {
		query += fmt.Sprintf(` AND day >= $%d`, paramIndex)
		args = append(args, *filters.From)
		paramIndex++
	}
	if filters.To != nil {
		query += fmt.Sprintf(` AND day <= $%d`, paramIndex)
		args = append(args, *filters.To)
		paramIndex++
	}
	if filters.Action != nil {
		query += fmt.Sprintf(` AND action = $%d`, paramIndex)
		args = append(args, *filters.Action)
		paramIndex++
	}
	if filters.OrganizationID != nil {
		query += fmt.Sprintf(` AND organization_id = $%d`, paramIndex)
		args = append(args, *filters.OrganizationID)
		paramIndex++
	}
	query += fmt.Sprintf(` ORDER BY day DESC, event_count DESC LIMIT $%d`, paramIndex)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}
	defer rows.Close()

	out := make([]*models.UsageCubeRow, 0)
	for rows.Next() {
		row := &models.UsageCubeRow{}
		if err := rows.Scan(
			&row.Day,
			&row.Action,
			&row.ResourceType,
			&row.OrganizationID,
			&row.EventCount,
			&row.DistinctUsers,
			&row.RefreshedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan usage row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
