// audit_repository.go implements AuditRepository, providing database queries for writing
// and retrieving audit trail entries with filtered, paginated listing for the admin API.
package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pratikychavan/PyPI-clone/internal/db/models"
)

// AuditRepository handles audit trail database operations
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditFilters contains filters for querying the audit trail
type AuditFilters struct {
	Username     *string
	Action       *string
	ResourceType *string
	StartDate    *time.Time
	EndDate      *time.Time
}

// CreateAuditLog inserts a new audit trail entry
func (r *AuditRepository) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	entry.ID = uuid.New().String()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO audit_logs (id, action, user_id, username, resource_type, resource_id,
			ip_address, auth_method, request_id, status_code, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.Action,
		entry.UserID,
		entry.Username,
		entry.ResourceType,
		entry.ResourceID,
		entry.IPAddress,
		entry.AuthMethod,
		entry.RequestID,
		entry.StatusCode,
		entry.Metadata,
		entry.CreatedAt,
	)

	return err
}

// ListAuditLogs retrieves audit trail entries with optional filters, newest
// first, and returns the total count matching the filters alongside the page.
func (r *AuditRepository) ListAuditLogs(ctx context.Context, filters AuditFilters, limit, offset int) ([]*models.AuditLog, int, error) {
	countQuery := `SELECT COUNT(*) FROM audit_logs WHERE 1=1`
	query := `SELECT * FROM audit_logs WHERE 1=1`

	args := make([]interface{}, 0)
	paramIndex := 1

	addFilter := func(clause string, value interface{}) {
		cond := fmt.Sprintf(clause, paramIndex)
		countQuery += cond
		query += cond
		args = append(args, value)
		paramIndex++
	}

	if filters.Username != nil {
		addFilter(` AND username = $%d`, *filters.Username)
	}
	if filters.Action != nil {
		addFilter(` AND action = $%d`, *filters.Action)
	}
	if filters.ResourceType != nil {
		addFilter(` AND resource_type = $%d`, *filters.ResourceType)
	}
	if filters.StartDate != nil {
		addFilter(` AND created_at >= $%d`, *filters.StartDate)
	}
	if filters.EndDate != nil {
		addFilter(` AND created_at <= $%d`, *filters.EndDate)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	entries := make([]*models.AuditLog, 0)
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}
