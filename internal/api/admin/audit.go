// audit.go implements the audit trail read endpoint. Records are written by
// the audit middleware; this handler only pages through them with optional
// filters, so operators can answer "who uploaded this" and "who minted that
// token" without shell access to the database.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/pratikychavan/PyPI-clone/internal/config"
	"github.com/pratikychavan/PyPI-clone/internal/db/models"
	"github.com/pratikychavan/PyPI-clone/internal/db/repositories"
)

// AuditHandlers handles audit trail endpoints
type AuditHandlers struct {
	cfg       *config.Config
	auditRepo *repositories.AuditRepository
}

// NewAuditHandlers creates a new AuditHandlers instance
func NewAuditHandlers(cfg *config.Config, db *sqlx.DB) *AuditHandlers {
	return &AuditHandlers{
		cfg:       cfg,
		auditRepo: repositories.NewAuditRepository(db),
	}
}

// auditLogResponse maps an audit row to its API shape. Empty fields are
// omitted; anonymous entries have no user fields at all.
func auditLogResponse(entry *models.AuditLog) gin.H {
	resp := gin.H{
		"id":          entry.ID,
		"action":      entry.Action,
		"status_code": entry.StatusCode,
		"created_at":  entry.CreatedAt,
	}
	if entry.UserID != "" {
		resp["user_id"] = entry.UserID
	}
	if entry.Username != "" {
		resp["username"] = entry.Username
	}
	if entry.ResourceType != "" {
		resp["resource_type"] = entry.ResourceType
	}
	if entry.ResourceID != "" {
		resp["resource_id"] = entry.ResourceID
	}
	if entry.IPAddress != "" {
		resp["ip_address"] = entry.IPAddress
	}
	if entry.AuthMethod != "" {
		resp["auth_method"] = entry.AuthMethod
	}
	if entry.RequestID != "" {
		resp["request_id"] = entry.RequestID
	}
	if len(entry.Metadata) > 0 {
		resp["metadata"] = json.RawMessage(entry.Metadata)
	}
	return resp
}

// @Summary      List audit log entries
// @Description  Page through the audit trail, newest first. Filter by username, action name (e.g. package.upload), resource type, or an RFC 3339 time window.
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        page           query  int     false  "Page number (default 1)"
// @Param        per_page       query  int     false  "Items per page, max 200 (default 50)"
// @Param        username       query  string  false  "Filter by username"
// @Param        action         query  string  false  "Filter by action name"
// @Param        resource_type  query  string  false  "Filter by resource type (package, token, user)"
// @Param        since          query  string  false  "Entries at or after this RFC 3339 timestamp"
// @Param        until          query  string  false  "Entries at or before this RFC 3339 timestamp"
// @Success      200  {object}  map[string]interface{}  "entries, pagination"
// @Failure      400  {object}  map[string]interface{}  "Invalid time filter"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      403  {object}  map[string]interface{}  "Admin privileges required"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/admin/audit-logs [get]
// ListAuditLogsHandler pages through the audit trail
// GET /api/v1/admin/audit-logs?page=1&per_page=50&username=alice&action=package.upload
func (h *AuditHandlers) ListAuditLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, perPage, offset := pageParams(c, 50, 200)

		var filters repositories.AuditFilters
		if v := c.Query("username"); v != "" {
			filters.Username = &v
		}
		if v := c.Query("action"); v != "" {
			filters.Action = &v
		}
		if v := c.Query("resource_type"); v != "" {
			filters.ResourceType = &v
		}
		if v := c.Query("since"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": "since must be RFC 3339",
				})
				return
			}
			filters.StartDate = &t
		}
		if v := c.Query("until"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": "until must be RFC 3339",
				})
				return
			}
			filters.EndDate = &t
		}

		entries, total, err := h.auditRepo.ListAuditLogs(c.Request.Context(), filters, perPage, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list audit logs",
			})
			return
		}

		sanitized := make([]gin.H, 0, len(entries))
		for _, entry := range entries {
			sanitized = append(sanitized, auditLogResponse(entry))
		}

		c.JSON(http.StatusOK, gin.H{
			"entries": sanitized,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}
