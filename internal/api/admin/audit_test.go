package admin

import (
	"net/http"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/pratikychavan/PyPI-clone/internal/config"
)

var auditLogCols = []string{
	"id", "action", "user_id", "username", "resource_type", "resource_id",
	"ip_address", "auth_method", "request_id", "status_code", "metadata", "created_at",
}

func newAuditLogRouter(t *testing.T) (sqlmock.Sqlmock, *gin.Engine) {
	t.Helper()
	db, mock, _ := sqlmock.New()
	t.Cleanup(func() { db.Close() })

	h := NewAuditHandlers(&config.Config{}, sqlx.NewDb(db, "sqlmock"))
	r := gin.New()
	grp := r.Group("/api/v1/admin", withIdentity(adminIdentity()))
	grp.GET("/audit-logs", h.ListAuditLogsHandler())
	return mock, r
}

// ---------------------------------------------------------------------------
// ListAuditLogsHandler
// ---------------------------------------------------------------------------

func TestListAuditLogsHandler_Success(t *testing.T) {
	mock, r := newAuditLogRouter(t)

	mock.ExpectQuery("SELECT COUNT.+FROM audit_logs").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	rows := sqlmock.NewRows(auditLogCols).
		AddRow("log-1", "package.upload", "user-1", "alice", "package", "demo/1.0.0",
			"203.0.113.9", "token", "req-1", 201, []byte(`{"method":"POST","path":"/upload"}`), time.Now()).
		AddRow("log-2", "auth.login", "", "", "user", "",
			"203.0.113.9", "", "req-2", 401, nil, time.Now())
	mock.ExpectQuery("SELECT \\* FROM audit_logs.+ORDER BY created_at DESC").
		WillReturnRows(rows)

	w := doJSON(r, http.MethodGet, "/api/v1/admin/audit-logs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}

	body := decodeJSON(t, w)
	entries, _ := body["entries"].([]interface{})
	if len(entries) != 2 {
		t.Fatalf("entries = %v, want 2", body["entries"])
	}

	first, _ := entries[0].(map[string]interface{})
	if first["action"] != "package.upload" {
		t.Errorf("action = %v, want package.upload", first["action"])
	}
	if first["resource_id"] != "demo/1.0.0" {
		t.Errorf("resource_id = %v, want demo/1.0.0", first["resource_id"])
	}
	meta, _ := first["metadata"].(map[string]interface{})
	if meta["method"] != "POST" {
		t.Errorf("metadata.method = %v, want POST", meta["method"])
	}

	// The failed anonymous login carries no user fields and no metadata.
	second, _ := entries[1].(map[string]interface{})
	if _, present := second["username"]; present {
		t.Errorf("anonymous entry should omit username, got %v", second["username"])
	}
	if _, present := second["metadata"]; present {
		t.Errorf("entry without metadata should omit the field, got %v", second["metadata"])
	}

	pagination, _ := body["pagination"].(map[string]interface{})
	if total, _ := pagination["total"].(float64); total != 2 {
		t.Errorf("pagination.total = %v, want 2", pagination["total"])
	}
}

func TestListAuditLogsHandler_FiltersReachQuery(t *testing.T) {
	mock, r := newAuditLogRouter(t)

	mock.ExpectQuery("SELECT COUNT.+FROM audit_logs").
		WithArgs("alice", "package.upload").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT \\* FROM audit_logs.+ORDER BY created_at DESC").
		WithArgs("alice", "package.upload", 50, 0).
		WillReturnRows(sqlmock.NewRows(auditLogCols))

	w := doJSON(r, http.MethodGet,
		"/api/v1/admin/audit-logs?username=alice&action=package.upload", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}

	body := decodeJSON(t, w)
	entries, _ := body["entries"].([]interface{})
	if len(entries) != 0 {
		t.Errorf("entries = %v, want empty", body["entries"])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestListAuditLogsHandler_InvalidSince(t *testing.T) {
	_, r := newAuditLogRouter(t)

	w := doJSON(r, http.MethodGet, "/api/v1/admin/audit-logs?since=yesterday", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestListAuditLogsHandler_DBError(t *testing.T) {
	mock, r := newAuditLogRouter(t)

	mock.ExpectQuery("SELECT COUNT.+FROM audit_logs").WillReturnError(errDB)

	w := doJSON(r, http.MethodGet, "/api/v1/admin/audit-logs", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}
