package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/pratikychavan/PyPI-clone/internal/audit"
	"github.com/pratikychavan/PyPI-clone/internal/auth"
	"github.com/pratikychavan/PyPI-clone/internal/config"
	"github.com/pratikychavan/PyPI-clone/internal/db/repositories"
)

// captureShipper collects shipped entries on a buffered channel so tests can
// wait for the middleware's async goroutine instead of sleeping.
type captureShipper struct {
	entries chan *audit.LogEntry
}

func newCaptureShipper() *captureShipper {
	return &captureShipper{entries: make(chan *audit.LogEntry, 16)}
}

func (s *captureShipper) Ship(_ context.Context, entry *audit.LogEntry) error {
	s.entries <- entry
	return nil
}

func (s *captureShipper) Close() error { return nil }

func receiveEntry(t *testing.T, s *captureShipper) *audit.LogEntry {
	t.Helper()
	select {
	case e := <-s.entries:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for audit entry")
		return nil
	}
}

func assertNoEntry(t *testing.T, s *captureShipper) {
	t.Helper()
	select {
	case e := <-s.entries:
		t.Fatalf("expected no audit entry, got action %q", e.Action)
	case <-time.After(100 * time.Millisecond):
	}
}

func auditTestConfig() *config.AuditConfig {
	return &config.AuditConfig{Enabled: true, LogFailedRequests: true}
}

// newAuditRouter builds a Gin engine with the Audit middleware and stub routes
// shaped like the real route table. A non-nil identity is attached by a
// middleware running before Audit, mimicking the Auth middleware.
func newAuditRouter(repo *repositories.AuditRepository, shipper audit.Shipper, cfg *config.AuditConfig, identity *auth.Identity) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	if identity != nil {
		r.Use(func(c *gin.Context) {
			setIdentity(c, identity)
			c.Next()
		})
	}
	r.Use(Audit(repo, shipper, cfg))

	ok := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) }

	r.POST("/upload", func(c *gin.Context) {
		c.Set(AuditResourceKey, "demo/1.0.0")
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.OPTIONS("/upload", ok)
	r.GET("/api/v1/packages", ok)
	r.POST("/api/v1/auth/login", func(c *gin.Context) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	})
	r.POST("/api/v1/admin/packages/:name/:version/yank", ok)
	r.POST("/api/v1/tokens", func(c *gin.Context) {
		c.Set(AuditResourceKey, "tok-123")
		c.JSON(http.StatusCreated, gin.H{"id": "tok-123"})
	})
	r.DELETE("/api/v1/tokens/:id", ok)
	r.POST("/api/v1/admin/users/:username/deactivate", ok)
	return r
}

// ---------------------------------------------------------------------------
// Recording behaviour
// ---------------------------------------------------------------------------

func TestAudit_RecordsUpload(t *testing.T) {
	shipper := newCaptureShipper()
	identity := &auth.Identity{UserID: "u-1", Username: "alice", Method: "token"}
	r := newAuditRouter(nil, shipper, auditTestConfig(), identity)

	req := httptest.NewRequest(http.MethodPost, "/upload", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	entry := receiveEntry(t, shipper)
	if entry.Action != "package.upload" {
		t.Errorf("expected action package.upload, got %q", entry.Action)
	}
	if entry.ResourceType != "package" {
		t.Errorf("expected resource type package, got %q", entry.ResourceType)
	}
	if entry.ResourceID != "demo/1.0.0" {
		t.Errorf("expected handler-provided resource ID demo/1.0.0, got %q", entry.ResourceID)
	}
	if entry.Username != "alice" || entry.UserID != "u-1" || entry.AuthMethod != "token" {
		t.Errorf("identity not propagated: %+v", entry)
	}
	if entry.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", entry.StatusCode)
	}
	if entry.RequestID == "" {
		t.Error("expected request ID to be recorded")
	}
	if entry.Metadata["method"] != "POST" || entry.Metadata["path"] != "/upload" {
		t.Errorf("unexpected metadata: %v", entry.Metadata)
	}
}

func TestAudit_ResourceIDFromRouteParams(t *testing.T) {
	shipper := newCaptureShipper()
	r := newAuditRouter(nil, shipper, auditTestConfig(), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/packages/demo/1.0.0/yank", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	entry := receiveEntry(t, shipper)
	if entry.Action != "package.yank" {
		t.Errorf("expected action package.yank, got %q", entry.Action)
	}
	if entry.ResourceID != "demo/1.0.0" {
		t.Errorf("expected resource ID demo/1.0.0 from route params, got %q", entry.ResourceID)
	}
}

func TestAudit_TokenCreateUsesHandlerResourceID(t *testing.T) {
	shipper := newCaptureShipper()
	r := newAuditRouter(nil, shipper, auditTestConfig(), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tokens", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	entry := receiveEntry(t, shipper)
	if entry.Action != "token.created" {
		t.Errorf("expected action token.created, got %q", entry.Action)
	}
	if entry.ResourceID != "tok-123" {
		t.Errorf("expected resource ID tok-123, got %q", entry.ResourceID)
	}
	if entry.StatusCode != http.StatusCreated {
		t.Errorf("expected status 201, got %d", entry.StatusCode)
	}
}

func TestAudit_AnonymousRequestHasNoIdentity(t *testing.T) {
	shipper := newCaptureShipper()
	r := newAuditRouter(nil, shipper, auditTestConfig(), nil)

	req := httptest.NewRequest(http.MethodPost, "/upload", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	entry := receiveEntry(t, shipper)
	if entry.Username != "" || entry.UserID != "" || entry.AuthMethod != "" {
		t.Errorf("expected empty identity fields, got %+v", entry)
	}
}

// ---------------------------------------------------------------------------
// Skip rules
// ---------------------------------------------------------------------------

func TestAudit_SkipsReadsByDefault(t *testing.T) {
	shipper := newCaptureShipper()
	r := newAuditRouter(nil, shipper, auditTestConfig(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/packages", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assertNoEntry(t, shipper)
}

func TestAudit_LogsReadsWhenConfigured(t *testing.T) {
	shipper := newCaptureShipper()
	cfg := auditTestConfig()
	cfg.LogReadOperations = true
	r := newAuditRouter(nil, shipper, cfg, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/packages", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	entry := receiveEntry(t, shipper)
	if entry.Action != "GET /api/v1/packages" {
		t.Errorf("expected fallback action for unclassified read, got %q", entry.Action)
	}
}

func TestAudit_SkipsOptions(t *testing.T) {
	shipper := newCaptureShipper()
	cfg := auditTestConfig()
	cfg.LogReadOperations = true
	r := newAuditRouter(nil, shipper, cfg, nil)

	req := httptest.NewRequest(http.MethodOptions, "/upload", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assertNoEntry(t, shipper)
}

func TestAudit_RecordsFailedRequestsByDefault(t *testing.T) {
	shipper := newCaptureShipper()
	r := newAuditRouter(nil, shipper, auditTestConfig(), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	entry := receiveEntry(t, shipper)
	if entry.Action != "auth.login" {
		t.Errorf("expected action auth.login, got %q", entry.Action)
	}
	if entry.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", entry.StatusCode)
	}
}

func TestAudit_SkipsFailedWhenDisabled(t *testing.T) {
	shipper := newCaptureShipper()
	cfg := auditTestConfig()
	cfg.LogFailedRequests = false
	r := newAuditRouter(nil, shipper, cfg, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assertNoEntry(t, shipper)
}

// ---------------------------------------------------------------------------
// Database persistence
// ---------------------------------------------------------------------------

func TestAudit_PersistsToDatabase(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnResult(sqlmock.NewResult(1, 1))

	repo := repositories.NewAuditRepository(sqlx.NewDb(db, "sqlmock"))
	shipper := newCaptureShipper()
	r := newAuditRouter(repo, shipper, auditTestConfig(), nil)

	req := httptest.NewRequest(http.MethodPost, "/upload", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	// Ship runs after the database write in the same goroutine, so once the
	// entry arrives the INSERT has been issued.
	receiveEntry(t, shipper)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet database expectations: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Action mapping
// ---------------------------------------------------------------------------

func TestAuditAction_Mappings(t *testing.T) {
	tests := []struct {
		method       string
		path         string
		action       string
		resourceType string
	}{
		{http.MethodPost, "/upload", "package.upload", "package"},
		{http.MethodPost, "/api/v1/admin/packages/:name/:version/yank", "package.yank", "package"},
		{http.MethodPost, "/api/v1/admin/packages/:name/:version/unyank", "package.unyank", "package"},
		{http.MethodPost, "/api/v1/admin/rebuild", "index.rebuild", "index"},
		{http.MethodPost, "/api/v1/auth/login", "auth.login", "user"},
		{http.MethodPost, "/api/v1/oidc/mint-token", "token.minted", "token"},
		{http.MethodPost, "/api/v1/tokens", "token.created", "token"},
		{http.MethodPost, "/api/v1/tokens/revoke", "token.revoked", "token"},
		{http.MethodDelete, "/api/v1/tokens/:id", "token.deleted", "token"},
		{http.MethodPost, "/api/v1/admin/users", "user.created", "user"},
		{http.MethodPost, "/api/v1/admin/users/:username/deactivate", "user.deactivated", "user"},
		{http.MethodPost, "/api/v1/admin/users/:username/activate", "user.activated", "user"},
		{http.MethodPut, "/api/v1/something-new", "PUT /api/v1/something-new", ""},
	}

	for _, tt := range tests {
		action, resourceType := auditAction(tt.method, tt.path)
		if action != tt.action {
			t.Errorf("%s %s: expected action %q, got %q", tt.method, tt.path, tt.action, action)
		}
		if resourceType != tt.resourceType {
			t.Errorf("%s %s: expected resource type %q, got %q", tt.method, tt.path, tt.resourceType, resourceType)
		}
	}
}
