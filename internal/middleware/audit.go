package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pratikychavan/PyPI-clone/internal/audit"
	"github.com/pratikychavan/PyPI-clone/internal/config"
	"github.com/pratikychavan/PyPI-clone/internal/db/models"
	"github.com/pratikychavan/PyPI-clone/internal/db/repositories"
	"github.com/pratikychavan/PyPI-clone/internal/safego"
)

// AuditResourceKey is the gin.Context key under which a handler can store the
// identifier of the resource it acted on, overriding what the audit middleware
// would otherwise derive from route parameters. The upload handler uses this to
// record "name/version" once the distribution has actually been parsed, and the
// login handler to record which account authenticated.
const AuditResourceKey = "audit_resource"

// auditWriteTimeout bounds the async database write and shipper delivery for a
// single audit record.
const auditWriteTimeout = 5 * time.Second

// Audit returns a Gin handler that records mutating requests to the audit log
// after the wrapped handler has run. Records are written to the database and
// shipped to any configured external destinations asynchronously so a slow
// audit sink never adds latency to the request path.
//
// What gets recorded is driven by cfg:
//   - OPTIONS requests are never recorded.
//   - GET/HEAD requests are recorded only when LogReadOperations is set.
//   - Requests that ended >= 400 are skipped when LogFailedRequests is off;
//     by default they are kept so rejected uploads and failed logins stay
//     visible in the trail.
//
// Both auditRepo and shipper may be nil, in which case that destination is
// skipped.
func Audit(auditRepo *repositories.AuditRepository, shipper audit.Shipper, cfg *config.AuditConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Request.Method == http.MethodOptions {
			return
		}

		isRead := c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead
		if isRead && (cfg == nil || !cfg.LogReadOperations) {
			return
		}
		if c.Writer.Status() >= 400 && cfg != nil && !cfg.LogFailedRequests {
			return
		}

		routePath := c.FullPath()
		if routePath == "" {
			routePath = c.Request.URL.Path
		}
		action, resourceType := auditAction(c.Request.Method, routePath)

		entry := &models.AuditLog{
			Action:       action,
			ResourceType: resourceType,
			ResourceID:   auditResourceID(c),
			IPAddress:    c.ClientIP(),
			RequestID:    RequestIDFrom(c),
			StatusCode:   c.Writer.Status(),
			CreatedAt:    time.Now(),
		}
		if identity := Identity(c); identity != nil {
			entry.UserID = identity.UserID
			entry.Username = identity.Username
			entry.AuthMethod = identity.Method
		}

		meta := map[string]interface{}{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		}
		if raw, err := json.Marshal(meta); err == nil {
			entry.Metadata = raw
		}

		// Everything read from the gin.Context is copied above: the context is
		// recycled once the handler chain returns and must not be touched from
		// the goroutine.
		safego.Go(func() {
			ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
			defer cancel()

			if auditRepo != nil {
				if err := auditRepo.CreateAuditLog(ctx, entry); err != nil {
					slog.Error("failed to persist audit log", "action", entry.Action, "error", err)
				}
			}

			if shipper != nil {
				wire := &audit.LogEntry{
					Timestamp:    entry.CreatedAt,
					Action:       entry.Action,
					UserID:       entry.UserID,
					Username:     entry.Username,
					ResourceType: entry.ResourceType,
					ResourceID:   entry.ResourceID,
					IPAddress:    entry.IPAddress,
					AuthMethod:   entry.AuthMethod,
					RequestID:    entry.RequestID,
					StatusCode:   entry.StatusCode,
					Metadata:     meta,
				}
				if err := shipper.Ship(ctx, wire); err != nil {
					slog.Error("failed to ship audit log", "action", entry.Action, "error", err)
				}
			}
		})
	}
}

// auditAction maps a request to a stable "resource.verb" action name and the
// resource type it acted on. Routes without a specific mapping fall back to
// "METHOD /path" so new endpoints are still captured before anyone remembers
// to classify them.
func auditAction(method, routePath string) (action, resourceType string) {
	switch {
	case routePath == "/upload":
		return "package.upload", "package"
	case strings.HasSuffix(routePath, "/yank"):
		return "package.yank", "package"
	case strings.HasSuffix(routePath, "/unyank"):
		return "package.unyank", "package"
	case routePath == "/api/v1/admin/rebuild":
		return "index.rebuild", "index"
	case routePath == "/api/v1/auth/login":
		return "auth.login", "user"
	case routePath == "/api/v1/oidc/mint-token":
		return "token.minted", "token"
	case routePath == "/api/v1/tokens" && method == http.MethodPost:
		return "token.created", "token"
	case routePath == "/api/v1/tokens/revoke":
		return "token.revoked", "token"
	case strings.HasPrefix(routePath, "/api/v1/tokens/") && method == http.MethodDelete:
		return "token.deleted", "token"
	case routePath == "/api/v1/admin/users" && method == http.MethodPost:
		return "user.created", "user"
	case strings.HasSuffix(routePath, "/deactivate"):
		return "user.deactivated", "user"
	case strings.HasSuffix(routePath, "/activate"):
		return "user.activated", "user"
	}
	return method + " " + routePath, ""
}

// auditResourceID resolves the identifier of the resource a request acted on.
// A handler-provided value under AuditResourceKey wins; otherwise the route
// parameters are used (name/version for package routes, username for user
// routes, id for token routes).
func auditResourceID(c *gin.Context) string {
	if v, ok := c.Get(AuditResourceKey); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if name := c.Param("name"); name != "" {
		if version := c.Param("version"); version != "" {
			return name + "/" + version
		}
		return name
	}
	if username := c.Param("username"); username != "" {
		return username
	}
	return c.Param("id")
}
