// Package api assembles the HTTP surface of the registry.
//
// Two route families share the engine:
//
//   - Installer-facing routes (/simple/, /packages/) are served without
//     authentication. pip walks the PEP 503 pages and fetches distributions
//     before it ever prompts for credentials, and nothing on those pages is
//     secret.
//   - Everything that mutates state (/upload, token self-service, the admin
//     API) sits behind the auth middleware. With auth disabled in config the
//     middleware installs the anonymous-admin identity instead of checking
//     credentials, so both modes register the identical route table.
package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/pratikychavan/PyPI-clone/internal/api/admin"
	"github.com/pratikychavan/PyPI-clone/internal/api/packages"
	"github.com/pratikychavan/PyPI-clone/internal/api/simple"
	"github.com/pratikychavan/PyPI-clone/internal/api/web"
	"github.com/pratikychavan/PyPI-clone/internal/audit"
	"github.com/pratikychavan/PyPI-clone/internal/config"
	"github.com/pratikychavan/PyPI-clone/internal/db/repositories"
	"github.com/pratikychavan/PyPI-clone/internal/index"
	"github.com/pratikychavan/PyPI-clone/internal/jobs"
	"github.com/pratikychavan/PyPI-clone/internal/metadata"
	"github.com/pratikychavan/PyPI-clone/internal/middleware"
	"github.com/pratikychavan/PyPI-clone/internal/pipeline"
	"github.com/pratikychavan/PyPI-clone/internal/safego"
	"github.com/pratikychavan/PyPI-clone/internal/storage"
	"github.com/pratikychavan/PyPI-clone/internal/validation"

	// Blank imports register each storage backend with the factory.
	_ "github.com/pratikychavan/PyPI-clone/internal/storage/azure"
	_ "github.com/pratikychavan/PyPI-clone/internal/storage/gcs"
	_ "github.com/pratikychavan/PyPI-clone/internal/storage/local"
	_ "github.com/pratikychavan/PyPI-clone/internal/storage/s3"
)

// BackgroundServices collects the goroutines and flushable resources the
// router starts. cmd/server calls Shutdown after the HTTP listener has
// drained so nothing here races an in-flight request.
type BackgroundServices struct {
	tokenSweeper   *jobs.TokenSweeper
	integrityScrub *jobs.IntegrityScrub
	rateLimiters   []*middleware.RateLimiter
	auditShipper   audit.Shipper
}

// Shutdown stops the periodic jobs and the rate-limiter janitors, then
// closes the audit shipper, which flushes any batched entries.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.tokenSweeper != nil {
		bg.tokenSweeper.Stop()
	}
	if bg.integrityScrub != nil {
		bg.integrityScrub.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.auditShipper != nil {
		if err := bg.auditShipper.Close(); err != nil {
			slog.Warn("audit shipper close", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// fail logs a fatal setup error and exits. NewRouter has no error return;
// anything that goes wrong while wiring routes means the process cannot
// serve traffic.
func fail(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

// deps carries the shared state route registration needs: the constructed
// backends, the repositories, and the optional middlewares. A nil auditMW
// or limiter means that feature is disabled and mount sites skip it.
type deps struct {
	cfg       *config.Config
	db        *sql.DB
	sqlxDB    *sqlx.DB
	store     storage.Storage
	ix        *index.Index
	pl        *pipeline.Pipeline
	userRepo  *repositories.UserRepository
	tokenRepo *repositories.TokenRepository

	auditMW gin.HandlerFunc

	generalLimit *middleware.RateLimiter
	authLimit    *middleware.RateLimiter
	uploadLimit  *middleware.RateLimiter
}

// NewRouter builds the Gin engine with every route mounted and the
// background jobs running. The returned BackgroundServices must be shut
// down after the HTTP server has drained.
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices) {
	store, err := storage.NewStorage(cfg)
	if err != nil {
		fail("storage backend init", err)
	}
	slog.Info("storage backend ready", "backend", cfg.Storage.DefaultBackend)

	d := &deps{
		cfg:       cfg,
		db:        db,
		sqlxDB:    sqlx.NewDb(db, cfg.Database.Driver),
		store:     store,
		userRepo:  repositories.NewUserRepository(db),
		tokenRepo: repositories.NewTokenRepository(db),
	}

	// Audit trail. The recording middleware only exists while auditing is
	// enabled; the read API under /admin is mounted unconditionally so old
	// entries stay queryable after recording is switched off.
	var shipper audit.Shipper
	if cfg.Audit.Enabled {
		ms, err := audit.NewMultiShipper(auditShipperConfigs(&cfg.Audit))
		if err != nil {
			fail("audit shipper init", err)
		}
		shipper = ms
		d.auditMW = middleware.Audit(repositories.NewAuditRepository(d.sqlxDB), shipper, &cfg.Audit)
	}

	// The in-memory index. Rebuilding is synchronous on purpose: answering
	// /simple/ from a half-built index would hand pip an incomplete view of
	// the stored packages, so the server stays down until the walk is done.
	d.ix = index.New(cfg.Index.MaxSearchResults)
	if cfg.Index.RebuildOnStart {
		start := time.Now()
		if err := d.ix.Rebuild(context.Background(), store, metadata.Extract); err != nil {
			fail("index rebuild from storage", err)
		}
		stats := d.ix.Stats()
		slog.Info("index rebuilt from storage",
			"packages", stats.Packages,
			"files", stats.Files,
			"duration", time.Since(start))
	}

	d.pl = pipeline.New(store, d.ix, &cfg.Upload, loadTrustedKeys(cfg))

	if cfg.Security.RateLimiting.Enabled {
		d.generalLimit = middleware.NewRateLimiter(generalRateLimitConfig(cfg))
		d.authLimit = middleware.NewRateLimiter(middleware.AuthRateLimitConfig())
		d.uploadLimit = middleware.NewRateLimiter(middleware.UploadRateLimitConfig())
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Metrics())
	router.Use(requestLogger())
	router.Use(cors(cfg))
	router.Use(middleware.SecurityHeaders(middleware.APISecurityHeadersConfig()))

	d.mountSystemRoutes(router)
	d.mountInstallerRoutes(router)
	d.mountManagementAPI(router)

	sweeper := jobs.NewTokenSweeper(d.tokenRepo, cfg.Jobs.TokenSweepInterval)
	safego.Go(func() { sweeper.Start(context.Background()) })

	scrub := jobs.NewIntegrityScrub(store, d.ix, &cfg.Jobs.IntegrityScrub)
	safego.Go(func() { scrub.Start(context.Background()) })

	return router, &BackgroundServices{
		tokenSweeper:   sweeper,
		integrityScrub: scrub,
		rateLimiters:   d.limiters(),
		auditShipper:   shipper,
	}
}

// generalRateLimitConfig applies the configured overrides on top of the
// default limiter settings.
func generalRateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rc := middleware.DefaultRateLimitConfig()
	if cfg.Security.RateLimiting.RequestsPerMinute > 0 {
		rc.RequestsPerMinute = cfg.Security.RateLimiting.RequestsPerMinute
	}
	if cfg.Security.RateLimiting.Burst > 0 {
		rc.BurstSize = cfg.Security.RateLimiting.Burst
	}
	return rc
}

// limiters returns the limiters that were actually constructed, for
// stopping their janitor goroutines at shutdown.
func (d *deps) limiters() []*middleware.RateLimiter {
	var out []*middleware.RateLimiter
	for _, rl := range []*middleware.RateLimiter{d.generalLimit, d.authLimit, d.uploadLimit} {
		if rl != nil {
			out = append(out, rl)
		}
	}
	return out
}

// limitBy attaches the rate limiter to the group. A nil limiter means rate
// limiting is disabled and the group runs unthrottled.
func limitBy(g *gin.RouterGroup, rl *middleware.RateLimiter) {
	if rl != nil {
		g.Use(middleware.RateLimit(rl))
	}
}

// audited attaches the audit-trail middleware when auditing is enabled.
func (d *deps) audited(g *gin.RouterGroup) {
	if d.auditMW != nil {
		g.Use(d.auditMW)
	}
}

// mountSystemRoutes registers the operational endpoints: probes, version,
// and the HTML landing page.
func (d *deps) mountSystemRoutes(r *gin.Engine) {
	r.GET("/health", healthHandler(d.db))
	r.GET("/ready", readyHandler(d.db, d.store))
	r.GET("/version", versionHandler())
	r.GET("/", web.NewHandler(d.cfg, d.ix).Landing)
}

// mountInstallerRoutes registers what pip and twine talk to: the PEP 503
// simple pages, distribution downloads, and the upload endpoint.
func (d *deps) mountInstallerRoutes(r *gin.Engine) {
	sh := simple.NewHandler(d.ix)
	sg := r.Group("/simple")
	limitBy(sg, d.generalLimit)
	sg.GET("/", sh.Index)
	sg.GET("/:package/", sh.Project)

	// One route serves distributions and their .metadata / .asc sidecars,
	// dispatched on the filename suffix.
	dg := r.Group("/packages")
	limitBy(dg, d.generalLimit)
	dg.GET("/:filename", packages.DownloadHandler(d.ix, d.store, d.cfg))

	// Upload. Audit sits before auth so rejected credentials still leave a
	// trail entry; the limiter sits after auth so the bucket keys per user
	// rather than per IP, because CI fleets share egress addresses.
	ug := r.Group("/upload")
	d.audited(ug)
	ug.Use(middleware.Auth(d.cfg, d.userRepo, d.tokenRepo))
	limitBy(ug, d.uploadLimit)
	ug.POST("", packages.UploadHandler(d.pl))
}

// mountManagementAPI registers /api/v1: login and token minting, public
// discovery, token self-service, and the admin surface.
func (d *deps) mountManagementAPI(r *gin.Engine) {
	authHandlers := admin.NewAuthHandlers(d.cfg, d.db)
	userHandlers := admin.NewUserHandlers(d.cfg, d.db)
	tokenHandlers := admin.NewTokenHandlers(d.cfg, d.db)
	packageHandlers := admin.NewPackageHandlers(d.ix, d.store)
	auditHandlers := admin.NewAuditHandlers(d.cfg, d.sqlxDB)

	oidcHandlers, err := admin.NewOIDCHandlers(d.cfg, d.db)
	if err != nil {
		fail("trusted publishing init", err)
	}

	v1 := r.Group("/api/v1")

	// Login is unauthenticated but sits behind the strict IP-keyed limiter.
	// Audit runs after it so a credential-stuffing flood never writes one
	// trail entry per blocked request.
	login := v1.Group("/auth")
	limitBy(login, d.authLimit)
	d.audited(login)
	login.POST("/login", authHandlers.LoginHandler())

	// Trusted publishing. The OIDC identity token in the request body is
	// the credential, so the endpoint carries no auth middleware but shares
	// the strict limiter.
	mint := v1.Group("/oidc")
	limitBy(mint, d.authLimit)
	d.audited(mint)
	mint.POST("/mint-token", oidcHandlers.MintTokenHandler())

	// Read-only discovery, open to everyone.
	pub := v1.Group("")
	limitBy(pub, d.generalLimit)
	pub.GET("/packages", packages.ListPackagesHandler(d.ix))
	pub.GET("/packages/:name", packages.GetPackageHandler(d.ix))
	pub.GET("/search", packages.SearchHandler(d.ix))
	pub.GET("/stats", packages.StatsHandler(d.ix))

	// Everything below requires a verified identity. Audit before auth, as
	// on /upload.
	authed := v1.Group("")
	d.audited(authed)
	authed.Use(middleware.Auth(d.cfg, d.userRepo, d.tokenRepo))
	limitBy(authed, d.generalLimit)

	tokens := authed.Group("/tokens")
	tokens.GET("", tokenHandlers.ListTokensHandler())
	tokens.POST("", tokenHandlers.CreateTokenHandler())
	tokens.DELETE("/:id", tokenHandlers.DeleteTokenHandler())
	tokens.POST("/revoke", tokenHandlers.RevokeTokenHandler())

	adm := authed.Group("/admin")
	adm.Use(middleware.RequireAdmin())
	adm.GET("/users", userHandlers.ListUsersHandler())
	adm.POST("/users", userHandlers.CreateUserHandler())
	adm.POST("/users/:username/deactivate", userHandlers.DeactivateUserHandler())
	adm.POST("/users/:username/activate", userHandlers.ActivateUserHandler())
	adm.POST("/packages/:name/:version/yank", packageHandlers.YankHandler())
	adm.POST("/packages/:name/:version/unyank", packageHandlers.UnyankHandler())
	adm.POST("/rebuild", packageHandlers.RebuildHandler())
	adm.GET("/audit-logs", auditHandlers.ListAuditLogsHandler())
}

// auditShipperConfigs maps the audit section of the server configuration onto
// the audit package's shipper configuration.
func auditShipperConfigs(cfg *config.AuditConfig) []audit.ShipperConfig {
	configs := make([]audit.ShipperConfig, 0, len(cfg.Shippers))
	for _, s := range cfg.Shippers {
		sc := audit.ShipperConfig{Enabled: s.Enabled, Type: s.Type}
		if s.Webhook != nil {
			sc.Webhook = &audit.WebhookConfig{
				URL:           s.Webhook.URL,
				Headers:       s.Webhook.Headers,
				Timeout:       s.Webhook.Timeout,
				BatchSize:     s.Webhook.BatchSize,
				FlushInterval: s.Webhook.FlushInterval,
			}
		}
		if s.File != nil {
			sc.File = &audit.FileConfig{
				Path:       s.File.Path,
				MaxSizeMB:  s.File.MaxSizeMB,
				MaxBackups: s.File.MaxBackups,
			}
		}
		configs = append(configs, sc)
	}
	return configs
}

// loadTrustedKeys reads the configured trusted-keys file and splits it into
// individual armored keys. A configured but unreadable file is fatal:
// silently starting without the keys would accept signatures the operator
// meant to verify.
func loadTrustedKeys(cfg *config.Config) []string {
	if cfg.Upload.TrustedKeysFile == "" {
		return nil
	}

	content, err := os.ReadFile(cfg.Upload.TrustedKeysFile)
	if err != nil {
		fail("reading trusted keys file", err)
	}

	keys := validation.SplitArmoredKeys(string(content))
	slog.Info("loaded trusted signing keys", "file", cfg.Upload.TrustedKeysFile, "count", len(keys))
	return keys
}

// @Summary      Liveness probe
// @Description  Reports whether the process is up and can reach the database.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
func healthHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness probe
// @Description  Reports whether the service can take traffic. Fails when the database or the storage backend is unreachable.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "ready: false, error: dependency not ready"
// @Router       /ready [get]
// readyHandler also probes the storage backend, unlike /health, so a
// Kubernetes readiness gate trips before uploads and downloads would 500.
func readyHandler(db *sql.DB, store storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if err := db.PingContext(ctx); err != nil {
			notReady(c, gin.H{"database": "unhealthy"}, "database not ready")
			return
		}

		// Exists on a known-absent sentinel path exercises credentials and
		// connectivity without creating any state in the bucket.
		if _, err := store.Exists(ctx, ".readiness-probe"); err != nil {
			notReady(c, gin.H{"database": "healthy", "storage": "unhealthy"}, "storage backend not ready")
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": gin.H{"database": "healthy", "storage": "healthy"},
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// notReady writes the 503 readiness response with per-dependency results.
func notReady(c *gin.Context, checks gin.H, msg string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"ready":  false,
		"checks": checks,
		"error":  msg,
	})
}

// @Summary      API version
// @Description  Returns the server version and the protocol revisions it speaks.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version, protocols: {simple, upload}"
// @Router       /version [get]
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
			"protocols": gin.H{
				// PEP 691 repository-version of the simple pages
				"simple": "1.0",
				// twine's legacy multipart upload API
				"upload": "legacy",
			},
		})
	}
}

// requestLogger emits one slog line per request after the handler chain
// finishes. Output format (text or JSON) follows the process-wide handler
// installed by telemetry.SetupLogger, so there is no per-format branch
// here. Path and query are captured up front; handlers may rewrite the
// request URL.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		slog.LogAttrs(c.Request.Context(), slog.LevelInfo, "http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", middleware.RequestIDFrom(c)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// cors answers cross-origin preflight and tags allowed responses. The
// browser-facing management UI is the only real consumer; pip and twine
// never send an Origin header.
func cors(cfg *config.Config) gin.HandlerFunc {
	origins := cfg.Security.CORS.AllowedOrigins
	methods := "GET, POST, PUT, DELETE, OPTIONS"
	if len(cfg.Security.CORS.AllowedMethods) > 0 {
		methods = strings.Join(cfg.Security.CORS.AllowedMethods, ", ")
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if originAllowed(origins, origin) {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// originAllowed reports whether origin matches the configured allowlist. A
// literal "*" entry admits every origin.
func originAllowed(allowed []string, origin string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}
