// @title           Python Package Registry API
// @version         1.0.0
// @description     Self-hosted PyPI-compatible package index serving the pip simple protocol with twine uploads, token authentication, trusted publishing, and pluggable storage backends
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  Bearer
// @in                          header
// @name                         Authorization
// @description                  "JWT token or API token. For JWT: 'Bearer {token}'. Uploads also accept HTTP Basic with username '__token__' and the token as password."
//
// @tag.name         System
// @tag.description  Health, readiness, and service-discovery endpoints.
//
// @tag.name         Observability
// @tag.description  Prometheus metrics and profiling are served on a dedicated side-channel port (default: 9090) that is separate from the main API server. This keeps the scrape path off the public ingress and avoids rate-limiting middleware. Configure the port with PYPI_TELEMETRY_METRICS_PROMETHEUS_PORT. The endpoint path is always GET /metrics. pprof (if enabled via PYPI_TELEMETRY_PROFILING_ENABLED=true) is served on PYPI_TELEMETRY_PROFILING_PORT (default: 6060) at the standard /debug/pprof/ paths. Neither endpoint is part of the OpenAPI spec because they are not served by the Gin router.

// Package main is the entry point for the package registry server binary.
// It dispatches the serve, migrate, create-admin, and version subcommands via a
// simple switch on os.Args so the binary's full CLI surface is readable in one
// place without requiring a cobra dependency. The serve command runs
// auto-migration on startup so freshly deployed containers never need a
// separate migration step.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108 -- registers on DefaultServeMux, which is served only on the internal profiling port
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pratikychavan/PyPI-clone/internal/api"
	"github.com/pratikychavan/PyPI-clone/internal/auth"
	"github.com/pratikychavan/PyPI-clone/internal/config"
	"github.com/pratikychavan/PyPI-clone/internal/db"
	"github.com/pratikychavan/PyPI-clone/internal/db/models"
	"github.com/pratikychavan/PyPI-clone/internal/db/repositories"
	"github.com/pratikychavan/PyPI-clone/internal/telemetry"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	case "create-admin":
		if len(os.Args) < 4 {
			return fmt.Errorf("usage: %s create-admin <username> <password> [email]", os.Args[0])
		}
		email := ""
		if len(os.Args) > 4 {
			email = os.Args[4]
		}
		return createAdmin(cfg, os.Args[2], os.Args[3], email)
	case "version":
		fmt.Printf("Python Package Registry v%s\n", version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, create-admin, version", command)
	}
}

func serve(cfg *config.Config) error {
	// Everything below logs through slog, so the logger comes up first.
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level, cfg.Logging.Output)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Capture the configured JWT secret, then validate the resolved secret
	// (fails in production if none is set anywhere).
	auth.SetJWTSecret(cfg.Auth.JWT.Secret)
	if err := auth.ValidateJWTSecret(); err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}

	logDatabaseTarget(cfg)
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	telemetry.StartDBStatsCollector(database)

	if v, dirty, err := db.GetMigrationVersion(database, cfg.Database.Driver); err != nil {
		slog.Warn("could not read schema version", "error", err)
	} else {
		slog.Info("database ready", "schema_version", v, "dirty", dirty)
	}

	// Seed a default admin account on first boot so operators can log in and
	// mint tokens before any users exist.
	if err := bootstrapAdmin(cfg, database); err != nil {
		slog.Warn("bootstrap admin handling failed", "error", err)
	}

	// Metrics and pprof listen on their own ports, out of reach of the public
	// ingress and of the API middleware chain.
	var sidecars []*http.Server
	if cfg.Telemetry.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort)
		sidecars = append(sidecars, startSidecar("metrics", addr, mux, 10*time.Second))
	}
	if cfg.Telemetry.Profiling.Enabled {
		// net/http/pprof registered its handlers on DefaultServeMux at init.
		addr := fmt.Sprintf(":%d", cfg.Telemetry.Profiling.Port)
		sidecars = append(sidecars, startSidecar("pprof", addr, http.DefaultServeMux, 30*time.Second))
	}

	router, bgServices := api.NewRouter(cfg, database)
	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("server listening",
			"addr", cfg.Server.GetAddress(),
			"public_url", cfg.Server.GetPublicURL(),
			"storage_backend", cfg.Storage.DefaultBackend,
			"auth_enabled", cfg.Auth.Enabled,
			"tls", cfg.Security.TLS.Enabled)

		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	for _, s := range sidecars {
		_ = s.Shutdown(ctx)
	}
	bgServices.Shutdown()

	slog.Info("server stopped")
	return nil
}

// openDatabase connects and brings the schema up to date, the sequence every
// subcommand that touches the database needs.
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	database, err := db.Connect(cfg.Database.Driver, cfg.Database.GetDSN(),
		cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.RunMigrations(database, cfg.Database.Driver, "up"); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return database, nil
}

// logDatabaseTarget records where the index lives. The postgres password is
// masked down to its first character.
func logDatabaseTarget(cfg *config.Config) {
	if cfg.Database.Driver != "postgres" {
		slog.Info("database target", "driver", cfg.Database.Driver, "path", cfg.Database.Path)
		return
	}
	masked := "****"
	if cfg.Database.Password != "" {
		masked = cfg.Database.Password[:1] + "****"
	}
	slog.Info("database target",
		"driver", "postgres",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"user", cfg.Database.User,
		"password", masked,
		"dbname", cfg.Database.Name,
		"sslmode", cfg.Database.SSLMode)
}

// startSidecar serves handler on its own listener in the background and hands
// the server back so shutdown can drain it.
func startSidecar(name, addr string, handler http.Handler, timeout time.Duration) *http.Server {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	go func() {
		slog.Info("sidecar listening", "name", name, "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("sidecar listener failed", "name", name, "error", err)
		}
	}()
	return srv
}

// bootstrapAdmin seeds an admin/admin account when auth.bootstrap_admin is set
// and the users table is empty. The credentials are deliberately well-known;
// the loud warning tells the operator to replace them. Restarts are no-ops
// once any user exists, including a renamed or deactivated one.
func bootstrapAdmin(cfg *config.Config, database *sql.DB) error {
	if !cfg.Auth.BootstrapAdmin {
		return nil
	}

	ctx := context.Background()
	userRepo := repositories.NewUserRepository(database)

	count, err := userRepo.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to count users: %w", err)
	}
	if count > 0 {
		return nil // registry already has accounts, nothing to do
	}

	hash, err := auth.HashPassword("admin")
	if err != nil {
		return fmt.Errorf("failed to hash bootstrap password: %w", err)
	}

	user := &models.User{
		Username:     "admin",
		Email:        "admin@localhost",
		PasswordHash: hash,
		IsAdmin:      true,
		Active:       true,
	}
	if err := userRepo.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("failed to create bootstrap admin: %w", err)
	}

	slog.Warn("bootstrap admin created with WELL-KNOWN credentials",
		"username", "admin",
		"password", "admin",
		"next_steps", "log in, create a personal admin via POST /api/v1/admin/users, then POST /api/v1/admin/users/admin/deactivate")
	if !cfg.Security.TLS.Enabled {
		slog.Warn("TLS is not enabled; login credentials will cross the wire in plaintext")
	}
	return nil
}

// createAdmin provisions an admin account from the command line. Useful when
// auth.bootstrap_admin is disabled, or after the bootstrap account has been
// deactivated and the remaining admins are locked out.
func createAdmin(cfg *config.Config, username, password, email string) error {
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level, cfg.Logging.Output)

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		IsAdmin:      true,
		Active:       true,
	}
	if err := repositories.NewUserRepository(database).CreateUser(context.Background(), user); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	slog.Info("admin user created", "username", username, "id", user.ID)
	return nil
}

func runMigrations(cfg *config.Config, direction string) error {
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level, cfg.Logging.Output)

	database, err := db.Connect(cfg.Database.Driver, cfg.Database.GetDSN(),
		cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := db.RunMigrations(database, cfg.Database.Driver, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	v, dirty, err := db.GetMigrationVersion(database, cfg.Database.Driver)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	slog.Info("migration complete", "direction", direction, "schema_version", v, "dirty", dirty)
	return nil
}
