// Package db opens the index database and keeps its schema current.
//
// Two dialects are supported: an embedded SQLite file (modernc.org/sqlite,
// no CGO) for single-node deployments, and PostgreSQL (lib/pq) when several
// writers share one index. Schema migrations ride inside the binary via
// go:embed and are applied by golang-migrate at startup, so a fresh database
// needs no external tooling.
package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // cgo-free sqlite driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Connect opens a pool for the given driver ("sqlite" or "postgres"),
// applies the pool limits, and verifies the database answers a ping before
// handing the pool back.
func Connect(driver, dsn string, maxConns, maxIdle int) (*sql.DB, error) {
	if driver != "sqlite" && driver != "postgres" {
		return nil, fmt.Errorf("unsupported database driver: %s (must be 'sqlite' or 'postgres')", driver)
	}

	pool, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	pool.SetMaxOpenConns(maxConns)
	pool.SetMaxIdleConns(maxIdle)

	if err := pool.Ping(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// newMigrator pairs the embedded migration files with a golang-migrate
// database driver matching the configured dialect.
func newMigrator(db *sql.DB, driver string) (*migrate.Migrate, error) {
	var (
		dbDriver database.Driver
		err      error
	)
	switch driver {
	case "sqlite":
		dbDriver, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	case "postgres":
		dbDriver, err = migratepostgres.WithInstance(db, &migratepostgres.Config{})
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, driver, dbDriver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration instance: %w", err)
	}
	return m, nil
}

// RunMigrations walks the embedded schema in the given direction, "up" or
// "down". A schema that is already current is not an error.
func RunMigrations(db *sql.DB, driver, direction string) error {
	m, err := newMigrator(db, driver)
	if err != nil {
		return err
	}

	var step func() error
	switch direction {
	case "up":
		step = m.Up
	case "down":
		step = m.Down
	default:
		return fmt.Errorf("invalid migration direction: %s (must be 'up' or 'down')", direction)
	}

	if err := step(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration %s failed: %w", direction, err)
	}
	return nil
}

// GetMigrationVersion reports the schema version the database currently sits
// at. A virgin database (no migrations applied yet) reports version 0.
func GetMigrationVersion(db *sql.DB, driver string) (version uint, dirty bool, err error) {
	m, err := newMigrator(db, driver)
	if err != nil {
		return 0, false, err
	}

	version, dirty, err = m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}
