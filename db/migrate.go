// Package db applies the embedded schema migrations for the PostgreSQL
// index backend.
package db

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // pgx v5 driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDirtyState indicates a previous migration failed partway and the
// schema needs manual repair before new migrations can run.
var ErrDirtyState = errors.New("database in dirty migration state")

// Migrate applies all pending migrations, embedded at compile time and
// executed in order. golang-migrate tracks applied versions in its
// schema_migrations table, so reruns are no-ops.
//
// connURL must be a postgres:// or postgresql:// URL.
func Migrate(connURL string) error {
	m, err := newMigrator(connURL)
	if err != nil {
		return err
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			slog.Warn("closing migration source", "error", srcErr)
		}
		if dbErr != nil {
			slog.Warn("closing migration database connection", "error", dbErr)
		}
	}()

	if err := ensureClean(m); err != nil {
		return err
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Debug("no new migrations to apply")
			return nil
		}
		// A failed Up may itself leave the schema dirty.
		if version, dirty, verErr := m.Version(); verErr == nil && dirty {
			slog.Error("migration failed, schema left dirty",
				"version", version,
				"hint", fmt.Sprintf("fix the migration and run: migrate force %d", version))
		}
		return fmt.Errorf("running migrations: %w", err)
	}

	if version, dirty, err := m.Version(); err == nil {
		slog.Info("migrations applied", "version", version, "dirty", dirty)
	}
	return nil
}

// newMigrator builds a migrate instance over the embedded migration
// files. golang-migrate selects its pgx v5 driver by the pgx5:// URL
// scheme, so the postgres scheme is rewritten here.
func newMigrator(connURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("reading embedded migrations: %w", err)
	}

	u, err := url.Parse(connURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		u.Scheme = "pgx5"
	default:
		return nil, fmt.Errorf("unsupported database URL scheme %q", u.Scheme)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, u.String())
	if err != nil {
		return nil, fmt.Errorf("connecting for migrations: %w", err)
	}
	return m, nil
}

// ensureClean refuses to run on a schema a previous migration left
// half-applied.
func ensureClean(m *migrate.Migrate) error {
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("checking migration version: %w", err)
	}
	if dirty {
		slog.Error("schema needs manual repair",
			"version", version,
			"hint", fmt.Sprintf("inspect schema and run: migrate force %d", version))
		return fmt.Errorf("%w (version=%d)", ErrDirtyState, version)
	}
	return nil
}
