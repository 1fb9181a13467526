package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed *.sql
var MigrationFiles embed.FS

// Status is the migration state of a database. Version 0 means no migration
// has been applied.
type Status struct {
	Version uint
	Dirty   bool
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(MigrationFiles, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}
	drv, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", drv)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

func status(m *migrate.Migrate) (Status, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("failed to get migration version: %w", err)
	}
	return Status{Version: version, Dirty: dirty}, nil
}

// CurrentStatus reports the migration state of db without changing it.
func CurrentStatus(db *sql.DB) (Status, error) {
	m, err := newMigrator(db)
	if err != nil {
		return Status{}, err
	}
	return status(m)
}

// RunMigrations brings the elements table up to date. With autoMigrate
// false it only logs the current version.
func RunMigrations(db *sql.DB, autoMigrate bool) error {
	m, err := newMigrator(db)
	if err != nil {
		return err
	}
	before, err := status(m)
	if err != nil {
		return err
	}

	if before.Dirty {
		slog.Warn("[Migrations] Database is in dirty state", "version", before.Version, "action", "forcing current version")
		// Only one baseline migration exists, so forcing is safe.
		if err := m.Force(int(before.Version)); err != nil {
			return fmt.Errorf("failed to recover dirty migration state at version %d: %w", before.Version, err)
		}
	}

	if !autoMigrate {
		slog.Info("[Migrations] Auto-migration disabled", "current_version", before.Version)
		return nil
	}

	switch err := m.Up(); {
	case errors.Is(err, migrate.ErrNoChange):
		slog.Info("[Migrations] Schema is up to date", "version", before.Version)
		return nil
	case err != nil:
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	after, err := status(m)
	if err != nil {
		return err
	}
	slog.Info("[Migrations] Completed", "from_version", before.Version, "to_version", after.Version)
	return nil
}
