package db

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/uptrace/bun"
)

// MigrateUp applies the versioned SQL migrations in dir against the
// Postgres database behind bunDB. Production schema changes go through
// these files; Migrate (CreateTable) stays the path for the sqlite
// test databases, where versioning buys nothing.
func MigrateUp(bunDB *bun.DB, dir string) error {
	m, err := newMigrator(bunDB, dir)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateDown rolls every migration back. Test teardown only.
func MigrateDown(bunDB *bun.DB, dir string) error {
	m, err := newMigrator(bunDB, dir)
	if err != nil {
		return err
	}
	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

func newMigrator(bunDB *bun.DB, dir string) (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(bunDB.DB, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, nil
}
