package storage

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Migrator applies the versioned Postgres migrations
type Migrator struct {
	databaseURL    string
	migrationsPath string
}

// NewMigrator creates a migrator for the given database and migrations directory
func NewMigrator(databaseURL, migrationsPath string) *Migrator {
	return &Migrator{databaseURL: databaseURL, migrationsPath: migrationsPath}
}

func (m *Migrator) run(fn func(*migrate.Migrate) error) error {
	mg, err := migrate.New(fmt.Sprintf("file://%s", m.migrationsPath), m.databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer func() {
		_, _ = mg.Close()
	}()
	return fn(mg)
}

// Up applies all pending migrations
func (m *Migrator) Up() error {
	return m.run(func(mg *migrate.Migrate) error {
		if err := mg.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		return nil
	})
}

// Down rolls back the given number of migrations
func (m *Migrator) Down(steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return m.run(func(mg *migrate.Migrate) error {
		if err := mg.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to roll back migrations: %w", err)
		}
		return nil
	})
}

// Version returns the current migration version; 0 means none applied
func (m *Migrator) Version() (version uint, dirty bool, err error) {
	err = m.run(func(mg *migrate.Migrate) error {
		v, d, verr := mg.Version()
		if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
			return fmt.Errorf("failed to get migration version: %w", verr)
		}
		version, dirty = v, d
		return nil
	})
	return version, dirty, err
}

// Force sets the version without running migrations, clearing a dirty state
func (m *Migrator) Force(version int) error {
	return m.run(func(mg *migrate.Migrate) error {
		if err := mg.Force(version); err != nil {
			return fmt.Errorf("failed to force version %d: %w", version, err)
		}
		return nil
	})
}
