package storage

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/insta-extractor/internal/config"
)

// testContext creates a context with timeout for tests
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func testPostgresConfig() *config.PostgresConfig {
	return &config.PostgresConfig{
		Host:           envOr("POSTGRES_HOST", "localhost"),
		Port:           envOr("POSTGRES_PORT", "5432"),
		Database:       envOr("POSTGRES_DB", "extractor_test"),
		User:           envOr("POSTGRES_USER", "extractor"),
		Password:       envOr("POSTGRES_PASSWORD", "extractor_dev_password"),
		MaxConnections: 10,
	}
}

func migrationsDir(name string) string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations", name)
}

// openTestPostgres connects to a migrated test database or skips the test
func openTestPostgres(t *testing.T) *PostgresDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := testPostgresConfig()
	db, err := NewPostgresDB(cfg)
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
	}
	t.Cleanup(db.Close)

	if err := NewMigrator(cfg.URL(), migrationsDir("postgres")).Up(); err != nil {
		t.Fatalf("migrations failed: %v", err)
	}
	return db
}
