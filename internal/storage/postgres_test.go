package storage

import (
	"testing"
)

func TestNewPostgresDB(t *testing.T) {
	db := openTestPostgres(t)

	ctx := testContext(t)
	if err := db.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
	if db.Pool() == nil {
		t.Error("Pool() returned nil")
	}
}

func TestMigrator_Version(t *testing.T) {
	openTestPostgres(t)

	version, dirty, err := NewMigrator(testPostgresConfig().URL(), migrationsDir("postgres")).Version()
	if err != nil {
		t.Fatalf("Version() error = %v", err)
	}
	if dirty {
		t.Error("migrations are dirty")
	}
	if version < 3 {
		t.Errorf("Version() = %d, want >= 3", version)
	}
}
