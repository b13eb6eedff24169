package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insta-extractor/internal/config"
)

func TestNewClickHouseDB(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := &config.ClickHouseConfig{
		Host:     envOr("CLICKHOUSE_HOST", "localhost"),
		Port:     envOr("CLICKHOUSE_PORT", "9000"),
		Database: envOr("CLICKHOUSE_DB", "extractor"),
		User:     envOr("CLICKHOUSE_USER", "default"),
		Password: envOr("CLICKHOUSE_PASSWORD", ""),
	}

	db, err := NewClickHouseDB(cfg)
	if err != nil {
		t.Skipf("Skipping test - ClickHouse not available: %v", err)
		return
	}
	defer func() {
		if err := db.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	}()

	ctx := testContext(t)
	require.NoError(t, db.Ping(ctx))

	applied, err := RunClickHouseMigrations(ctx, db, migrationsDir("clickhouse"))
	require.NoError(t, err)
	assert.NotEmpty(t, applied)
}

func TestClickHouseOptions(t *testing.T) {
	opts := clickHouseOptions(&config.ClickHouseConfig{
		Host:     "ch.internal",
		Port:     "9440",
		Database: "extractor",
		User:     "writer",
	})

	assert.Equal(t, []string{"ch.internal:9440"}, opts.Addr)
	assert.Equal(t, "extractor", opts.Auth.Database)
	assert.Equal(t, "writer", opts.Auth.Username)
	assert.Equal(t, 1, opts.Settings["async_insert"])
	require.NotNil(t, opts.Compression)
	assert.Equal(t, clickhouse.CompressionLZ4, opts.Compression.Method)
}

func TestClickHouseDB_CloseNil(t *testing.T) {
	var db *ClickHouseDB
	assert.NoError(t, db.Close())
}

func TestSplitSQLStatements(t *testing.T) {
	content := `
-- header comment
CREATE TABLE a (
    x Int64
) ENGINE = Memory;

-- second
CREATE TABLE b (y String);
SELECT 1`

	stmts := splitSQLStatements(content)
	require.Len(t, stmts, 3)
	assert.Contains(t, stmts[0], "CREATE TABLE a")
	assert.NotContains(t, stmts[0], ";")
	assert.Equal(t, "CREATE TABLE b (y String)", stmts[1])
	assert.Equal(t, "SELECT 1", stmts[2])
}

func TestClickHouseMigrationFilesParse(t *testing.T) {
	files, err := filepath.Glob(filepath.Join(migrationsDir("clickhouse"), "*.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		content, err := os.ReadFile(f)
		require.NoError(t, err)
		assert.NotEmpty(t, splitSQLStatements(string(content)), f)
	}
}
