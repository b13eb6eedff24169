package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("POSTGRES_HOST", "testhost")
	t.Setenv("WORKER_POLL_INTERVAL", "5s")
	t.Setenv("UPSTREAM_RPS", "2.5")
	t.Setenv("CLICKHOUSE_ENABLED", "false")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "testhost", cfg.Database.Postgres.Host)
	assert.Equal(t, 5*time.Second, cfg.Worker.PollInterval)
	assert.Equal(t, 2.5, cfg.Upstream.RequestsPerSec)
	assert.False(t, cfg.Database.ClickHouse.Enabled)
	assert.Equal(t, int64(1000), cfg.Coins.FallbackEstimate)
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_KEY",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when environment variable not set",
			key:          "NONEXISTENT_KEY",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}
			assert.Equal(t, tt.want, getEnv(tt.key, tt.defaultValue))
		})
	}
}

func TestGetEnvAsInt_InvalidFallsBack(t *testing.T) {
	t.Setenv("TEST_INT", "not-a-number")
	assert.Equal(t, 7, getEnvAsInt("TEST_INT", 7))
}

func TestGetEnvAsDuration(t *testing.T) {
	t.Setenv("TEST_DURATION", "250ms")
	assert.Equal(t, 250*time.Millisecond, getEnvAsDuration("TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, getEnvAsDuration("TEST_DURATION_MISSING", time.Second))
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Upstream: UpstreamConfig{RequestsPerSec: 1},
		Worker:   WorkerConfig{PollInterval: time.Second},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UPSTREAM_ACCESS_KEY is required")

	cfg.Upstream.AccessKey = "key"
	assert.NoError(t, cfg.Validate())
}

func TestPostgresConfig_URL(t *testing.T) {
	c := PostgresConfig{Host: "db", Port: "5432", Database: "x", User: "u", Password: "p"}
	assert.Equal(t, "postgres://u:p@db:5432/x?sslmode=disable", c.URL())
}

func TestValidate_Budget(t *testing.T) {
	cfg := &Config{
		Upstream: UpstreamConfig{AccessKey: "key", RequestsPerSec: 1},
		Worker:   WorkerConfig{PollInterval: time.Second},
	}

	cfg.Upstream.Budget = BudgetConfig{PerWindow: 10, Reserved: 11}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UPSTREAM_BUDGET_RESERVED")

	cfg.Upstream.Budget.Reserved = 4
	assert.NoError(t, cfg.Validate())

	// disabled budget ignores the reserved share
	cfg.Upstream.Budget = BudgetConfig{Reserved: 4}
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_BudgetDisabledByDefault(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Zero(t, cfg.Upstream.Budget.PerWindow)
	assert.Equal(t, time.Second, cfg.Upstream.Budget.Window)
	assert.Equal(t, 30*time.Second, cfg.Upstream.Budget.MaxWait)
}

func TestLoadConfig_WorkerShutdownWaitsByDefault(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Zero(t, cfg.Worker.ShutdownTimeout)

	t.Setenv("WORKER_SHUTDOWN_TIMEOUT", "2m")
	cfg, err = LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.Worker.ShutdownTimeout)
}
