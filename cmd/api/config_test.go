package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("LOCAL_EXECUTOR_CMD", "/usr/local/bin/localworker")
	t.Setenv("DB_DSN", "")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "books", cfg.QueuePrefix)
	assert.Equal(t, 3, cfg.MissLimit)
	assert.Equal(t, "@every 30s", cfg.ReconcileSchedule)
	assert.Equal(t, 15*time.Minute, cfg.HealthWindow)
	assert.Equal(t, 500, cfg.DebugLogCapacity)
	assert.Empty(t, cfg.DSN)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("WORKER_BASE_URL", "https://worker.internal")
	t.Setenv("LOCAL_EXECUTOR_ARGS", "--catalog-dsn  postgres://x")
	t.Setenv("ALLOWED_ORIGINS", "https://ops.example, https://admin.example")
	t.Setenv("POLL_MISS_LIMIT", "5")
	t.Setenv("HEALTH_WINDOW", "1h")
	t.Setenv("RATE_LIMIT_RPS", "2.5")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"--catalog-dsn", "postgres://x"}, cfg.LocalArgs)
	assert.Equal(t, []string{"https://ops.example", "https://admin.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 5, cfg.MissLimit)
	assert.Equal(t, time.Hour, cfg.HealthWindow)
	assert.Equal(t, 2.5, cfg.RateLimitRPS)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Run("no executor", func(t *testing.T) {
		t.Setenv("LOCAL_EXECUTOR_CMD", "")
		t.Setenv("WORKER_BASE_URL", "")
		_, err := loadConfig()
		assert.ErrorContains(t, err, "no executor configured")
	})

	t.Run("bad number", func(t *testing.T) {
		t.Setenv("LOCAL_EXECUTOR_CMD", "worker")
		t.Setenv("POLL_MISS_LIMIT", "three")
		_, err := loadConfig()
		assert.ErrorContains(t, err, "POLL_MISS_LIMIT")
	})

	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("LOCAL_EXECUTOR_CMD", "worker")
		t.Setenv("DB_TIMEOUT", "soon")
		_, err := loadConfig()
		assert.ErrorContains(t, err, "DB_TIMEOUT")
	})
}

func TestRedactDSN(t *testing.T) {
	assert.Equal(t, "postgres://***@db:5432/books", redactDSN("postgres://app:s3cret@db:5432/books"))
	assert.Equal(t, "host=db", redactDSN("host=db"))
}
