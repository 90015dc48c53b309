package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.AppEnv)
	assert.Equal(t, defaultDatabaseURL, cfg.DatabaseURL)
	assert.Equal(t, 12*time.Hour, cfg.JWTTTL)
	assert.Equal(t, 3*time.Second, cfg.LockWait)
	assert.Equal(t, 30*time.Second, cfg.ReportTickInterval)
	assert.Equal(t, time.UTC, cfg.ReportTimezone)
	assert.True(t, cfg.SchedulerEnabled)
	assert.Empty(t, cfg.CORSOrigins)
	assert.Equal(t, "notifications.request", cfg.NotificationQueue)
	assert.Equal(t, 90*24*time.Hour, cfg.NoticeRetention)
	assert.Equal(t, 24*time.Hour, cfg.NoticeCleanupEvery)
	assert.True(t, cfg.RateLimitEnabled)
	assert.Equal(t, 60, cfg.RateLimitPerMinute)
	assert.Equal(t, 60, cfg.RateLimitBurst)
	assert.False(t, cfg.IsProd())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("LOCK_WAIT", "500ms")
	t.Setenv("REPORT_TIMEZONE", "Europe/Istanbul")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com,")
	t.Setenv("REPORT_SCHEDULER_ENABLED", "no")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "120")
	t.Setenv("RATE_LIMIT_BURST", "20")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, cfg.LockWait)
	assert.Equal(t, "Europe/Istanbul", cfg.ReportTimezone.String())
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORSOrigins)
	assert.False(t, cfg.SchedulerEnabled)
	assert.Equal(t, 120, cfg.RateLimitPerMinute)
	assert.Equal(t, 20, cfg.RateLimitBurst)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"JWT_TTL":               "soon",
		"REPORT_TICK_INTERVAL":  "5m",
		"REPORT_TIMEZONE":       "Mars/Olympus",
		"REDIS_DB":              "x",
		"RATE_LIMIT_PER_MINUTE": "0",
		"RATE_LIMIT_BURST":      "lots",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv("APP_ENV", "dev")
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestProdRequiresSecretAndOrigins(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	_, err := Load()
	assert.ErrorContains(t, err, "JWT_SECRET")

	t.Setenv("JWT_SECRET", "a-real-secret")
	t.Setenv("CORS_ORIGINS", "*")
	_, err = Load()
	assert.ErrorContains(t, err, "CORS_ORIGINS")

	t.Setenv("CORS_ORIGINS", "https://desk.example.com")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProd())
}

func TestLoadEnvFilesPrefersAppEnvFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.staging"), []byte("REPORT_QUEUE=staging.reports\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("REPORT_QUEUE=fallback.reports\n"), 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Setenv("APP_ENV", "staging")
	t.Setenv("REPORT_QUEUE", "")
	require.NoError(t, os.Unsetenv("REPORT_QUEUE"))
	LoadEnvFiles()
	t.Cleanup(func() { _ = os.Unsetenv("REPORT_QUEUE") })

	assert.Equal(t, "staging.reports", os.Getenv("REPORT_QUEUE"))
}
