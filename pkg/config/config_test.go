package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, "/api", cfg.APIPrefix)
	assert.Equal(t, 5*time.Second, cfg.Source.FetchTimeout)
	assert.Equal(t, 30*time.Second, cfg.Sync.MemoryTTL)
	assert.Equal(t, 5*time.Minute, cfg.Sync.BackgroundWindow)
	assert.Equal(t, 10*time.Second, cfg.Sync.ForegroundWindow)
	assert.Equal(t, SnapshotBackendRedis, cfg.Snapshot.Backend)
	assert.False(t, cfg.Sync.RemoteSync)
}

func TestLoadEnvOverrides(t *testing.T) {
	chdirTemp(t)
	t.Setenv("FETCH_TIMEOUT", "750ms")
	t.Setenv("SNAPSHOT_BACKEND", "SQLite")
	t.Setenv("ENABLE_REMOTE_SYNC", "true")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("FOREGROUND_REFRESH_WINDOW", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, cfg.Source.FetchTimeout)
	assert.Equal(t, SnapshotBackendSQLite, cfg.Snapshot.Backend)
	assert.True(t, cfg.Sync.RemoteSync)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, 10*time.Second, cfg.Sync.ForegroundWindow)
}

func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
