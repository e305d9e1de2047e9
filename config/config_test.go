package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnv_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "production")

	cfg := LoadEnv()

	assert.Equal(t, "8080", cfg.Server.HTTPPort)
	assert.Equal(t, "json", cfg.Logger.Encoding)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.False(t, cfg.Logger.Development)
	assert.Equal(t, 500*time.Millisecond, cfg.Cache.Debounce)
	assert.Equal(t, 10*time.Minute, cfg.Cache.IdleTimeout)
	assert.Equal(t, 10*time.Second, cfg.Signals.CatchUpWindow)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoadEnv_Overrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("CACHE_DEBOUNCE", "250ms")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("LOGGER_DISABLE_CALLER", "true")
	t.Setenv("SIGNAL_CATCHUP_WINDOW", "not-a-duration")

	cfg := LoadEnv()

	assert.Equal(t, "9090", cfg.Server.HTTPPort)
	assert.Equal(t, 250*time.Millisecond, cfg.Cache.Debounce)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.True(t, cfg.Logger.DisableCaller)
	assert.Equal(t, 10*time.Second, cfg.Signals.CatchUpWindow, "unparseable values fall back")
}

func TestLoad_ReadsDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("ADMIN_SECRET=from-file\n"), 0o600))
	t.Setenv("ADMIN_SECRET", "")
	require.NoError(t, os.Unsetenv("ADMIN_SECRET"))

	cfg := Load(path)

	assert.Equal(t, "from-file", cfg.Admin.Secret)
}

func TestStoreConfig_Location(t *testing.T) {
	assert.Equal(t, time.UTC, StoreConfig{Timezone: "Nowhere/Invalid"}.Location())
	assert.Equal(t, "UTC", StoreConfig{Timezone: "UTC"}.Location().String())
}
