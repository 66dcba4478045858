package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp переходит во временную директорию, чтобы не подхватить чужие .env и config/api.yaml.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("APP_ENV", "production") // не читать .env
	t.Setenv("DATABASE_URL", "postgres://promatch:pw@db:5432/promatch")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, 15*time.Second, cfg.ReadTimeout)
	assert.Equal(t, FeedRedis, cfg.Feed.Backend)
	assert.True(t, cfg.Feed.NotifyBridge)
	assert.Equal(t, 20, cfg.Messaging.NotificationWindow)
	assert.Equal(t, 3, cfg.Messaging.ReadRetryAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Messaging.ReadRetryInitial)
	assert.Equal(t, 2*time.Second, cfg.Messaging.ReadRetryMax)
	assert.Equal(t, "@every 10s", cfg.Messaging.PendingFlushSpec)
	assert.False(t, cfg.Messaging.EraseDeletedContent)
	assert.Equal(t, 120, cfg.RateLimitPerMinute)
	assert.Equal(t, 20, cfg.DBMaxConnections())
}

func TestLoadProductionRejectsDevDatabase(t *testing.T) {
	chdirTemp(t)
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "api.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server_addr: \":9000\"\nfeed_backend: memory\nnotification_window: 50\nerase_deleted_content: true\n"), 0o600))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://promatch:pw@db:5432/promatch")
	t.Setenv("NOTIFICATION_WINDOW", "30")
	t.Setenv("READ_RETRY_ATTEMPTS", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ServerAddr)
	assert.Equal(t, FeedMemory, cfg.Feed.Backend)
	assert.Equal(t, 30, cfg.Messaging.NotificationWindow)
	assert.Equal(t, 5, cfg.Messaging.ReadRetryAttempts)
	assert.True(t, cfg.Messaging.EraseDeletedContent)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("FEED_BACKEND=memory\nRATE_LIMIT_PER_MINUTE=7\n"), 0o600))
	t.Setenv("CONFIG_PATH", "")
	// godotenv не перезаписывает существующие переменные, даже пустые
	for _, k := range []string{"APP_ENV", "FEED_BACKEND", "RATE_LIMIT_PER_MINUTE"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, FeedMemory, cfg.Feed.Backend)
	assert.Equal(t, 7, cfg.RateLimitPerMinute)
}

func TestLoadRejectsInvalid(t *testing.T) {
	chdirTemp(t)
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("APP_ENV", "production")
	t.Setenv("FEED_BACKEND", "kafka")
	t.Setenv("PENDING_FLUSH_SPEC", "sometimes")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FEED_BACKEND")
	assert.Contains(t, err.Error(), "PENDING_FLUSH_SPEC")
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("X_INT", "nope")
	t.Setenv("X_BOOL", "true")
	assert.Equal(t, 4, envInt("X_INT", 4))
	assert.True(t, envBool("X_BOOL", false))
	assert.Equal(t, "fb", envStr("X_MISSING", "fb"))
}
