package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyflow/internal/config"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ENV", "dev")
	t.Setenv("BACKEND_BASE_URL", "https://api.example.com")
	t.Setenv("BACKEND_TOKEN", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	c, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", c.Env)
	assert.Equal(t, "https://api.example.com", c.Backend.BaseURL)
	assert.Equal(t, 30*time.Second, c.Backend.Timeout)
	assert.Equal(t, "sqlite", c.Registry.Driver)
	assert.Equal(t, ":8080", c.HTTP.Addr)
	assert.Equal(t, "@every 1h", c.Janitor.Schedule)
	assert.Equal(t, 72*time.Hour, c.Janitor.Retention)
	assert.Empty(t, c.Push.Driver)
}

func TestLoadRequiresBaseURL(t *testing.T) {
	t.Setenv("ENV", "dev")
	t.Setenv("BACKEND_BASE_URL", "")

	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoadPostgresRequiresDSN(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("REGISTRY_DRIVER", "postgres")
	t.Setenv("REGISTRY_DSN", "")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REGISTRY_DSN")
}

func TestLoadPushRequiresURL(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PUSH_DRIVER", "nats")
	t.Setenv("PUSH_URL", "")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PUSH_URL")
}

func TestLoadDurationOverride(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("BACKEND_TIMEOUT", "5s")
	t.Setenv("JANITOR_RETENTION", "48h")

	c, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, c.Backend.Timeout)
	assert.Equal(t, 48*time.Hour, c.Janitor.Retention)
}
