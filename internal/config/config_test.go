package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 8081, cfg.InternalPort)
	assert.Equal(t, 0, cfg.RPCPort)
	assert.Equal(t, 30*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, 1000, cfg.MaxContentLength)
	assert.Equal(t, "local", cfg.ObjectStore)
	assert.False(t, cfg.IsMockGateway())
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("GATEWAY_TIMEOUT", "5s")
	t.Setenv("GATEWAY_MODE", "MOCK")
	t.Setenv("DATABASE_URL", "postgres://relay@localhost/relay")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.HTTPPort)
	assert.Equal(t, 5*time.Second, cfg.GatewayTimeout)
	assert.True(t, cfg.IsMockGateway())
	assert.Equal(t, "postgres://relay@localhost/relay", cfg.DatabaseURL)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GATEWAY_TIMEOUT", "0s")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsUnparsable(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HTTP_PORT", "not-a-number")

	_, err := Load()
	assert.Error(t, err)
}
