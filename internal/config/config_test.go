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
	t.Setenv(EnvPrefix+"CONFIG_PATH", "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventlist.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
db:
  path: /tmp/events.db
auth:
  jwt_secret: file-secret
  token_ttl: 2h
client:
  user_id: alice@example.com
  request_timeout: 5s
  backoff_max: 1m
`), 0o600))

	t.Setenv(EnvPrefix+"JWT_SECRET", "env-secret")
	t.Setenv(EnvPrefix+"CLIENT_BACKOFF_MIN", "250ms")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host, "unset keys keep their default")
	assert.Equal(t, "/tmp/events.db", cfg.DB.Path)
	assert.Equal(t, "env-secret", cfg.Auth.JWTSecret, "env wins over file")
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "alice@example.com", cfg.Client.UserID)
	assert.Equal(t, 5*time.Second, cfg.Client.RequestTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Client.BackoffMin)
	assert.Equal(t, time.Minute, cfg.Client.BackoffMax)
}

func TestLoadConfigPathFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventlist.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600))
	t.Setenv(EnvPrefix+"CONFIG_PATH", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadErrors(t *testing.T) {
	t.Setenv(EnvPrefix+"CONFIG_PATH", "")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("server: [unclosed"), 0o600))
	_, err = Load(bad)
	assert.Error(t, err)

	t.Setenv(EnvPrefix+"SERVER_PORT", "eighty")
	_, err = Load("")
	assert.ErrorContains(t, err, "SERVER_PORT")

	t.Setenv(EnvPrefix+"SERVER_PORT", "")
	t.Setenv(EnvPrefix+"CLIENT_REQUEST_TIMEOUT", "soon")
	_, err = Load("")
	assert.ErrorContains(t, err, "CLIENT_REQUEST_TIMEOUT")
}
