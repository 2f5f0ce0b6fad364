package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerDefaults(t *testing.T) {
	cfg, err := LoadServer(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, "host", cfg.ModerationPolicy)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Equal(t, 24*time.Hour, cfg.PresenceTTL)
}

func TestLoadServerFileAndEnv(t *testing.T) {
	file := filepath.Join(t.TempDir(), "huddle.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
listen: ":9000"
allowed_origins:
  - https://a.example
moderation:
  policy: open
redis:
  addr: localhost:6379
log:
  level: debug
  format: json
`), 0o600))
	t.Setenv("HUDDLE_ALLOWED_ORIGINS", "https://b.example, https://c.example")
	t.Setenv("HUDDLE_AUTH_JWT_SECRET", "s3cret")

	cfg, err := LoadServer(viper.New(), file)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, []string{"https://b.example", "https://c.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "open", cfg.ModerationPolicy)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, LogConfig{Level: "debug", Format: "json"}, cfg.Log)
}

func TestLoadServerBadFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "huddle.yaml")
	require.NoError(t, os.WriteFile(file, []byte("listen: [unterminated"), 0o600))

	_, err := LoadServer(viper.New(), file)
	assert.Error(t, err)
}

func TestLoadPeer(t *testing.T) {
	cfg, err := LoadPeer(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "ws://localhost:8080/ws", cfg.ServerURL)
	assert.Equal(t, 5, cfg.ReconnectAttempts)
	assert.Equal(t, time.Second, cfg.ReconnectDelay)
	assert.True(t, cfg.Video)
	assert.True(t, cfg.Audio)
	assert.Len(t, cfg.ICEServers, 2)

	v := viper.New()
	v.Set("server_url", "")
	_, err = LoadPeer(v, "")
	assert.Error(t, err)
}
