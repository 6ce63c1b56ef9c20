package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_CreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "filedeck.yaml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err, "default config should be written")

	assert.Equal(t, 8089, cfg.Server.Port)
	assert.Equal(t, ModeLocal, cfg.Tracker.Mode)
	assert.Equal(t, "prepend", cfg.Tracker.Placement)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.Storage.DataDirectory)
	assert.Equal(t, filepath.Join(dir, "data", "journal.duckdb"), cfg.Storage.JournalPath)
	assert.Equal(t, "0.0.0.0:8089", cfg.GetServerAddr())
}

func TestLoadConfig_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "filedeck.yaml")
	content := `
server:
  port: 9000
tracker:
  mode: remote
  placement: append
remote:
  baseUrl: https://files.example.com/api
channel:
  kind: poll
  pollIntervalSeconds: 2
storage:
  dataDirectory: /var/lib/filedeck
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, ModeRemote, cfg.Tracker.Mode)
	assert.Equal(t, "append", cfg.Tracker.Placement)
	assert.Equal(t, ChannelPoll, cfg.Channel.Kind)
	assert.Equal(t, 2, cfg.Channel.PollIntervalSeconds)
	assert.Equal(t, "/var/lib/filedeck", cfg.Storage.DataDirectory)
	// unset keys keep their defaults
	assert.Equal(t, 100, cfg.Notices.Capacity)
	assert.Equal(t, "file-status", cfg.Channel.RedisChannel)
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("DATA_DIR", "/srv/deck")
	t.Setenv("FILEDECK_MODE", "REMOTE")
	t.Setenv("REMOTE_API_URL", "http://remote:1234")
	t.Setenv("REMOTE_API_TOKEN", "tok")
	t.Setenv("SUMMARIZER_URL", "http://sum:8000/summarize")
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "filedeck.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "/srv/deck", cfg.Storage.DataDirectory)
	assert.Equal(t, "/srv/deck/uploads", cfg.Storage.UploadsDirectory)
	assert.Equal(t, ModeRemote, cfg.Tracker.Mode)
	assert.Equal(t, "http://remote:1234", cfg.Remote.BaseURL)
	assert.Equal(t, "tok", cfg.Remote.Token)
	assert.Equal(t, "http://sum:8000/summarize", cfg.Summarizer.Endpoint)
	assert.Equal(t, "env-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, "redis:6379", cfg.Channel.RedisAddr)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filedeck.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *AppConfig)
		wantErr bool
	}{
		{"defaults", func(c *AppConfig) {}, false},
		{"bad mode", func(c *AppConfig) { c.Tracker.Mode = "hybrid" }, true},
		{"bad placement", func(c *AppConfig) { c.Tracker.Placement = "middle" }, true},
		{"bad channel", func(c *AppConfig) { c.Channel.Kind = "carrier-pigeon" }, true},
		{"websocket without url", func(c *AppConfig) { c.Channel.Kind = ChannelWebSocket }, true},
		{"redis without addr", func(c *AppConfig) { c.Channel.Kind = ChannelRedis }, true},
		{"redis with addr", func(c *AppConfig) { c.Channel.Kind = ChannelRedis; c.Channel.RedisAddr = "localhost:6379" }, false},
		{"remote without url", func(c *AppConfig) { c.Tracker.Mode = ModeRemote; c.Remote.BaseURL = "" }, true},
		{"bad port", func(c *AppConfig) { c.Server.Port = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Watch.Enabled = true
	cfg.resolvePaths(dir)

	require.NoError(t, cfg.EnsureDirectories())
	for _, d := range []string{cfg.Storage.DataDirectory, cfg.Storage.UploadsDirectory, cfg.Watch.Directory} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
