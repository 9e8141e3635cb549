package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  port: "9090"
  public_base_url: https://posts.example.com/
redis:
  url: redis://localhost:6379/0
publish:
  timeout: 90s
  inter_publish_delay: 0s
  max_polls: 4
credentials:
  refresh_threshold: 72h
cleanup:
  delay: 30m
media:
  proxy_allowed_hosts: [cdn.example.com]
platforms:
  threads:
    client_id: th-app
    rate_limit:
      max_requests: 10
      window: 1h
  facebook:
    enabled: false
accounts:
  - platform: tiktok
    external_id: open-1
    access_token: tok
    expires_at: "2026-05-01T00:00:00Z"
`

func TestParseAppliesValuesAndDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, "https://posts.example.com", cfg.PublicBaseURL)
	assert.Equal(t, "https://posts.example.com/api/cleanup", cfg.CleanupCallbackURL)
	assert.Equal(t, "https://posts.example.com/media/files", cfg.MediaStorageBaseURL)
	assert.Equal(t, 90*time.Second, cfg.PublishTimeout)
	assert.Equal(t, time.Duration(0), cfg.InterPublishDelay)
	assert.Equal(t, 4, cfg.ContainerMaxPolls)
	assert.Equal(t, 30*time.Minute, cfg.CleanupDelay)
	assert.Equal(t, []string{"cdn.example.com"}, cfg.MediaProxyAllowedHosts)
	require.Len(t, cfg.BootstrapAccounts, 1)
	assert.Equal(t, "open-1", cfg.BootstrapAccounts[0].ExternalID)

	threads, ok := cfg.Platform("threads")
	require.True(t, ok)
	assert.True(t, threads.Enabled)
	assert.Equal(t, "th-app", threads.ClientID)
	assert.Equal(t, 10, threads.RateLimitMax)
	assert.Equal(t, time.Hour, threads.RateLimitWindow)
	assert.Equal(t, "https://graph.threads.net/v1.0", threads.BaseURL)
	assert.Equal(t, 72*time.Hour, threads.RefreshThreshold)

	facebook, ok := cfg.Platform("facebook")
	require.True(t, ok)
	assert.False(t, facebook.Enabled)

	youtube, ok := cfg.Platform("YouTube")
	require.True(t, ok)
	assert.True(t, youtube.Enabled)
	assert.Equal(t, 10*time.Minute, youtube.RefreshThreshold)
	assert.Equal(t, 6, youtube.RateLimitMax)
}

func TestParseEnvOverrides(t *testing.T) {
	t.Setenv("CROSSPOST_CLEANUP_SIGNING_SECRET", "from-env")
	t.Setenv("CROSSPOST_TIKTOK_CLIENT_SECRET", "tt-secret")

	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.CleanupSigningSecret)
	tiktok, _ := cfg.Platform("tiktok")
	assert.Equal(t, "tt-secret", tiktok.ClientSecret)
	assert.Equal(t, "https://open.tiktokapis.com", tiktok.BaseURL)
}

func TestLoadEnvFromDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("CROSSPOST_REDIS_URL=redis://env:6379/1\n"), 0644))
	t.Setenv("CROSSPOST_REDIS_URL", "")

	loaded := LoadEnv(nil, envFile, filepath.Join(dir, "missing.env"))
	assert.Equal(t, []string{envFile}, loaded)

	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "redis://env:6379/1", cfg.RedisURL)
}

func TestManagerCreatesDefaultConfigAndUpdates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	m := NewManager(path)

	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, 2*time.Second, cfg.InterPublishDelay)
	assert.FileExists(t, path)

	require.NoError(t, m.Update(map[string]interface{}{
		"publish.timeout":           "45s",
		"media.proxy_allowed_hosts": []string{"cdn.example.com"},
	}))
	require.Error(t, m.Update(map[string]interface{}{"unknown.key": 1}))

	reloaded, err := m.Reload()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, reloaded.PublishTimeout)
	assert.Equal(t, []string{"cdn.example.com"}, reloaded.MediaProxyAllowedHosts)
	assert.Equal(t, 2*time.Second, reloaded.InterPublishDelay)
	assert.Len(t, reloaded.Platforms, len(KnownPlatforms()))
}
