package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns the config dir inside it.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "shelve")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func writeConfig(t *testing.T, dir, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoadWithFile_Defaults(t *testing.T) {
	setupTestHome(t)

	cfg, err := LoadWithFile("")
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, BackendChromem, cfg.Store.Backend)
	assert.Equal(t, ProviderFastEmbed, cfg.Embeddings.Provider)
	assert.Equal(t, 3, cfg.Sync.Concurrency)
	assert.Equal(t, 5*time.Second, cfg.Sync.ContentTimeout.Duration())
	assert.Equal(t, 3, cfg.Embeddings.MinContentChars)
	assert.Equal(t, DefaultExcludedRoots, cfg.Placement.ExcludedRoots)
	assert.Equal(t, 30, cfg.Placement.LogTopN)
	assert.Equal(t, "shelve.items", cfg.Events.SubjectPrefix)
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `
server:
  http_port: 9300
store:
  backend: sqlite
sync:
  concurrency: 5
  content_timeout: 7s
placement:
  excluded_roots: [root________, toolbar_____]
embeddings:
  provider: tei
  base_url: http://tei.local:8080
`, 0600)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9300, cfg.Server.Port)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "~/.config/shelve/embeddings.db", cfg.Store.Path)
	assert.Equal(t, 5, cfg.Sync.Concurrency)
	assert.Equal(t, 7*time.Second, cfg.Sync.ContentTimeout.Duration())
	assert.Equal(t, []string{"root________", "toolbar_____"}, cfg.Placement.ExcludedRoots)
	assert.Equal(t, "http://tei.local:8080", cfg.Embeddings.BaseURL)
}

func TestLoadWithFile_EnvironmentOverride(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "sync:\n  concurrency: 5\n", 0600)

	t.Setenv("SHELVE_SYNC_CONCURRENCY", "8")
	t.Setenv("SHELVE_EMBEDDINGS_API_KEY", "sk-test")
	t.Setenv("SHELVE_EMBEDDINGS_PROVIDER", "openai")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Sync.Concurrency)
	assert.Equal(t, ProviderOpenAI, cfg.Embeddings.Provider)
	assert.Equal(t, "sk-test", cfg.Embeddings.APIKey.Value())
}

func TestLoadWithFile_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  http_port: 9300\n", 0644)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFile_PathOutsideAllowedDirs(t *testing.T) {
	setupTestHome(t)
	other := filepath.Join(t.TempDir(), "config.yaml")

	_, err := LoadWithFile(other)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config path validation failed")
}

func TestLoadWithFile_InvalidValues(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "store:\n  backend: bolt\n", 0600)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"zero concurrency", func(c *Config) { c.Sync.Concurrency = 0 }, "sync.concurrency"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.http_port"},
		{"unknown provider", func(c *Config) { c.Embeddings.Provider = "word2vec" }, "embeddings.provider"},
		{"openai without key or url", func(c *Config) { c.Embeddings.Provider = ProviderOpenAI }, "embeddings.api_key"},
		{"tei without url", func(c *Config) {
			c.Embeddings.Provider = ProviderTEI
			c.Embeddings.BaseURL = ""
		}, "embeddings.base_url"},
		{"bad protocol", func(c *Config) { c.Observability.Protocol = "thrift" }, "observability.protocol"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"SHELVE_SERVER_HTTP_PORT":      "server.http_port",
		"SHELVE_SYNC_CONTENT_TIMEOUT":  "sync.content_timeout",
		"SHELVE_STORE_BACKEND":         "store.backend",
		"SHELVE_PLACEMENT_LOG_TOP_N":   "placement.log_top_n",
		"SHELVE_DEBUG":                 "debug",
		"SHELVE_EVENTS_SUBJECT_PREFIX": "events.subject_prefix",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := ExpandPath("~/.config/shelve/db")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "shelve", "db"), got)

	got, err = ExpandPath("/var/lib/shelve")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/shelve", got)
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestSecret_NeverPrinted(t *testing.T) {
	s := Secret("sk-live-123")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "sk-live")

	data, err := json.Marshal(struct{ Key Secret }{s})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-live")

	assert.Equal(t, "sk-live-123", s.Value())
	assert.True(t, s.IsSet())
	assert.False(t, Secret("").IsSet())
}
