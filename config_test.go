package stash

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
local:
  enabled: true
  directory: /var/cache/stash
remote:
  enabled: true
  push: true
  endpoint: https://cache.internal/stash
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.Local.Enabled)
	assert.Equal(t, "/var/cache/stash", cfg.Local.Directory)
	assert.True(t, cfg.Remote.Enabled)
	assert.True(t, cfg.Remote.Push)
	assert.Equal(t, "https://cache.internal/stash", cfg.Remote.Endpoint)
}

func TestLoadConfigDefaultsOff(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfig(writeConfig(t, `{}`))
	require.NoError(t, err)
	assert.False(t, cfg.Local.Enabled)
	assert.False(t, cfg.Remote.Enabled)
	assert.False(t, cfg.Remote.Push)
}

func TestLoadConfigInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "local without directory",
			content: "local:\n  enabled: true\n",
			want:    "without a directory",
		},
		{
			name:    "remote without endpoint",
			content: "remote:\n  enabled: true\n",
			want:    "without an endpoint",
		},
		{
			name:    "push without remote",
			content: "remote:\n  push: true\n",
			want:    "push requires",
		},
		{
			name:    "not yaml",
			content: "{[",
			want:    "parse config",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadConfig(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}
