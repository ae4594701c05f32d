package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ravi-parthasarathy/convoy/pkg/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "convoy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
	assert.Equal(t, config.DefaultModel, cfg.Model)
	assert.Equal(t, 60*time.Second, cfg.RunTimeout)
	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Empty(t, cfg.Database.URL)
}

func TestLoad_File(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	path := writeConfig(t, `
model: openai:gpt-4o
python: /usr/bin/python3.12
run_timeout: 90s
chart:
  command: [python3, scripts/render_chart.py]
  debounce: 250ms
server:
  listen: 127.0.0.1:9000
database:
  url: postgres://localhost/convoy
log:
  level: DEBUG
  format: json
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "openai:gpt-4o", cfg.Model)
	assert.Equal(t, "/usr/bin/python3.12", cfg.Python)
	assert.Equal(t, 90*time.Second, cfg.RunTimeout)
	assert.Equal(t, []string{"python3", "scripts/render_chart.py"}, cfg.Chart.Command)
	assert.Equal(t, 250*time.Millisecond, cfg.Chart.Debounce)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Listen)
	assert.Equal(t, "postgres://localhost/convoy", cfg.Database.URL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_DatabaseURLFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/convoy")
	path := writeConfig(t, "database:\n  url: postgres://file/convoy\n")
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/convoy", cfg.Database.URL)
}

func TestLoad_Rejects(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	tests := []struct {
		name string
		body string
	}{
		{"unknown key", "modle: x:y\n"},
		{"bad level", "log:\n  level: loud\n"},
		{"bad format", "log:\n  format: xml\n"},
		{"bad model", "model: gpt\n"},
		{"bad duration", "run_timeout: soon\n"},
		{"two documents", "model: a:b\n---\nmodel: c:d\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
