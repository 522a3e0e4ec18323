package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "offsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "offsync.db", cfg.Database)
	assert.Equal(t, 10*time.Second, cfg.ReplayTimeout)
	assert.Equal(t, 30*time.Second, cfg.RetryInterval)
	assert.Equal(t, "", cfg.Remote.BaseURL)
	assert.Equal(t, "127.0.0.1:8787", cfg.Remote.Listen)
	assert.Equal(t, "offsync", cfg.Observability.ServiceName)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
database: /var/lib/offsync/client.db
replay_timeout: 3s
retry_interval: 1m
remote:
  base_url: http://clinic.example:8080
  timeout: 5s
connectivity:
  probe_interval: 2s
observability:
  service_name: clinic-app
  tracing_url: localhost:4318
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/offsync/client.db", cfg.Database)
	assert.Equal(t, 3*time.Second, cfg.ReplayTimeout)
	assert.Equal(t, time.Minute, cfg.RetryInterval)
	assert.Equal(t, "http://clinic.example:8080", cfg.Remote.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Connectivity.ProbeInterval)
	assert.Equal(t, "clinic-app", cfg.Observability.ServiceName)
	assert.Equal(t, "localhost:4318", cfg.Observability.TracingURL)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "database: from-file.db\n")
	t.Setenv("OFFSYNC_DATABASE", "from-env.db")
	t.Setenv("OFFSYNC_REMOTE_BASE_URL", "http://localhost:9000")
	t.Setenv("OFFSYNC_REPLAY_TIMEOUT", "250ms")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env.db", cfg.Database)
	assert.Equal(t, "http://localhost:9000", cfg.Remote.BaseURL)
	assert.Equal(t, 250*time.Millisecond, cfg.ReplayTimeout)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad url", "remote:\n  base_url: not a url\n"},
		{"zero replay timeout", "replay_timeout: 0s\n"},
		{"negative retry", "retry_interval: -1s\n"},
		{"bad tracing endpoint", "observability:\n  tracing_url: http://\n"},
		{"empty database", "database: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
