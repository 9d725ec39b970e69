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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "data", cfg.Snapshot.Dir)
	assert.Equal(t, 500, cfg.Search.MaxCandidates)
	assert.Equal(t, 24*time.Hour, cfg.Session.Retention)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 8080
snapshot:
  dir: /srv/snapshot
session:
  retention: 1h
logging:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "/srv/snapshot", cfg.Snapshot.Dir)
	assert.Equal(t, time.Hour, cfg.Session.Retention)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched sections keep their defaults.
	assert.Equal(t, 500, cfg.Search.DefaultLimit)
	assert.Equal(t, 24*time.Hour, cfg.Session.SweepInterval)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CQ_SERVER_PORT", "4000")
	t.Setenv("CQ_SNAPSHOT_DIR", "/tmp/snap")
	t.Setenv("CQ_SESSION_RETENTION", "30m")
	t.Setenv("CQ_LOGGING_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, "/tmp/snap", cfg.Snapshot.Dir)
	assert.Equal(t, 30*time.Minute, cfg.Session.Retention)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestEnvOverrideBadValueIgnored(t *testing.T) {
	t.Setenv("CQ_SERVER_PORT", "not-a-port")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}
