package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(content), 0o644))
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8420, cfg.Server.Port)
	assert.Equal(t, filepath.Join(dir, "registry", "registry.db"), cfg.Database.Path)
	assert.Equal(t, filepath.Join(dir, "encryption.key"), cfg.Encryption.KeyPath)
	assert.Equal(t, 3, cfg.Encryption.RingDepth)
	assert.Equal(t, 30, cfg.Streaming.HeartbeatSeconds)
	assert.Equal(t, "manual", cfg.Propagation.ConflictPolicy)
	assert.Equal(t, 600, cfg.Bridge.TTLSeconds)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
server:
  port: 9000
propagation:
  conflictPolicy: last_writer_wins
logLevel: debug
`)

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "last_writer_wins", cfg.Propagation.ConflictPolicy)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfigEnvWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
database:
  host: from-file
logLevel: warn
`)
	t.Setenv("REGISTRY_DB_HOST", "db.internal")
	t.Setenv("REGISTRY_DB_PORT", "5432")
	t.Setenv("REGISTRY_DB_NAME", "registry")
	t.Setenv("REGISTRY_DB_USER", "svc")
	t.Setenv("REGISTRY_DB_PASSWORD", "hunter2")
	t.Setenv("REGISTRY_LOG_LEVEL", "error")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "registry", cfg.Database.Name)
	assert.Equal(t, "svc", cfg.Database.User)
	assert.Equal(t, "hunter2", cfg.Database.Password)
	assert.Equal(t, "error", cfg.LogLevel)
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "server: [not a mapping")

	_, err := LoadConfig(dir)
	assert.Error(t, err)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	dir := t.TempDir()

	writeConfig(t, dir, "server:\n  port: -1\n")
	_, err := LoadConfig(dir)
	assert.Error(t, err)

	writeConfig(t, dir, "propagation:\n  conflictPolicy: vote\n")
	_, err = LoadConfig(dir)
	assert.Error(t, err)

	writeConfig(t, dir, "logLevel: shout\n")
	_, err = LoadConfig(dir)
	assert.Error(t, err)
}

func TestConfigDirResolution(t *testing.T) {
	t.Setenv("REGISTRY_CONFIG_DIR", "/tmp/hyperreg-test")
	assert.Equal(t, "/tmp/hyperreg-test", GetDefaultConfigPathOrPanic())
}
