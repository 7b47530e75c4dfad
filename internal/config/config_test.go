package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_AppliesDefaultsOnEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := writeYAML(t, dir, "config.yaml", "")

	c, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "development", c.Environment)
	assert.Equal(t, "0.0.0.0", c.Server.Host)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, 8, c.Pool.Size)
	assert.Equal(t, 512, c.Cache.Capacity)
	assert.Equal(t, uint64(5000000000), c.Settings.TimeoutNS)
	assert.NotEmpty(t, c.Settings.AllowedModules)
}

func TestLoadConfig_RespectsExplicitValues(t *testing.T) {
	dir := t.TempDir()
	path := writeYAML(t, dir, "config.yaml", `
environment: production
server:
  host: 127.0.0.1
  port: 9090
pool:
  size: 16
settings:
  timeout_ns: 1000000000
  max_output_bytes: 4096
  allowed_modules: [math, json]
`)

	c, err := LoadConfig(path)
	require.NoError(t, err)

	assert.True(t, c.IsProduction())
	assert.Equal(t, "127.0.0.1:9090", c.GetAddr())
	assert.Equal(t, 16, c.Pool.Size)
	assert.Equal(t, uint64(1000000000), c.Settings.TimeoutNS)
	assert.Equal(t, []string{"math", "json"}, c.Settings.AllowedModules)
}

func TestLoadConfig_MissingFileReturnsError(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyEnvOverrides_OverridesYAMLValues(t *testing.T) {
	dir := t.TempDir()
	path := writeYAML(t, dir, "config.yaml", "server:\n  port: 9090\n")

	t.Setenv("PYEXEC_SERVER_PORT", "7000")
	t.Setenv("PYEXEC_QUARANTINE_ENABLED", "true")
	t.Setenv("PYEXEC_ALLOWED_MODULES", "math, re")

	c, err := LoadConfig(path)
	require.NoError(t, err)
	c.applyEnvOverrides()

	assert.Equal(t, 7000, c.Server.Port)
	assert.True(t, c.Quarantine.Enabled)
	assert.Equal(t, []string{"math", "re"}, c.Settings.AllowedModules)
}

func TestSplitCSV_TrimsAndDropsEmpties(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitCSV(" a ,b,,"))
}
