package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Engine.PoolSize)
	assert.Equal(t, 30, cfg.Engine.TimeoutSeconds)
	assert.True(t, cfg.Engine.Headless)
	assert.False(t, cfg.Cleanup.Enabled)

	require.NoError(t, cfg.Validate())
}

func TestValidate_BadPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
}

func TestValidate_BadLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "loud"

	assert.Error(t, cfg.Validate())
}

func TestValidate_BadCleanupSchedule(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cleanup.Enabled = true
	cfg.Cleanup.Schedule = "not a cron expr"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schedule")
}

func TestValidate_CleanupDisabledIgnoresSchedule(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cleanup.Enabled = false
	cfg.Cleanup.Schedule = "garbage"

	assert.NoError(t, cfg.Validate())
}

func TestValidateBytes_SchemaRejectsBadPort(t *testing.T) {
	err := validateBytes([]byte(`{"server":{"port":70000}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestValidateBytes_AcceptsMinimalConfig(t *testing.T) {
	assert.NoError(t, validateBytes([]byte(`{"server":{"port":9090}}`)))
}

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "ggbconnect.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))
	return path
}

func TestLoader_MissingFileReturnsDefaults(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "absent.json"))

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.NotEmpty(t, cfg.Database.Path)
}

func TestLoader_LoadOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `{
		"server": {"port": 9191},
		"engine": {"pool_size": 4},
		"logging": {"level": "debug"}
	}`)

	loader := NewLoader(path)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Engine.PoolSize)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched fields keep defaults
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 30, cfg.Engine.TimeoutSeconds)
}

func TestLoader_LoadRejectsSchemaViolation(t *testing.T) {
	path := writeConfigFile(t, `{"server": {"port": -1}}`)

	loader := NewLoader(path)
	_, err := loader.Load()
	assert.Error(t, err)
}

func TestLoader_SaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ggbconnect.json")
	loader := NewLoader(path)

	cfg := DefaultConfig()
	cfg.Server.Port = 8888
	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 8888, loaded.Server.Port)
}
