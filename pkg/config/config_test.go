package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetDefaultConfig(t *testing.T) {
	defaults := GetDefaultConfig()
	assert.True(t, defaults.QueryImageInfo)
	assert.Equal(t, "/var/run/docker.sock", defaults.DockerSocketPath)
	assert.Equal(t, "/v1.24", defaults.APIVersion)
	assert.Equal(t, int64(0), defaults.MaxWaitMS)
}

func TestMaxWaitAndTTL(t *testing.T) {
	u := UserConfig{MaxWaitMS: 250, TTLMS: 1500}
	assert.Equal(t, 250, int(u.MaxWait().Milliseconds()))
	assert.Equal(t, 1500, int(u.TTL().Milliseconds()))
}

func TestLoadUserConfigMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := loadUserConfigWithDefaults(dir)
	assert.NoError(t, err)
	assert.Equal(t, GetDefaultConfig().DockerSocketPath, cfg.DockerSocketPath)
}

func TestLoadUserConfigOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "config.yml"), []byte("dockerSocketPath: /tmp/custom.sock\n"), 0o644)
	assert.NoError(t, err)

	cfg, err := loadUserConfigWithDefaults(dir)
	assert.NoError(t, err)
	assert.Equal(t, "/tmp/custom.sock", cfg.DockerSocketPath)
	// untouched defaults survive the merge
	assert.True(t, cfg.QueryImageInfo)
}

func TestNewAppConfigCreatesConfigDir(t *testing.T) {
	dir := t.TempDir()
	os.Setenv("CONFIG_DIR", dir)
	defer os.Unsetenv("CONFIG_DIR")

	appConfig, err := NewAppConfig("containermeta-test", "1.0.0", "abc123", "2026-01-01", false)
	assert.NoError(t, err)
	assert.Equal(t, dir, appConfig.ConfigDir)
	assert.NotNil(t, appConfig.UserConfig)
}
