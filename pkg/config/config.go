// Package config handles the resolution core's configuration. The fields
// here are PascalCase but in your actual config.yml they'll be in
// camelCase, following the same layout the teacher project uses for its
// own user config.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/OpenPeeDeeP/xdg"
	"github.com/imdario/mergo"
	yaml "github.com/jesseduffield/yaml"
)

// AppConfig is the set of toggles spec.md §6 enumerates, plus the
// identity fields every binary built on this core carries.
type AppConfig struct {
	Debug       bool   `long:"debug" env:"DEBUG" default:"false"`
	Version     string `long:"version" env:"VERSION" default:"unversioned"`
	Commit      string `long:"commit" env:"COMMIT"`
	BuildDate   string `long:"build-date" env:"BUILD_DATE"`
	Name        string `long:"name" env:"NAME" default:"containermeta"`
	UserConfig  *UserConfig
	ConfigDir   string
}

// UserConfig holds everything that's safe to override from config.yml.
type UserConfig struct {
	// QueryImageInfo enables the image-info sub-fetch (spec.md §4.D step 5).
	QueryImageInfo bool `yaml:"queryImageInfo,omitempty"`

	// MaxWaitMS bounds how long a synchronous Lookup caller may block.
	MaxWaitMS int64 `yaml:"maxWaitMs,omitempty"`

	// TTLMS is how long a completed async result is retained.
	TTLMS int64 `yaml:"ttlMs,omitempty"`

	// DockerSocketPath overrides the runtime's well-known UNIX socket path.
	DockerSocketPath string `yaml:"dockerSocketPath,omitempty"`

	// APIVersion is the path prefix sent with every runtime request, e.g.
	// "/v1.24". Cleared for the lifetime of a resolver instance on the
	// first 4xx response (spec.md §4.D step 1).
	APIVersion string `yaml:"apiVersion,omitempty"`

	// CgroupMountOverride, if set, skips mount-root discovery and reads
	// cgroup files directly under this path. Empty means auto-detect.
	CgroupMountOverride string `yaml:"cgroupMountOverride,omitempty"`
}

// GetDefaultConfig returns hardcoded defaults for all user config values.
func GetDefaultConfig() UserConfig {
	return UserConfig{
		QueryImageInfo:   true,
		MaxWaitMS:        0,
		TTLMS:            int64(30 * time.Second / time.Millisecond),
		DockerSocketPath: "/var/run/docker.sock",
		APIVersion:       "/v1.24",
	}
}

// MaxWait returns MaxWaitMS as a time.Duration.
func (u *UserConfig) MaxWait() time.Duration {
	return time.Duration(u.MaxWaitMS) * time.Millisecond
}

// TTL returns TTLMS as a time.Duration.
func (u *UserConfig) TTL() time.Duration {
	return time.Duration(u.TTLMS) * time.Millisecond
}

// NewAppConfig makes a new app config, loading (and creating, if absent)
// config.yml from the XDG config directory and merging it over the
// defaults.
func NewAppConfig(name, version, commit, date string, debuggingFlag bool) (*AppConfig, error) {
	configDir, err := findOrCreateConfigDir(name)
	if err != nil {
		return nil, err
	}

	userConfig, err := loadUserConfigWithDefaults(configDir)
	if err != nil {
		return nil, err
	}

	return &AppConfig{
		Name:       name,
		Version:    version,
		Commit:     commit,
		BuildDate:  date,
		Debug:      debuggingFlag || os.Getenv("DEBUG") == "TRUE",
		UserConfig: userConfig,
		ConfigDir:  configDir,
	}, nil
}

func configDir(projectName string) string {
	if envConfigDir := os.Getenv("CONFIG_DIR"); envConfigDir != "" {
		return envConfigDir
	}
	return xdg.New("", projectName).ConfigHome()
}

func findOrCreateConfigDir(projectName string) (string, error) {
	folder := configDir(projectName)
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", err
	}
	return folder, nil
}

func loadUserConfigWithDefaults(configDir string) (*UserConfig, error) {
	defaults := GetDefaultConfig()
	return loadUserConfig(configDir, &defaults)
}

func loadUserConfig(configDir string, base *UserConfig) (*UserConfig, error) {
	fileName := filepath.Join(configDir, "config.yml")

	content, err := os.ReadFile(fileName)
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil
		}
		return nil, err
	}

	var override UserConfig
	if err := yaml.Unmarshal(content, &override); err != nil {
		return nil, err
	}

	if err := mergo.Merge(base, override, mergo.WithOverride); err != nil {
		return nil, err
	}

	return base, nil
}

// ConfigFilename returns the filename of the current config file.
func (c *AppConfig) ConfigFilename() string {
	return filepath.Join(c.ConfigDir, "config.yml")
}
