package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Provider: ProviderConfig{
			APIKey:  "bria-1234567890abcdef",
			BaseURL: "https://engine.prod.bria-api.com/v2",
		},
		Limits:   DefaultLimits(),
		Registry: DefaultRegistry(),
		Storage:  StorageConfig{Driver: "memory"},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:   "missing API key is allowed",
			mutate: func(c *Config) { c.Provider.APIKey = "" },
		},
		{
			name:    "invalid API key - too short",
			mutate:  func(c *Config) { c.Provider.APIKey = "short" },
			wantErr: true,
			errMsg:  "APIKey",
		},
		{
			name:    "invalid base URL",
			mutate:  func(c *Config) { c.Provider.BaseURL = "not a url" },
			wantErr: true,
			errMsg:  "BaseURL",
		},
		{
			name:    "unknown storage driver",
			mutate:  func(c *Config) { c.Storage.Driver = "redis" },
			wantErr: true,
			errMsg:  "Driver",
		},
		{
			name:    "postgres without DSN",
			mutate:  func(c *Config) { c.Storage.Driver = "postgres" },
			wantErr: true,
			errMsg:  "DSN",
		},
		{
			name: "postgres with DSN",
			mutate: func(c *Config) {
				c.Storage = StorageConfig{Driver: "postgres", DSN: "postgres://localhost/refiner"}
			},
		},
		{
			name:    "zero registry capacity",
			mutate:  func(c *Config) { c.Registry.MaxChains = 0 },
			wantErr: true,
			errMsg:  "MaxChains",
		},
		{
			name:    "too many retries",
			mutate:  func(c *Config) { c.Limits.MaxRetries = 11 },
			wantErr: true,
			errMsg:  "MaxRetries",
		},
		{
			name: "max delay below base delay",
			mutate: func(c *Config) {
				c.Limits.BaseDelay = 10 * time.Second
				c.Limits.MaxDelay = time.Second
			},
			wantErr: true,
			errMsg:  "max_delay",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: true,
			errMsg:  "Level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: true,
			errMsg:  "Format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.validate()
			if tt.wantErr {
				require.Error(t, err)
				if tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("validate() error = %v, want error containing %q", err, tt.errMsg)
				}
				return
			}
			assert.NoError(t, err)
		})
	}
}

func isolateEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv(EnvConfigPath, "")
	t.Setenv(EnvProviderAPIKey, "")
	t.Setenv(EnvProviderURL, "")
	t.Setenv(EnvStorageDSN, "")
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	isolateEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 4096, cfg.Registry.MaxChains)
	assert.Equal(t, 10*time.Minute, cfg.Registry.RetryWindow)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoadExplicitFileMissing(t *testing.T) {
	dir := isolateEnv(t)

	_, err := Load(filepath.Join(dir, "nope.yaml"))
	assert.ErrorContains(t, err, "reading config file")
}

func TestLoadYAMLOverDefaults(t *testing.T) {
	dir := isolateEnv(t)
	path := filepath.Join(dir, "refiner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
registry:
  max_chains: 16
  ttl: 1h
  infer_from_prior: true
storage:
  driver: sqlite
limits:
  poll_interval: 500ms
logging:
  level: debug
  format: json
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Registry.MaxChains)
	assert.Equal(t, time.Hour, cfg.Registry.TTL)
	assert.True(t, cfg.Registry.InferFromPrior)
	assert.Equal(t, 10*time.Minute, cfg.Registry.RetryWindow, "unset fields keep their defaults")
	assert.Equal(t, 500*time.Millisecond, cfg.Limits.PollInterval)
	assert.Equal(t, 3, cfg.Limits.MaxRetries)
	assert.Equal(t, filepath.Join(dir, "data", "refiner", "refiner.db"), cfg.Storage.DSN)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadFromXDGConfigHome(t *testing.T) {
	dir := isolateEnv(t)
	path := filepath.Join(dir, "config", "refiner", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  driver: file\n"), 0o600))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "file", cfg.Storage.Driver)
	assert.Equal(t, filepath.Join(dir, "data", "refiner", "chains"), cfg.Storage.Dir)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	isolateEnv(t)
	t.Setenv(EnvProviderAPIKey, "env-key-123456")
	t.Setenv(EnvProviderURL, "http://localhost:9090/v2")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "env-key-123456", cfg.Provider.APIKey)
	assert.Equal(t, "http://localhost:9090/v2", cfg.Provider.BaseURL)
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	dir := isolateEnv(t)
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("registry: [unterminated"), 0o600))

	_, err := Load(path)
	assert.ErrorContains(t, err, "parsing config file")
}

func TestSaveOmitsAPIKey(t *testing.T) {
	dir := isolateEnv(t)
	cfg := validConfig()
	path := filepath.Join(dir, "out", "config.yaml")

	require.NoError(t, Save(&cfg, path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), cfg.Provider.APIKey)
	assert.Equal(t, "bria-1234567890abcdef", cfg.Provider.APIKey, "caller's config is not modified")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Registry, loaded.Registry)
	assert.Equal(t, cfg.Limits, loaded.Limits)
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", LoggingConfig{Level: "debug"}.SlogLevel().String())
	assert.Equal(t, "WARN", LoggingConfig{Level: "warn"}.SlogLevel().String())
	assert.Equal(t, "ERROR", LoggingConfig{Level: "error"}.SlogLevel().String())
	assert.Equal(t, "INFO", LoggingConfig{Level: "info"}.SlogLevel().String())
}
