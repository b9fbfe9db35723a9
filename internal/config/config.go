// Package config loads refiner settings from YAML, .env files and the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by Load
const (
	EnvConfigPath     = "REFINER_CONFIG"
	EnvProviderAPIKey = "REFINER_PROVIDER_API_KEY"
	EnvProviderURL    = "REFINER_PROVIDER_BASE_URL"
	EnvStorageDSN     = "REFINER_STORAGE_DSN"
)

type Config struct {
	Provider   ProviderConfig   `yaml:"provider"`
	Limits     Limits           `yaml:"limits"`
	Registry   RegistryConfig   `yaml:"registry"`
	Storage    StorageConfig    `yaml:"storage"`
	Vocabulary VocabularyConfig `yaml:"vocabulary"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ProviderConfig struct {
	APIKey  string `yaml:"api_key" validate:"omitempty,min=8"`
	BaseURL string `yaml:"base_url" validate:"required,url"`
}

type StorageConfig struct {
	Driver string `yaml:"driver" validate:"required,oneof=memory file sqlite postgres"`
	DSN    string `yaml:"dsn" validate:"required_if=Driver sqlite,required_if=Driver postgres"`
	Dir    string `yaml:"dir" validate:"required_if=Driver file"`
}

type VocabularyConfig struct {
	// Path points at a YAML catalog merged over the built-in vocabulary
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"required,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"required,oneof=text json"`
}

// Default returns a complete configuration that needs no file.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			BaseURL: "https://engine.prod.bria-api.com/v2",
		},
		Limits:   DefaultLimits(),
		Registry: DefaultRegistry(),
		Storage: StorageConfig{
			Driver: "memory",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the configuration. explicitPath wins over REFINER_CONFIG and the XDG locations;
// a missing file at a default location yields the defaults, a missing explicit file is an error.
func Load(explicitPath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	configPath, explicit := getConfigPath(explicitPath)

	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, os.ErrNotExist) && !explicit:
		slog.Debug("no config file, using defaults", "path", configPath)
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func getConfigPath(explicitPath string) (string, bool) {
	// 1. Command line flag
	if explicitPath != "" {
		return expandTilde(explicitPath), true
	}

	// 2. Explicit config path via environment variable
	if path := os.Getenv(EnvConfigPath); path != "" {
		return expandTilde(path), true
	}

	// 3. XDG_CONFIG_HOME (XDG Base Directory Specification)
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "refiner", "config.yaml"), false
	}

	// 4. Default to ~/.config/refiner/config.yaml (XDG fallback)
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "refiner", "config.yaml"), false
}

func (c *Config) applyEnv() {
	if key := os.Getenv(EnvProviderAPIKey); key != "" {
		c.Provider.APIKey = key
	}
	if u := os.Getenv(EnvProviderURL); u != "" {
		c.Provider.BaseURL = u
	}
	if dsn := os.Getenv(EnvStorageDSN); dsn != "" {
		c.Storage.DSN = dsn
	}
}

// expandTilde expands a tilde (~) at the beginning of a path to the user's home directory
func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// dataDir is $XDG_DATA_HOME/refiner or ~/.local/share/refiner
func dataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "refiner")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "refiner")
}

func (c *Config) validate() error {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	switch c.Storage.Driver {
	case "file":
		if c.Storage.Dir == "" {
			c.Storage.Dir = filepath.Join(dataDir(), "chains")
		}
		c.Storage.Dir = expandTilde(c.Storage.Dir)
	case "sqlite":
		if c.Storage.DSN == "" {
			c.Storage.DSN = filepath.Join(dataDir(), "refiner.db")
		}
		c.Storage.DSN = expandTilde(c.Storage.DSN)
	}
	c.Vocabulary.Path = expandTilde(c.Vocabulary.Path)

	if c.Limits.RateLimit.RequestsPerMinute == 0 {
		c.Limits.RateLimit = DefaultLimits().RateLimit
	}

	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if c.Limits.MaxDelay < c.Limits.BaseDelay {
		return fmt.Errorf("config validation failed: limits.max_delay %s is below limits.base_delay %s",
			c.Limits.MaxDelay, c.Limits.BaseDelay)
	}
	return nil
}

// SlogLevel maps the configured level name
func (l LoggingConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Save writes the configuration without the API key; keep that in REFINER_PROVIDER_API_KEY.
func Save(cfg *Config, configPath string) error {
	cfgToSave := *cfg
	cfgToSave.Provider.APIKey = ""

	data, err := yaml.Marshal(&cfgToSave)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return os.WriteFile(configPath, data, 0o600)
}
