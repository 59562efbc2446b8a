package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the cadence configuration
type Config struct {
	Me      MeConfig                `yaml:"me"`
	Sync    SyncConfig              `yaml:"sync"`
	Sources map[string]SourceConfig `yaml:"sources"`
}

// MeConfig identifies the user so adapters can decide event direction
// (a message from one of these identifiers is outgoing).
type MeConfig struct {
	Emails []string `yaml:"emails,omitempty"`
	Phones []string `yaml:"phones,omitempty"`
}

// SyncConfig tunes the orchestrator.
type SyncConfig struct {
	SinceDays            int `yaml:"since_days,omitempty"`
	MinIntervalSeconds   int `yaml:"min_interval_seconds,omitempty"`
	SourceTimeoutSeconds int `yaml:"source_timeout_seconds,omitempty"`
	DefaultIntervalDays  int `yaml:"default_interval_days,omitempty"`
}

// SourceConfig represents per-source configuration
type SourceConfig struct {
	Enabled bool        `yaml:"enabled"`
	Path    string      `yaml:"path,omitempty"`
	Live    *LiveConfig `yaml:"live,omitempty"`
}

// LiveConfig controls live watching for a source.
type LiveConfig struct {
	Enabled         bool `yaml:"enabled"`
	DebounceSeconds int  `yaml:"debounce_seconds,omitempty"`
}

// WithDefaults fills unset sync knobs.
func (s SyncConfig) WithDefaults() SyncConfig {
	if s.SinceDays <= 0 {
		s.SinceDays = 30
	}
	if s.MinIntervalSeconds <= 0 {
		s.MinIntervalSeconds = 60
	}
	if s.SourceTimeoutSeconds <= 0 {
		s.SourceTimeoutSeconds = 12
	}
	if s.DefaultIntervalDays <= 0 {
		s.DefaultIntervalDays = 30
	}
	return s
}

// GetConfigDir returns the XDG-compliant config directory
func GetConfigDir() (string, error) {
	// Explicit override (useful for tests and portable installs)
	if override := os.Getenv("CADENCE_CONFIG_DIR"); override != "" {
		return override, nil
	}

	var base string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		base = xdg
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "cadence"), nil
}

// GetDataDir returns the platform-specific data directory
func GetDataDir() (string, error) {
	// Explicit override (useful for tests and portable installs)
	if override := os.Getenv("CADENCE_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "Cadence"), nil
	}

	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "cadence"), nil
	}

	return filepath.Join(home, ".local", "share", "cadence"), nil
}

// Load loads config from the config file
func Load() (*Config, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return nil, err
	}

	configPath := filepath.Join(configDir, "config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Return default empty config
			return &Config{
				Sources: make(map[string]SourceConfig),
			}, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Sources == nil {
		cfg.Sources = make(map[string]SourceConfig)
	}

	return &cfg, nil
}

// Save saves the config to the config file
func (c *Config) Save() error {
	configDir, err := GetConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
