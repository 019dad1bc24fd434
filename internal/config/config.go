// Package config loads the daemon settings file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from strings like "90s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// ProviderConfig controls one account's monitoring.
type ProviderConfig struct {
	Enabled bool `yaml:"enabled"`

	// CredentialsPath overrides the provider's default credential file
	// location.
	CredentialsPath string `yaml:"credentials_path,omitempty"`
}

type Providers struct {
	Claude ProviderConfig `yaml:"claude"`
	Codex  ProviderConfig `yaml:"codex"`
}

type Config struct {
	Providers Providers `yaml:"providers"`

	// PollInterval is how often the poll loop wakes to check whether a
	// provider is due for a fetch.
	PollInterval Duration `yaml:"poll_interval"`

	// CostScanInterval is how often local logs are re-scanned for cost
	// accounting.
	CostScanInterval Duration `yaml:"cost_scan_interval"`

	// NotifyThreshold is the utilization (0..1) at which a usage alert
	// fires.
	NotifyThreshold float64 `yaml:"notify_threshold"`

	LogLevel string `yaml:"log_level"`

	// MetricsAddr, when set, serves Prometheus metrics on that address.
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
}

// Default returns the settings used when no file exists.
func Default() Config {
	return Config{
		Providers: Providers{
			Claude: ProviderConfig{Enabled: true},
			Codex:  ProviderConfig{Enabled: true},
		},
		PollInterval:     Duration(time.Second),
		CostScanInterval: Duration(5 * time.Minute),
		NotifyThreshold:  0.90,
		LogLevel:         "info",
	}
}

// Load reads the settings file at path. A missing file yields the
// defaults; a malformed one is an error so a typo doesn't silently
// reset everything.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("parse config: %w", err)
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = Default().PollInterval
	}
	if cfg.CostScanInterval <= 0 {
		cfg.CostScanInterval = Default().CostScanInterval
	}
	if cfg.NotifyThreshold <= 0 || cfg.NotifyThreshold > 1 {
		cfg.NotifyThreshold = Default().NotifyThreshold
	}
	return cfg, nil
}

// Path returns the default settings file location.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "claude-bar", "settings.yaml"), nil
}
