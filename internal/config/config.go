// Package config loads engine configuration from .hotpatch/config.json,
// falling back to defaults when no file exists.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"hotpatch/internal/errors"
)

// Config is the complete engine configuration.
type Config struct {
	Version  int    `json:"version" mapstructure:"version"`
	RepoRoot string `json:"repoRoot" mapstructure:"repoRoot"`

	Queue    QueueConfig    `json:"queue" mapstructure:"queue"`
	Analysis AnalysisConfig `json:"analysis" mapstructure:"analysis"`
	Storage  StorageConfig  `json:"storage" mapstructure:"storage"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
}

// QueueConfig configures the execution queue.
type QueueConfig struct {
	Backlog int `json:"backlog" mapstructure:"backlog"`
	// FaultPolicy is "propagate" or "suppress".
	FaultPolicy string `json:"faultPolicy" mapstructure:"faultPolicy"`
}

// AnalysisConfig configures classification and capabilities.
type AnalysisConfig struct {
	// PolicyPath points at a YAML severity-policy override; empty uses
	// the built-in defaults.
	PolicyPath string `json:"policyPath" mapstructure:"policyPath"`
	// ProfilePath points at a TOML capability profile; empty means the
	// runtime supports everything.
	ProfilePath string `json:"profilePath" mapstructure:"profilePath"`
}

// StorageConfig configures the persistent result store.
type StorageConfig struct {
	Enabled      bool `json:"enabled" mapstructure:"enabled"`
	PruneAfterHr int  `json:"pruneAfterHours" mapstructure:"pruneAfterHours"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Version:  1,
		RepoRoot: ".",
		Queue: QueueConfig{
			Backlog:     64,
			FaultPolicy: "propagate",
		},
		Analysis: AnalysisConfig{},
		Storage: StorageConfig{
			Enabled:      true,
			PruneAfterHr: 168,
		},
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
	}
}

// LoadConfig loads configuration from repoRoot/.hotpatch/config.json. A
// missing file yields the defaults.
func LoadConfig(repoRoot string) (*Config, error) {
	v := viper.New()

	v.SetDefault("version", 1)
	v.SetDefault("repoRoot", ".")
	v.SetDefault("queue.backlog", 64)
	v.SetDefault("queue.faultPolicy", "propagate")
	v.SetDefault("storage.enabled", true)
	v.SetDefault("storage.pruneAfterHours", 168)
	v.SetDefault("logging.format", "human")
	v.SetDefault("logging.level", "info")

	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(filepath.Join(repoRoot, ".hotpatch"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the configuration to repoRoot/.hotpatch/config.json.
func (c *Config) Save(repoRoot string) error {
	dir := filepath.Join(repoRoot, ".hotpatch")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	if c.Version != 1 {
		return errors.Newf(errors.ConfigInvalid, "unsupported config version %d", c.Version)
	}
	switch c.Queue.FaultPolicy {
	case "", "propagate", "suppress":
	default:
		return errors.Newf(errors.ConfigInvalid, "unknown fault policy %q", c.Queue.FaultPolicy)
	}
	if c.Queue.Backlog < 0 {
		return errors.Newf(errors.ConfigInvalid, "queue backlog must not be negative")
	}
	return nil
}
