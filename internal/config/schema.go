// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for the scheduler.
package config

import "gopkg.in/yaml.v3"

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// DataDir is the root directory for persistent state. Defaults to
	// the platform user data directory when empty.
	DataDir string `yaml:"data_dir,omitempty"`

	// Environment is the deployment tag evaluated by policy
	// allowed_environments checks (e.g. "production", "staging").
	Environment string `yaml:"environment,omitempty"`

	// Log configures the structured logger.
	Log LogConfig `yaml:"log,omitempty"`

	// Modules maps module IDs to their raw YAML configuration.
	// Keys must match registered module IDs (e.g. "store.sqlite").
	Modules map[string]yaml.Node `yaml:"modules"`
}

// LogConfig controls slog output.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string `yaml:"level,omitempty"`

	// Format is "text" or "json". Defaults to text.
	Format string `yaml:"format,omitempty"`
}
