// Package config provides configuration loading and management for Semflow.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the complete Semflow configuration.
type Config struct {
	Workspace WorkspaceConfig `yaml:"workspace"`
	Run       RunConfig       `yaml:"run"`
	Events    EventsConfig    `yaml:"events"`
	History   HistoryConfig   `yaml:"history"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// WorkspaceConfig locates the run outputs and schema overrides.
type WorkspaceConfig struct {
	// Root is the directory receiving artifacts/<run_id>/ and logs/.
	Root string `yaml:"root"`
	// SchemaDir optionally layers extra *.schema.json files over the
	// builtin registry.
	SchemaDir string `yaml:"schema_dir"`
}

// RunConfig carries execution defaults a workflow's policy can override.
type RunConfig struct {
	// MaxTokens is the default run budget when the workflow declares none
	// (0 = unlimited).
	MaxTokens int `yaml:"max_tokens"`
	// Workers bounds the executor worker pool (default 1, deterministic).
	Workers int `yaml:"workers"`
	// StepTimeoutMS bounds a single adapter invocation.
	StepTimeoutMS int `yaml:"step_timeout_ms"`
}

// EventsConfig configures the optional NATS audit mirror.
type EventsConfig struct {
	// URL is the NATS server URL (empty = mirroring disabled).
	URL string `yaml:"url"`
	// SubjectPrefix prefixes mirrored subjects (default semflow.audit).
	SubjectPrefix string `yaml:"subject_prefix"`
}

// HistoryConfig configures the local run index.
type HistoryConfig struct {
	// Path is the SQLite database file (empty = default under the user
	// config directory).
	Path string `yaml:"path"`
}

// MetricsConfig configures the one-shot metrics export.
type MetricsConfig struct {
	// Textfile is the path metrics are exported to after each run
	// (empty = disabled).
	Textfile string `yaml:"textfile"`
}

// LogConfig configures diagnostic logging.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Workspace: WorkspaceConfig{
			Root: ".semflow",
		},
		Run: RunConfig{
			MaxTokens:     0,
			Workers:       1,
			StepTimeoutMS: 300000,
		},
		Events: EventsConfig{
			SubjectPrefix: "semflow.audit",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Workspace.Root == "" {
		return fmt.Errorf("workspace.root is required")
	}
	if c.Run.MaxTokens < 0 {
		return fmt.Errorf("run.max_tokens must be non-negative")
	}
	if c.Run.Workers < 1 {
		return fmt.Errorf("run.workers must be at least 1")
	}
	if c.Run.StepTimeoutMS < 1 {
		return fmt.Errorf("run.step_timeout_ms must be positive")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn, or error")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for
// non-zero values).
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Workspace.Root != "" {
		c.Workspace.Root = other.Workspace.Root
	}
	if other.Workspace.SchemaDir != "" {
		c.Workspace.SchemaDir = other.Workspace.SchemaDir
	}

	if other.Run.MaxTokens != 0 {
		c.Run.MaxTokens = other.Run.MaxTokens
	}
	if other.Run.Workers != 0 {
		c.Run.Workers = other.Run.Workers
	}
	if other.Run.StepTimeoutMS != 0 {
		c.Run.StepTimeoutMS = other.Run.StepTimeoutMS
	}

	if other.Events.URL != "" {
		c.Events.URL = other.Events.URL
	}
	if other.Events.SubjectPrefix != "" {
		c.Events.SubjectPrefix = other.Events.SubjectPrefix
	}

	if other.History.Path != "" {
		c.History.Path = other.History.Path
	}
	if other.Metrics.Textfile != "" {
		c.Metrics.Textfile = other.Metrics.Textfile
	}
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
}
