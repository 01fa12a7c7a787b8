package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
)

const (
	// ProjectConfigFile is the name of the project-level config file.
	ProjectConfigFile = "semflow.yaml"
	// UserConfigDir is the directory for user-level config.
	UserConfigDir = ".config/semflow"
	// UserConfigFile is the name of the user-level config file.
	UserConfigFile = "config.yaml"
	// EnvPrefix prefixes the environment variable overrides.
	EnvPrefix = "SEMFLOW_"
)

// Loader handles configuration loading with layered precedence.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a new configuration loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/semflow/config.yaml)
// 3. Project config (semflow.yaml in current or parent directories)
// 4. Environment variables (SEMFLOW_*)
func (l *Loader) Load() (*Config, error) {
	config := DefaultConfig()

	userConfigPath := l.userConfigPath()
	if userConfig, err := LoadFromFile(userConfigPath); err == nil {
		l.logger.Debug("Loaded user config", slog.String("path", userConfigPath))
		config.Merge(userConfig)
	} else if !errors.Is(err, fs.ErrNotExist) {
		l.logger.Warn("Failed to load user config", slog.String("path", userConfigPath), slog.String("error", err.Error()))
	}

	projectConfigPath := l.findProjectConfig()
	if projectConfigPath != "" {
		if projectConfig, err := LoadFromFile(projectConfigPath); err == nil {
			l.logger.Debug("Loaded project config", slog.String("path", projectConfigPath))
			config.Merge(projectConfig)
		} else {
			l.logger.Warn("Failed to load project config", slog.String("path", projectConfigPath), slog.String("error", err.Error()))
		}
	} else {
		l.logger.Debug("No project config found")
	}

	l.applyEnv(config)

	if config.History.Path == "" {
		config.History.Path = l.defaultHistoryPath()
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnv overlays SEMFLOW_* environment variables onto the config.
func (l *Loader) applyEnv(config *Config) {
	if v := os.Getenv(EnvPrefix + "WORKSPACE"); v != "" {
		config.Workspace.Root = v
	}
	if v := os.Getenv(EnvPrefix + "SCHEMA_DIR"); v != "" {
		config.Workspace.SchemaDir = v
	}
	if v := os.Getenv(EnvPrefix + "MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			config.Run.MaxTokens = n
		}
	}
	if v := os.Getenv(EnvPrefix + "WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			config.Run.Workers = n
		}
	}
	if v := os.Getenv(EnvPrefix + "EVENTS_URL"); v != "" {
		config.Events.URL = v
	}
	if v := os.Getenv(EnvPrefix + "HISTORY_PATH"); v != "" {
		config.History.Path = v
	}
	if v := os.Getenv(EnvPrefix + "METRICS_TEXTFILE"); v != "" {
		config.Metrics.Textfile = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		config.Log.Level = v
	}
}

// EnsureUserConfig creates the user config file with defaults if it
// doesn't exist.
func (l *Loader) EnsureUserConfig() error {
	userConfigPath := l.userConfigPath()

	if _, err := os.Stat(userConfigPath); err == nil {
		return nil
	}

	config := DefaultConfig()
	if err := config.SaveToFile(userConfigPath); err != nil {
		return err
	}

	l.logger.Info("Created default user config", slog.String("path", userConfigPath))
	return nil
}

// userConfigPath returns the path to the user config file.
func (l *Loader) userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// defaultHistoryPath returns the default run index location.
func (l *Loader) defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".semflow", "history.db")
	}
	return filepath.Join(home, UserConfigDir, "history.db")
}

// findProjectConfig searches for semflow.yaml in current and parent
// directories.
func (l *Loader) findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}
