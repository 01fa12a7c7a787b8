// Package commands implements the semflow CLI: run, validate, plan, runs,
// and version. Each command builds its engine from the layered config and
// maps run outcomes onto the stable exit codes.
package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/c360studio/semflow/adapter"
	"github.com/c360studio/semflow/config"
	"github.com/c360studio/semflow/schema"
)

// NewRootCmd assembles the semflow command tree.
func NewRootCmd(version, buildTime string) *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "semflow",
		Short: "Deterministic workflow orchestrator",
		Long: `Semflow executes declarative, schema-validated workflows: each step
names an actor that is routed to a concrete adapter under a token budget,
emitted artifacts are catalogued with digests, verification gates decide
step success, and every run leaves an append-only JSONL audit log.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	ctx := &commandContext{
		configPath: &configPath,
		logLevel:   &logLevel,
	}

	cmd.AddCommand(newRunCmd(ctx))
	cmd.AddCommand(newValidateCmd(ctx))
	cmd.AddCommand(newPlanCmd(ctx))
	cmd.AddCommand(newRunsCmd(ctx))
	cmd.AddCommand(newVersionCmd(version, buildTime))

	return cmd
}

// commandContext carries the shared flag state and lazy config loading.
type commandContext struct {
	configPath *string
	logLevel   *string
}

// setup loads the layered config, applies flag overrides, and installs the
// process logger.
func (c *commandContext) setup() (*config.Config, *slog.Logger, error) {
	var cfg *config.Config
	var err error
	if *c.configPath != "" {
		cfg, err = config.LoadFromFile(*c.configPath)
		if err == nil {
			err = cfg.Validate()
		}
	} else {
		cfg, err = config.NewLoader(nil).Load()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	if *c.logLevel != "" {
		cfg.Log.Level = *c.logLevel
	}

	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	return cfg, logger, nil
}

// buildValidator compiles the builtin schemas plus any configured overlay
// directory.
func buildValidator(cfg *config.Config) (*schema.Validator, error) {
	return schema.NewValidator(cfg.Workspace.SchemaDir)
}

// buildRegistry registers the builtin adapters. External adapters register
// through RegisterAdapter before command execution.
func buildRegistry() (*adapter.Registry, error) {
	registry := adapter.NewRegistry()
	if err := registry.Register(adapter.NewScripted()); err != nil {
		return nil, err
	}
	for _, a := range externalAdapters {
		if err := registry.Register(a); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

var externalAdapters []adapter.Adapter

// RegisterAdapter adds an adapter to every registry the CLI builds. Call
// at process startup, before command execution; there is no
// unregistration.
func RegisterAdapter(a adapter.Adapter) {
	externalAdapters = append(externalAdapters, a)
}
