// Package main is the entry point for the storyboard engine.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Rogers-F/storyboard-engine/internal/config"
	"github.com/Rogers-F/storyboard-engine/internal/domain"
	"github.com/Rogers-F/storyboard-engine/internal/generate"
	"github.com/Rogers-F/storyboard-engine/internal/ipc"
	"github.com/Rogers-F/storyboard-engine/internal/logging"
	"github.com/Rogers-F/storyboard-engine/internal/oracle"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// configEnv names the environment variable holding the config file path.
const configEnv = "STORYBOARD_CONFIG"

// app carries state shared by every subcommand.
type app struct {
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
}

func main() {
	a := &app{}
	if err := a.rootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "storyboard",
		Short:        "Generate storyboards and shot-list templates from a creative brief",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a JSON or YAML config file (env "+configEnv+")")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		a.serveCmd(),
		a.batchCmd(),
		a.scenesCmd(),
		versionCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// Overrides the root hook: no config is needed.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "storyboard %s (commit=%s, built=%s)\n", version, commit, date)
		},
	}
}

// setup loads the configuration and builds the logger.
func (a *app) setup() error {
	cfg, err := loadConfig(resolveConfigPath(a.configPath))
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, a.verbose)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// resolveConfigPath picks the config file: --config flag, then the
// environment, then a file discovered next to the binary or in the cwd.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(configEnv); env != "" {
		return env
	}
	return config.Discover()
}

// loadConfig reads path, or returns the defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// generator builds the configured oracle backend. A missing API key is
// returned as ErrOracleUnconfigured.
func (a *app) generator(ctx context.Context) (*generate.Generator, error) {
	client, err := oracle.DefaultRegistry().Build(ctx, a.cfg.Oracle, a.logger)
	if err != nil {
		return nil, err
	}
	return generate.New(client, a.logger), nil
}

// printInputError writes field-level violations in a readable form.
func printInputError(cmd *cobra.Command, err error) error {
	var in *domain.InputError
	if !errors.As(err, &in) {
		return err
	}
	for _, f := range in.Fields {
		fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s\n", f.Field, f.Message)
	}
	return err
}

func (a *app) limits() ipc.Limits { return ipc.LimitsFrom(a.cfg) }
