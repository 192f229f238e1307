// Package cli implements the callgate command line.
package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/toolink/callgate/config"
)

// NewRootCommand builds the callgate command tree.
func NewRootCommand() *cobra.Command {
	var envFiles []string
	root := &cobra.Command{
		Use:           "callgate",
		Short:         "Gatekeeper for short-lived voice access tokens",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv file(s) to load before reading the environment")
	load := func() (config.Config, error) { return loadConfig(envFiles) }
	root.AddCommand(newServeCommand(load), newProofCommand(load))
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// configLoader loads the configuration for a subcommand.
type configLoader func() (config.Config, error)

// loadConfig reads configuration and applies its logging settings.
func loadConfig(envFiles []string) (config.Config, error) {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := setupLogging(cfg.Log); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func setupLogging(cfg config.LogConfig) error {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.Level, err)
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return nil
}
