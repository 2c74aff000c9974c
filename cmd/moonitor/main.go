package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/agusgarcia3007/LLM-moonitor/config"
	"github.com/agusgarcia3007/LLM-moonitor/internal/telemetry"
)

func main() {
	var cfg *config.Config

	root := &cobra.Command{
		Use:           "moonitor",
		Short:         "LLM-moonitor - LLM event logging with per-model cost attribution",
		Version:       telemetry.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			setupLogger(cfg.LogLevel, cfg.LogFormat)
			return nil
		},
	}

	// Subcommands read cfg lazily; it is set by PersistentPreRunE.
	getConfig := func() *config.Config { return cfg }

	root.AddCommand(
		newServeCmd(getConfig),
		newPricesCmd(getConfig),
		newMigrateCmd(getConfig),
		newSeedCmd(getConfig),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogger(level, format string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	if format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
