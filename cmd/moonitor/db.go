package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agusgarcia3007/LLM-moonitor/config"
	"github.com/agusgarcia3007/LLM-moonitor/internal/seeder"
	"github.com/agusgarcia3007/LLM-moonitor/internal/storage"
)

func newMigrateCmd(getConfig func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := storage.Connect(ctx, getConfig().PostgresDSN)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := storage.Migrate(ctx, pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}

func newSeedCmd(getConfig func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create a development user, organization and project and print a session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getConfig()
			if cfg.SessionJWTSecret == "" {
				return fmt.Errorf("SESSION_JWT_SECRET is required")
			}

			ctx := cmd.Context()
			pool, err := storage.Connect(ctx, cfg.PostgresDSN)
			if err != nil {
				return err
			}
			defer pool.Close()

			token, err := seeder.SeedDevTenant(ctx, pool, cfg.SessionJWTSecret)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "project: %s\nsession token: %s\n", seeder.TestProjectID, token)
			return nil
		},
	}
}
