package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/agusgarcia3007/LLM-moonitor/config"
)

func newPricesCmd(getConfig func() *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prices",
		Short: "Update, list or reload model prices",
	}
	cmd.AddCommand(newPricesUpdateCmd(getConfig), newPricesListCmd(getConfig), newPricesRefreshCmd(getConfig))
	return cmd
}

func newPricesUpdateCmd(getConfig func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Scrape every provider and upsert their prices now",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, getConfig())
			if err != nil {
				return err
			}
			defer a.Close()

			start := time.Now()
			report, ran, err := a.scheduler.RunOnce(ctx)
			if err != nil {
				return err
			}
			if !ran {
				return fmt.Errorf("a pricing update is already running")
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tMODELS\tTOOK\tERROR")
			for _, p := range report.Providers {
				errText := ""
				if p.Err != nil {
					errText = p.Err.Error()
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", p.Provider, p.Models, p.Duration.Round(time.Millisecond), errText)
			}
			_ = w.Flush()

			if report.Skipped {
				fmt.Fprintln(cmd.OutOrStdout(), "\nNo provider returned prices; stored prices were left unchanged.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d unique prices saved (%d fetched, %d duplicate ids) in %s\n",
				report.Persisted, report.Fetched, len(report.Collisions), time.Since(start).Round(time.Second))
			return nil
		},
	}
}

func newPricesListCmd(getConfig func() *config.Config) *cobra.Command {
	var provider string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show stored model prices per million tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, getConfig())
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.prices.ListPrices(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tMODEL\tINPUT $/1M\tOUTPUT $/1M\tUPDATED")
			for _, r := range records {
				if provider != "" && r.Provider != provider {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%.4f\t%.4f\t%s\n",
					r.Provider, r.ModelID, r.InputPrice*1e6, r.OutputPrice*1e6, r.UpdatedAt.Format("2006-01-02"))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "only show this provider")
	return cmd
}

// newPricesRefreshCmd asks a running server to reload its price cache.
func newPricesRefreshCmd(getConfig func() *config.Config) *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Reload the price cache of a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getConfig()
			if cfg.AdminToken == "" {
				return fmt.Errorf("ADMIN_TOKEN is required")
			}
			if server == "" {
				server = "http://localhost:" + cfg.Port
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, strings.TrimRight(server, "/")+"/admin/prices/refresh", nil)
			if err != nil {
				return err
			}
			req.Header.Set("Authorization", "Bearer "+cfg.AdminToken)

			client := &http.Client{Timeout: 30 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("failed to reach server: %w", err)
			}
			defer resp.Body.Close()

			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("refresh failed with status %d: %s", resp.StatusCode, body)
			}

			var out struct {
				Data struct {
					Entries int `json:"entries"`
				} `json:"data"`
			}
			if err := json.Unmarshal(body, &out); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "price cache reloaded with %d entries\n", out.Data.Entries)
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "server base URL (default http://localhost:$PORT)")
	return cmd
}
