// Command sugu-drafts is the back-office CLI for abandoned DRAFT orders and
// schema maintenance.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"sugu-checkout/config"
	"sugu-checkout/internal/models"
	"sugu-checkout/internal/service"
	"sugu-checkout/internal/store"
	"sugu-checkout/internal/util"
	"sugu-checkout/migrations"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "sugu-drafts",
		Short:         "Back-office tools for the checkout service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func reportCmd() *cobra.Command {
	var (
		days   int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "List DRAFT orders older than --days",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if !cmd.Flags().Changed("days") {
				days = cfg.Draft.StaleDays
			}

			db, err := store.NewStore(cfg.Database.URL)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			drafts, err := service.NewStaleDraftReporter(db).Report(ctx, days)
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), days, drafts, asJSON)
		},
	}

	cmd.Flags().IntVarP(&days, "days", "d", service.DefaultStaleDays, "Minimum draft age in days")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")

	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
				return err
			}
			defer util.SyncLogger()

			db, err := store.NewStore(cfg.Database.URL)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.RunMigrations(cmd.Context(), migrations.Files); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
			return nil
		},
	}
}

func printReport(w io.Writer, days int, drafts []models.StaleDraft, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Days   int                 `json:"days"`
			Count  int                 `json:"count"`
			Drafts []models.StaleDraft `json:"drafts"`
		}{days, len(drafts), drafts})
	}

	if len(drafts) == 0 {
		_, err := fmt.Fprintf(w, "No DRAFT orders older than %d days\n", days)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tUSER\tCREATED\tAGE (DAYS)\tTOTAL")
	for _, d := range drafts {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%s\n",
			d.OrderNumber, d.UserID, d.CreatedAt.Format("2006-01-02 15:04"), d.AgeDays, d.Total)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d DRAFT orders older than %d days\n", len(drafts), days)
	return err
}
