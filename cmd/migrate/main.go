package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/joao-fontenele/orderflow-fulfillment/internal/config"
)

var (
	logger = slog.New(slog.NewTextHandler(os.Stdout, nil))

	databaseURL    string
	migrationsPath string
)

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the orderflow database schema and demo data",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if databaseURL == "" {
			databaseURL = cfg.DB.URL
		}
		if migrationsPath == "" {
			migrationsPath = cfg.Migrations.Path
		}
		if databaseURL == "" {
			return fmt.Errorf("database URL is required (--database-url or ORDERFLOW_DB_URL)")
		}
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "postgres connection URL (defaults to db.url)")
	rootCmd.PersistentFlags().StringVar(&migrationsPath, "path", "", "migrations source URL (defaults to migrations.path)")

	rootCmd.AddCommand(upCmd, downCmd, versionCmd, seedCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("command failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
