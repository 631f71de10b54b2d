package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tripatlas/poi-pipeline/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "poi-pipeline",
	Short: "POI dataset reconciliation and enrichment pipeline",
	Long:  "Ingests per-country, per-city and curated POI datasets, repairs and deduplicates them, enriches gaps via rate-limited geocoding and writes canonical country files.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
			cfg.Data.Dir = dir
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().String("data-dir", "", "dataset root directory (overrides config and auto-discovery)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
