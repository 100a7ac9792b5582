package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dept-delivery/finsheet/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "finsheet",
	Short: "Spreadsheet ingestion for delivery financials",
	Long:  "Classifies the sheets of uploaded planning workbooks, normalizes their rows into canonical financial records under deterministic project identities, and answers scoped questions about ingested projects.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
