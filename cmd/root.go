package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dealscope/pricetrack-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "pricetrack",
	Short: "Price tracking batch pipeline",
	Long:  "Runs price-extraction batches over stale products, classifies results by confidence, and manages the human review queue for uncertain prices.",
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
