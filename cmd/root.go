package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/compintel/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "compintel",
	Short: "Multi-source reconciliation and confidence scoring for competitive intelligence",
	Long:  "Ingests observations about competitor attributes from sources of varying reliability, reconciles conflicts by source authority, and scores consensus values by confidence and freshness.",
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
