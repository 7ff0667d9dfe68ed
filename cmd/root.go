package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/offerreco/reco-api/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "reco-api",
	Short: "Cultural offer recommendation service",
	Long:  "Serves personalized playlists and similar offers: concurrent retrieval, geographic materialization, ranking and diversification, with an audit trail of what was shown.",
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
