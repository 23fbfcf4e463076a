package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/netprep/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "netprep",
	Short: "Time-of-day scenario preparation for travel model networks",
	Long:  "Classifies link area types from zone land use, derives capacity and free-flow attributes, and slices the all-day highway and transit networks into per-period scenarios.",
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
