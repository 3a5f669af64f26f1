package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/knowledge-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "knowledge-cli",
	Short: "Resumable knowledge-extraction pipeline for data files",
	Long:  "Profiles data files, infers column semantics, anchors, relationships and hierarchy via Claude, and merges the results into a shared knowledge base. Sessions suspend for human review and resume with the reviewer's answer.",
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
