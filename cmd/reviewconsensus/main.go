// Package main implements the reviewconsensus CLI: a thin cobra front end
// over the five-reviewer consensus review engine's prepare_review/
// finalize_review contract, plus operator tooling for the bypass ledger and
// knowledge-store drift detection.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sam-fakhreddine/consensus-review/internal/logging"
)

var (
	verbose     bool
	workspace   string
	configPath  string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "reviewconsensus",
	Short: "Five-reviewer consensus review engine",
	Long: `reviewconsensus aggregates five independent reviewer outputs into a
single deterministic, scored review result.

It is invoked in two steps per review: "prepare" builds the isolated
per-reviewer task specifications, and "finalize" folds the host-executed
reviewer responses back into a scored result.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		ws := workspace
		if ws == "" {
			ws, _ = os.Getwd()
		}
		appCfg, _ := loadConfig()
		if err := logging.Initialize(ws, appCfg.Logging); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to initialize file logging: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config (default: <workspace>/.review/config.yaml)")

	rootCmd.AddCommand(prepareCmd)
	rootCmd.AddCommand(finalizeCmd)
	rootCmd.AddCommand(bypassCmd)
	rootCmd.AddCommand(knowledgeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
