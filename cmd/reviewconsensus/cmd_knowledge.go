package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/sam-fakhreddine/consensus-review/internal/knowledge"
	"github.com/sam-fakhreddine/consensus-review/internal/reviewid"
)

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Inspect the per-reviewer knowledge store",
}

var knowledgeDriftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Report staleness, bloat, contradictions, and orphaned references for every reviewer",
	RunE:  runKnowledgeDrift,
}

func init() {
	knowledgeCmd.AddCommand(knowledgeDriftCmd)
}

func runKnowledgeDrift(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	root := reviewDir()
	store := knowledge.NewStore(filepath.Join(root, "knowledge"), time.Duration(cfg.Knowledge.LockTimeoutMS)*time.Millisecond)
	driftCfg := knowledge.DriftConfig{
		StalenessDays: cfg.Knowledge.DriftStalenessDays,
		BloatEntries:  cfg.Knowledge.DriftBloatEntries,
	}
	fileExists := func(path string) bool {
		ws := workspace
		if ws == "" {
			ws, _ = os.Getwd()
		}
		_, err := os.Stat(filepath.Join(ws, path))
		return err == nil
	}

	for _, id := range reviewid.All {
		for _, tier := range []knowledge.Tier{knowledge.TierProject, knowledge.TierGlobal} {
			report, err := knowledge.DetectDrift(context.Background(), store, id, tier, driftCfg, fileExists)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s/%s: %v\n", id, tier, err)
				continue
			}
			if !report.Stale && !report.Bloated && len(report.Contradictions) == 0 && len(report.OrphanedEntries) == 0 {
				continue
			}
			fmt.Printf("%s/%s: stale=%v bloated=%v contradictions=%d orphaned=%d\n",
				id, tier, report.Stale, report.Bloated, len(report.Contradictions), len(report.OrphanedEntries))
			for _, c := range report.Contradictions {
				fmt.Printf("  contradiction: %s\n", c)
			}
			for _, o := range report.OrphanedEntries {
				fmt.Printf("  orphaned: %s\n", o)
			}
		}
	}
	return nil
}
