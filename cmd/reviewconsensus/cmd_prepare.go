package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sam-fakhreddine/consensus-review/internal/model"
)

var prepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "Build isolated per-reviewer task specs for a review request",
	Long:  "Reads a ReviewRequest as JSON from stdin and prints a PrepareResult as JSON to stdout.",
	RunE:  runPrepare,
}

func runPrepare(cmd *cobra.Command, args []string) error {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return err
	}
	var req model.ReviewRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	o := buildOrchestrator(cfg)

	result, err := o.PrepareReview(context.Background(), req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
