package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/sam-fakhreddine/consensus-review/internal/model"
	"github.com/sam-fakhreddine/consensus-review/internal/report"
)

// finalizeInput mirrors finalize_review's three positional arguments so the
// CLI can accept them as one JSON document on stdin.
type finalizeInput struct {
	Request      model.ReviewRequest   `json:"request"`
	TaskResponses []model.TaskResponse `json:"task_responses"`
	WorkspaceID  string                `json:"workspace_id"`
}

var finalizeCmd = &cobra.Command{
	Use:   "finalize",
	Short: "Fold reviewer task responses into a scored review result",
	Long:  "Reads a finalize request (request, task_responses, workspace_id) as JSON from stdin and prints a ReviewResult as JSON to stdout.",
	RunE:  runFinalize,
}

func runFinalize(cmd *cobra.Command, args []string) error {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return err
	}
	var input finalizeInput
	if err := json.Unmarshal(data, &input); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	o := buildOrchestrator(cfg)

	result, err := o.FinalizeReview(context.Background(), input.Request, input.TaskResponses, input.WorkspaceID)
	if err != nil {
		return err
	}

	// The JSON artifact is the source of truth; the markdown rendering is a
	// derived, human-facing convenience and never blocks the command on
	// failure to write it.
	if !result.NeedsAdvocate {
		reviewsDir := filepath.Join(reviewDir(), "reviews")
		if path, err := report.Export(input.Request.TaskID, result, reviewsDir, time.Now()); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to export review markdown: %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "review exported to: %s\n", path)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
