package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/sam-fakhreddine/consensus-review/internal/bypass"
	"github.com/sam-fakhreddine/consensus-review/internal/reviewid"
)

var bypassCmd = &cobra.Command{
	Use:   "bypass",
	Short: "Inspect and grant emergency reviewer bypasses",
}

var (
	bypassReason     string
	bypassBypasser   string
	bypassReviewers  []string
	bypassCSAtBypass float64
	bypassShowAll    bool
)

var bypassListCmd = &cobra.Command{
	Use:   "list",
	Short: "List bypass records (active only, unless --all)",
	RunE:  runBypassList,
}

var bypassGrantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Record a new emergency bypass",
	RunE:  runBypassGrant,
}

func init() {
	bypassGrantCmd.Flags().StringVar(&bypassReason, "reason", "", "reason for the bypass (required)")
	bypassGrantCmd.Flags().StringVar(&bypassBypasser, "bypasser", "", "identity of the person granting the bypass (required)")
	bypassGrantCmd.Flags().StringSliceVar(&bypassReviewers, "reviewer", nil, "reviewer id to bypass, repeatable (default: all five)")
	bypassGrantCmd.Flags().Float64Var(&bypassCSAtBypass, "cs", 0, "consensus score at time of bypass")
	bypassGrantCmd.MarkFlagRequired("reason")
	bypassGrantCmd.MarkFlagRequired("bypasser")

	bypassListCmd.Flags().BoolVar(&bypassShowAll, "all", false, "include expired records")

	bypassCmd.AddCommand(bypassListCmd, bypassGrantCmd)
}

func bypassStorePath() string {
	return filepath.Join(reviewDir(), "bypass.jsonl")
}

func runBypassList(cmd *cobra.Command, args []string) error {
	store := bypass.NewStore(bypassStorePath())

	var records []bypass.Record
	var err error
	if bypassShowAll {
		records, err = store.ReadAll()
	} else {
		records, err = store.Active(time.Now())
	}
	if err != nil {
		return err
	}

	for _, r := range records {
		fmt.Printf("%s\t%s\t%s\t%s\tcs=%.2f\treviewers=%v\n", r.ID, r.Timestamp.Format(time.RFC3339), r.Bypasser, r.Reason, r.CSAtBypass, r.BypassedReviewers)
	}
	return nil
}

func runBypassGrant(cmd *cobra.Command, args []string) error {
	store := bypass.NewStore(bypassStorePath())

	ids := reviewid.All
	if len(bypassReviewers) > 0 {
		ids = nil
		for _, name := range bypassReviewers {
			id, err := reviewid.Parse(name)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
	}

	rec, err := store.Append(context.Background(), ids, bypassReason, bypassBypasser, bypassCSAtBypass, 0)
	if err != nil {
		return err
	}
	fmt.Printf("recorded bypass %s, expires %s\n", rec.ID, rec.Expiry.Format(time.RFC3339))
	return nil
}
