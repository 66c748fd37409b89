// Package report renders a ReviewResult as a human-facing markdown document
// and exports it under a reviews directory. It is additive: the JSON
// ReviewResult remains the source of truth, and nothing here feeds back into
// cs, tier, or passed.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sam-fakhreddine/consensus-review/internal/model"
)

// HotSpot names a file flagged by findings attributed to more than one
// reviewer, surfaced as a cross-reviewer insight.
type HotSpot struct {
	File      string
	Reviewers []string
}

// CrossReviewerInsights finds files that multiple distinct reviewers
// independently flagged across the result's clusters.
func CrossReviewerInsights(clusters []model.ReportedCluster) []HotSpot {
	fileReviewers := make(map[string]map[string]bool)
	for _, c := range clusters {
		if c.File == "" {
			continue
		}
		set, ok := fileReviewers[c.File]
		if !ok {
			set = make(map[string]bool)
			fileReviewers[c.File] = set
		}
		for _, r := range c.ContributingReviewers {
			set[r] = true
		}
	}

	var spots []HotSpot
	for file, set := range fileReviewers {
		if len(set) < 2 {
			continue
		}
		names := make([]string, 0, len(set))
		for r := range set {
			names = append(names, r)
		}
		sort.Strings(names)
		spots = append(spots, HotSpot{File: file, Reviewers: names})
	}
	sort.Slice(spots, func(i, j int) bool { return spots[i].File < spots[j].File })
	return spots
}

// Render builds the markdown rendering of a ReviewResult: a summary, the
// cross-reviewer hot spots, and the findings ordered by descending severity
// (ties by file name).
func Render(taskID string, result model.ReviewResult) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# Code Review: %s\n\n", taskID))
	sb.WriteString(fmt.Sprintf("**CS**: %.2f\n", result.CS))
	sb.WriteString(fmt.Sprintf("**Tier**: %s\n", result.Tier))
	status := "Passed"
	if !result.Passed {
		status = "Failed"
	}
	sb.WriteString(fmt.Sprintf("**Status**: %s\n", status))
	if result.MPRApplied {
		sb.WriteString("**Minority Protection**: applied\n")
	}
	sb.WriteString(fmt.Sprintf("**Reviewers**: %d\n", result.ReviewerCount))
	sb.WriteString(fmt.Sprintf("**Clusters**: %d\n\n", result.ClusterCount))

	if len(result.Warnings) > 0 {
		sb.WriteString("## Warnings\n\n")
		for _, w := range result.Warnings {
			sb.WriteString(fmt.Sprintf("- %s\n", w))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Summary\n\n")
	if len(result.Clusters) == 0 {
		sb.WriteString("_No findings survived deduplication and validation._\n\n")
	} else {
		sb.WriteString(fmt.Sprintf("%d distinct finding(s) across %d reviewer(s).\n\n", len(result.Clusters), result.ReviewerCount))
	}

	insights := CrossReviewerInsights(result.Clusters)
	if len(insights) > 0 {
		sb.WriteString("## Cross-Reviewer Insights\n\n")
		for _, spot := range insights {
			sb.WriteString(fmt.Sprintf("- Hot spot: %s flagged by %s\n", spot.File, strings.Join(spot.Reviewers, ", ")))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Findings by Cluster\n\n")
	if len(result.Clusters) == 0 {
		sb.WriteString("_None._\n")
		return sb.String()
	}

	ordered := make([]model.ReportedCluster, len(result.Clusters))
	copy(ordered, result.Clusters)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Severity != ordered[j].Severity {
			return ordered[i].Severity > ordered[j].Severity
		}
		return ordered[i].File < ordered[j].File
	})

	for _, c := range ordered {
		sb.WriteString(fmt.Sprintf("### %s:%d-%d (%s)\n\n", c.File, c.LineRange.Lo, c.LineRange.Hi, c.Verdict))
		sb.WriteString(fmt.Sprintf("%s\n\n", c.Description))
		sb.WriteString(fmt.Sprintf("- Severity: %.1f, Confidence: %.1f, Agreement: %d\n", c.Severity, c.Confidence, c.Agreement))
		sb.WriteString(fmt.Sprintf("- Contributing reviewers: %s\n", strings.Join(c.ContributingReviewers, ", ")))
		if c.Remediation != "" {
			sb.WriteString(fmt.Sprintf("- Remediation: %s\n", c.Remediation))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// sanitizeFilename strips characters unsafe for a file name, truncating
// long task identifiers.
func sanitizeFilename(s string) string {
	unsafe := []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|", " "}
	result := s
	for _, u := range unsafe {
		result = strings.ReplaceAll(result, u, "_")
	}
	if len(result) > 50 {
		result = result[:50]
	}
	return result
}

// Export renders result and writes it to <outputDir>/<task_id>.md, creating
// outputDir if needed. Returns the written path.
func Export(taskID string, result model.ReviewResult, outputDir string, now time.Time) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("report: creating %s: %w", outputDir, err)
	}
	name := sanitizeFilename(taskID)
	if name == "" {
		name = now.Format("20060102_150405")
	}
	path := filepath.Join(outputDir, name+".md")
	content := Render(taskID, result)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("report: writing %s: %w", path, err)
	}
	return path, nil
}
