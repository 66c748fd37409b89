package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sam-fakhreddine/consensus-review/internal/model"
)

func sampleResult() model.ReviewResult {
	return model.ReviewResult{
		TaskID:        "t1",
		CS:            6.2,
		Tier:          model.TierImportant,
		Passed:        false,
		ReviewerCount: 5,
		ClusterCount:  2,
		Clusters: []model.ReportedCluster{
			{
				File:                  "main.go",
				LineRange:             model.LineRange{Lo: 10, Hi: 12},
				Severity:              7,
				Confidence:            8,
				Agreement:             2,
				Verdict:               model.VerdictVerified,
				Description:           "unchecked error return",
				ContributingReviewers: []string{"correctness", "security"},
			},
			{
				File:                  "util.go",
				LineRange:             model.LineRange{Lo: 1, Hi: 2},
				Severity:              3,
				Confidence:            5,
				Agreement:             1,
				Verdict:               model.VerdictUnverified,
				Description:           "unused variable",
				ContributingReviewers: []string{"maintainability"},
			},
		},
	}
}

func TestCrossReviewerInsights_FlagsFilesWithMultipleReviewers(t *testing.T) {
	insights := CrossReviewerInsights(sampleResult().Clusters)
	require.Len(t, insights, 1)
	assert.Equal(t, "main.go", insights[0].File)
	assert.Equal(t, []string{"correctness", "security"}, insights[0].Reviewers)
}

func TestCrossReviewerInsights_EmptyWhenNoFileHasTwoReviewers(t *testing.T) {
	result := sampleResult()
	result.Clusters[0].ContributingReviewers = []string{"correctness"}
	assert.Empty(t, CrossReviewerInsights(result.Clusters))
}

func TestRender_IncludesSummaryInsightsAndFindings(t *testing.T) {
	out := Render("t1", sampleResult())
	assert.Contains(t, out, "# Code Review: t1")
	assert.Contains(t, out, "Hot spot: main.go")
	assert.Contains(t, out, "unchecked error return")
	assert.Contains(t, out, "util.go:1-2")
}

func TestRender_EmptyClustersStillRenders(t *testing.T) {
	out := Render("t2", model.ReviewResult{TaskID: "t2", Passed: true})
	assert.Contains(t, out, "No findings survived")
}

func TestExport_WritesFileUnderOutputDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reviews")
	path, err := Export("my task", sampleResult(), dir, time.Now())
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, filepath.Join(dir, "my_task.md"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Code Review: t1")
}
