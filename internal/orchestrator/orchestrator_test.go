package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sam-fakhreddine/consensus-review/internal/config"
	"github.com/sam-fakhreddine/consensus-review/internal/knowledge"
	"github.com/sam-fakhreddine/consensus-review/internal/model"
	"github.com/sam-fakhreddine/consensus-review/internal/reviewid"
	"github.com/sam-fakhreddine/consensus-review/internal/validator"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	)
}

// confirmingVerifier is the cross-check stub referenced by validator.Verifier's
// doc comment: it always confirms, so scenario tests can exercise the
// consensus formula against a VERIFIED cluster without a real host round-trip.
type confirmingVerifier struct{}

func (confirmingVerifier) Verify(model.Cluster) (bool, error) { return true, nil }

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	return New(config.DefaultConfig(), nil, nil, nil, nil, confirmingVerifier{}, nil, t.TempDir(), nil)
}

func writeTempFile(t *testing.T, name string, lines int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	content := strings.Repeat("line\n", lines)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func allReviewerResponses(text string) []model.TaskResponse {
	var responses []model.TaskResponse
	for _, id := range reviewid.All {
		responses = append(responses, model.TaskResponse{ReviewerID: id, Text: text})
	}
	return responses
}

func TestFinalizeReview_EmptyReview(t *testing.T) {
	o := newTestOrchestrator(t)
	req := model.ReviewRequest{TaskID: "t1", Files: []string{"x.md"}, Diff: ""}

	result, err := o.FinalizeReview(context.Background(), req, allReviewerResponses("[]"), "ws1")
	require.NoError(t, err)

	assert.False(t, result.NeedsAdvocate)
	assert.Equal(t, 0.0, result.CS)
	assert.Equal(t, model.TierInformational, result.Tier)
	assert.True(t, result.Passed)
	assert.False(t, result.MPRApplied)
	assert.Empty(t, result.Clusters)
}

func TestFinalizeReview_SingleModerateFinding(t *testing.T) {
	o := newTestOrchestrator(t)
	path := writeTempFile(t, "a.py", 20)
	req := model.ReviewRequest{TaskID: "t2", Files: []string{path}}

	finding := `[{"severity":5,"confidence":8,"file":"` + jsonEscape(path) + `","line_range":[10,12],"description":"missing null check"}]`
	responses := []model.TaskResponse{
		{ReviewerID: reviewid.Correctness, Text: finding},
		{ReviewerID: reviewid.Security, Text: "[]"},
		{ReviewerID: reviewid.Performance, Text: "[]"},
		{ReviewerID: reviewid.Maintainability, Text: "[]"},
		{ReviewerID: reviewid.Reliability, Text: "[]"},
	}

	result, err := o.FinalizeReview(context.Background(), req, responses, "ws2")
	require.NoError(t, err)

	require.Len(t, result.Clusters, 1)
	assert.Equal(t, model.VerdictUnverified, result.Clusters[0].Verdict)
	assert.InDelta(t, 1.52, result.CS, 0.01)
	assert.Equal(t, model.TierInformational, result.Tier)
	assert.True(t, result.Passed)
}

func TestFinalizeReview_UnanimousHighSeverityNoMPR(t *testing.T) {
	o := newTestOrchestrator(t)
	path := writeTempFile(t, "b.py", 20)
	req := model.ReviewRequest{TaskID: "t3", Files: []string{path}}

	finding := `[{"severity":9,"confidence":9,"file":"` + jsonEscape(path) + `","line_range":[3,4],"description":"race condition in handler"}]`
	responses := allReviewerResponses(finding)

	result, err := o.FinalizeReview(context.Background(), req, responses, "ws3")
	require.NoError(t, err)

	require.Len(t, result.Clusters, 1)
	assert.Equal(t, 5, result.Clusters[0].Agreement)
	assert.InDelta(t, 8.10, result.CS, 0.01)
	assert.Equal(t, model.TierCritical, result.Tier)
	assert.False(t, result.Passed)
	assert.False(t, result.MPRApplied)
}

func TestFinalizeReview_MinoritySecurityCriticalFiresMPR(t *testing.T) {
	o := newTestOrchestrator(t)
	path := writeTempFile(t, "c.py", 20)
	req := model.ReviewRequest{TaskID: "t4", Files: []string{path}}

	finding := `[{"severity":10,"confidence":9,"file":"` + jsonEscape(path) + `","line_range":[1,2],"description":"sql injection via string concat"}]`
	responses := []model.TaskResponse{
		{ReviewerID: reviewid.Security, Text: finding},
		{ReviewerID: reviewid.Correctness, Text: "[]"},
		{ReviewerID: reviewid.Performance, Text: "[]"},
		{ReviewerID: reviewid.Maintainability, Text: "[]"},
		{ReviewerID: reviewid.Reliability, Text: "[]"},
	}

	result, err := o.FinalizeReview(context.Background(), req, responses, "ws4")
	require.NoError(t, err)

	require.Len(t, result.Clusters, 1)
	assert.InDelta(t, 8.3, result.CS, 0.01)
	assert.Equal(t, model.TierCritical, result.Tier)
	assert.False(t, result.Passed)
	assert.True(t, result.MPRApplied)
}

type fixedHistory struct{ rejectedFingerprint string }

func (f fixedHistory) IsFalsePositive(reviewer reviewid.ReviewerID, fingerprint string) (bool, error) {
	return fingerprint == f.rejectedFingerprint, nil
}

func TestFinalizeReview_HistoricallyRejectedYieldsZeroCS(t *testing.T) {
	path := writeTempFile(t, "d.py", 20)
	req := model.ReviewRequest{TaskID: "t5", Files: []string{path}}
	finding := `[{"severity":6,"confidence":6,"file":"` + jsonEscape(path) + `","line_range":[5,6],"description":"known false positive pattern"}]`
	responses := allReviewerResponses(finding)

	// First pass without history to learn the fingerprint.
	probe := New(config.DefaultConfig(), nil, nil, nil, nil, nil, nil, t.TempDir(), nil)
	probeResult, err := probe.FinalizeReview(context.Background(), req, responses, "probe")
	require.NoError(t, err)
	require.Len(t, probeResult.Clusters, 1)
	fp := probeResult.Clusters[0].Fingerprint

	var history validator.HistoryChecker = fixedHistory{rejectedFingerprint: fp}
	o := New(config.DefaultConfig(), nil, nil, nil, history, nil, nil, t.TempDir(), nil)

	result, err := o.FinalizeReview(context.Background(), req, responses, "ws5")
	require.NoError(t, err)
	require.Len(t, result.Clusters, 1)
	assert.Equal(t, model.VerdictHistoricallyRejected, result.Clusters[0].Verdict)
	assert.Equal(t, 0.0, result.CS)
	assert.True(t, result.Passed)
}

func TestFinalizeReview_ZeroFindingDevilsAdvocateRoundTrip(t *testing.T) {
	o := newTestOrchestrator(t)
	path := writeTempFile(t, "e.py", 20)
	req := model.ReviewRequest{TaskID: "t6", Files: []string{path}}

	highSelfScore := "self_score: 9\n[]"
	firstPass := allReviewerResponses(highSelfScore)

	result, err := o.FinalizeReview(context.Background(), req, firstPass, "ws6")
	require.NoError(t, err)
	require.True(t, result.NeedsAdvocate)
	require.NotNil(t, result.AdvocateTaskSpec)
	assert.Equal(t, reviewid.Correctness, result.AdvocateTaskSpec.ReviewerID)
	assert.Contains(t, result.AdvocateTaskSpec.Prompt, "Find what the others missed")

	advocateResponse := model.TaskResponse{
		ReviewerID: reviewid.Correctness,
		Kind:       "advocate",
		Text:       `[{"severity":7,"confidence":7,"file":"` + jsonEscape(path) + `","line_range":[1,1],"description":"overlooked edge case"}]`,
	}
	secondPass := append(append([]model.TaskResponse{}, firstPass...), advocateResponse)

	final, err := o.FinalizeReview(context.Background(), req, secondPass, "ws6")
	require.NoError(t, err)
	assert.False(t, final.NeedsAdvocate)
	require.Len(t, final.Clusters, 1)
	assert.InDelta(t, 2.45, final.Clusters[0].EffectiveR, 0.01)
}

type stubSpecChecker struct {
	compliant bool
	details   string
}

func (s stubSpecChecker) CheckCompliance(ctx context.Context, req model.ReviewRequest) (bool, string, error) {
	return s.compliant, s.details, nil
}

func TestPrepareThenFinalize_SpecComplianceGateFails(t *testing.T) {
	o := New(config.DefaultConfig(), nil, nil, nil, nil, nil, stubSpecChecker{compliant: false, details: "scope mismatch"}, t.TempDir(), nil)
	req := model.ReviewRequest{TaskID: "t7", Files: []string{"x.py"}, TaskSpec: "implement feature X"}

	prepared, err := o.PrepareReview(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, prepared.TaskSpecs)
	assert.NotEmpty(t, prepared.WorkspaceID)

	result, err := o.FinalizeReview(context.Background(), req, nil, prepared.WorkspaceID)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Equal(t, "spec_compliance_failed", result.Reason)
	assert.Contains(t, result.Warnings, "scope mismatch")
}

func TestPrepareReview_SimpleComplexitySkipsIrrelevantReviewers(t *testing.T) {
	o := newTestOrchestrator(t)
	req := model.ReviewRequest{TaskID: "t8", Files: []string{"README.md"}}

	prepared, err := o.PrepareReview(context.Background(), req)
	require.NoError(t, err)

	for _, spec := range prepared.TaskSpecs {
		assert.Equal(t, reviewid.Maintainability, spec.ReviewerID)
	}
}

func TestComputeComplexity_Tiers(t *testing.T) {
	thresholds := config.DefaultConfig().Complexity
	assert.Equal(t, model.ComplexitySimple, ComputeComplexity(model.ReviewRequest{Files: []string{"a.go"}, Diff: "one\ntwo"}, thresholds))
	assert.Equal(t, model.ComplexityStandard, ComputeComplexity(model.ReviewRequest{Files: make([]string, 5), Diff: strings.Repeat("x\n", 100)}, thresholds))
	assert.Equal(t, model.ComplexityComplex, ComputeComplexity(model.ReviewRequest{Files: make([]string, 20), Diff: strings.Repeat("x\n", 600)}, thresholds))
}

func jsonEscape(s string) string {
	return strings.ReplaceAll(s, `\`, `\\`)
}

func TestPrefetchKnowledge_NilRetrieverIsNoop(t *testing.T) {
	o := newTestOrchestrator(t)
	entries, err := o.PrefetchKnowledge(context.Background(), []string{"a.go"}, "diff")
	require.NoError(t, err)
	assert.Nil(t, entries)
}

func TestPrefetchKnowledge_ConcurrentRetrievalCoversEveryReviewer(t *testing.T) {
	store := knowledge.NewStore(filepath.Join(t.TempDir(), "knowledge"), 10*time.Second)
	retriever := knowledge.NewRetriever(store, nil, nil)
	o := New(config.DefaultConfig(), nil, retriever, nil, nil, nil, nil, t.TempDir(), nil)

	entries, err := o.PrefetchKnowledge(context.Background(), []string{"a.go", "b.py"}, "some diff\nwith lines")
	require.NoError(t, err)
	for _, id := range reviewid.All {
		_, ok := entries[id]
		assert.True(t, ok, "missing prefetch result for %s", id)
	}
}

// FinalizeReview's scoring is a pure fold over (request, responses): the same
// inputs in a different response order must produce byte-identical output,
// since task_responses arrive from independently scheduled reviewer calls
// with no guaranteed ordering.
func TestFinalizeReview_DeterministicAcrossResponseOrder(t *testing.T) {
	o := newTestOrchestrator(t)
	file := writeTempFile(t, "main.go", 20)
	req := model.ReviewRequest{TaskID: "t9", Files: []string{file}}

	responses := []model.TaskResponse{
		{ReviewerID: reviewid.Correctness, Text: `[{"severity":6,"confidence":7,"description":"off by one","file":"` + jsonEscape(file) + `","line_range":[5,6]}]`},
		{ReviewerID: reviewid.Security, Text: `[]`},
		{ReviewerID: reviewid.Performance, Text: `[]`},
		{ReviewerID: reviewid.Reliability, Text: `[]`},
		{ReviewerID: reviewid.Maintainability, Text: `[]`},
	}
	reversed := make([]model.TaskResponse, len(responses))
	for i, r := range responses {
		reversed[len(responses)-1-i] = r
	}

	got1, err := o.FinalizeReview(context.Background(), req, responses, "")
	require.NoError(t, err)
	got2, err := o.FinalizeReview(context.Background(), req, reversed, "")
	require.NoError(t, err)

	if diff := cmp.Diff(got1, got2); diff != "" {
		t.Fatalf("FinalizeReview not order-independent (-first +reversed):\n%s", diff)
	}
}
