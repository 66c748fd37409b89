// Package orchestrator implements the Review Orchestrator (component F):
// the two-call prepare_review/finalize_review contract that ties the
// deduplicator, validator, consensus engine, knowledge store, and reviewer
// engine together into one deterministic pipeline.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sam-fakhreddine/consensus-review/internal/config"
	"github.com/sam-fakhreddine/consensus-review/internal/consensus"
	"github.com/sam-fakhreddine/consensus-review/internal/embedding"
	"github.com/sam-fakhreddine/consensus-review/internal/fingerprint"
	"github.com/sam-fakhreddine/consensus-review/internal/knowledge"
	"github.com/sam-fakhreddine/consensus-review/internal/logging"
	"github.com/sam-fakhreddine/consensus-review/internal/model"
	"github.com/sam-fakhreddine/consensus-review/internal/reviewerengine"
	"github.com/sam-fakhreddine/consensus-review/internal/reviewid"
	"github.com/sam-fakhreddine/consensus-review/internal/validator"
)

// schemaVersion is stamped onto every ReviewResult for forward compatibility.
const schemaVersion = "1.0"

// Zero-finding devil's-advocate gate thresholds (§4.F step 5).
const (
	devilsAdvocateMinReviewers = 3
	devilsAdvocateMinScore     = 8.0
)

// kindAdvocate/kindSpecCompliance tag the non-reviewer task specs that flow
// through the same TaskSpec/TaskResponse wire shape as the five reviewers.
const (
	kindReviewer       = ""
	kindAdvocate       = "advocate"
	kindSpecCompliance = "spec_compliance"
)

const specComplianceFailureFile = "spec_compliance_failure.json"
const workspaceMetaFile = "request.json"

// SpecComplianceChecker resolves the optional spec-compliance gate (§4.F
// step 6). The specification mandates the gate run sequential-before the
// five reviewers; this orchestrator resolves it synchronously inside
// PrepareReview rather than round-tripping through the host, since it has no
// dependency on the five reviewers' outputs. A nil checker treats every
// request as compliant (fail-open).
type SpecComplianceChecker interface {
	CheckCompliance(ctx context.Context, req model.ReviewRequest) (compliant bool, details string, err error)
}

// Orchestrator holds no mutable state across invocations; all per-request
// state lives in the workspace directory on disk, so instances are safe to
// reuse across concurrent review requests.
type Orchestrator struct {
	cfg           config.Config
	store         *knowledge.Store
	retriever     *knowledge.Retriever
	writer        *knowledge.Writer
	history       validator.HistoryChecker
	verifier      validator.Verifier
	specCheck     SpecComplianceChecker
	workspaceRoot string
	now           func() time.Time
}

// New builds an Orchestrator. verifier and specCheck may be nil (cross-check
// and spec-compliance gate are then skipped, fail-open).
func New(cfg config.Config, store *knowledge.Store, retriever *knowledge.Retriever, writer *knowledge.Writer, history validator.HistoryChecker, verifier validator.Verifier, specCheck SpecComplianceChecker, workspaceRoot string, now func() time.Time) *Orchestrator {
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		cfg:           cfg,
		store:         store,
		retriever:     retriever,
		writer:        writer,
		history:       history,
		verifier:      verifier,
		specCheck:     specCheck,
		workspaceRoot: workspaceRoot,
		now:           now,
	}
}

// workspaceMeta is the input metadata PrepareReview persists into the
// workspace directory so FinalizeReview can recover the original request if
// invoked from a different process (or after a crash, for post-mortem).
type workspaceMeta struct {
	Request    model.ReviewRequest `json:"request"`
	Complexity model.Complexity    `json:"complexity"`
}

// ComputeComplexity classifies a request by file and diff-line count (§4.F
// step 7).
func ComputeComplexity(req model.ReviewRequest, thresholds config.ComplexityThresholds) model.Complexity {
	f := len(req.Files)
	d := countDiffLines(req.Diff)
	if f <= thresholds.SimpleMaxFiles && d < thresholds.SimpleMaxDiffLines {
		return model.ComplexitySimple
	}
	if f <= thresholds.StandardMaxFiles && d < thresholds.StandardMaxDiffLines {
		return model.ComplexityStandard
	}
	return model.ComplexityComplex
}

func countDiffLines(diff string) int {
	if diff == "" {
		return 0
	}
	return strings.Count(diff, "\n") + 1
}

// PrepareReview builds the isolated per-reviewer task specs for request. It
// is pure aside from creating the workspace directory and writing input
// metadata (§5). When a spec-compliance gate is configured and fails, it
// returns an empty task_specs list; the failure is recorded in the
// workspace for FinalizeReview to pick up.
func (o *Orchestrator) PrepareReview(ctx context.Context, req model.ReviewRequest) (model.PrepareResult, error) {
	log := logging.Get(logging.CategoryOrchestrator)

	workspaceID := uuid.NewString()
	wsDir := filepath.Join(o.workspaceRoot, workspaceID)
	if err := os.MkdirAll(wsDir, 0755); err != nil {
		return model.PrepareResult{}, fmt.Errorf("orchestrator: creating workspace %s: %w", wsDir, err)
	}

	complexity := ComputeComplexity(req, o.cfg.Complexity)
	if err := writeWorkspaceMeta(wsDir, workspaceMeta{Request: req, Complexity: complexity}); err != nil {
		return model.PrepareResult{}, err
	}

	if req.TaskSpec != "" && o.specCheck != nil {
		compliant, details, err := o.specCheck.CheckCompliance(ctx, req)
		if err != nil {
			log.Warn("spec compliance check failed, failing open as compliant: %v", err)
		} else if !compliant {
			if werr := writeSpecComplianceFailure(wsDir, details); werr != nil {
				log.Warn("failed to persist spec compliance failure: %v", werr)
			}
			return model.PrepareResult{WorkspaceID: workspaceID}, nil
		}
	}

	forceAll := complexity == model.ComplexityComplex
	query := embedding.BuildQuery(req.Files, req.Diff)

	var specs []model.TaskSpec
	for _, id := range reviewid.All {
		relevant := reviewerengine.Relevant(id, req.Files)
		if complexity == model.ComplexitySimple && !relevant {
			continue
		}
		relevant = relevant || forceAll

		entries, warn := o.retrieve(ctx, id, query)
		if warn != "" {
			log.Warn("%s", warn)
		}
		specs = append(specs, reviewerengine.BuildTaskSpec(id, req, entries, relevant))
	}

	return model.PrepareResult{TaskSpecs: specs, WorkspaceID: workspaceID}, nil
}

func (o *Orchestrator) retrieve(ctx context.Context, id reviewid.ReviewerID, query string) ([]knowledge.Entry, string) {
	if o.retriever == nil {
		return nil, ""
	}
	return o.retriever.Retrieve(ctx, id, query, o.cfg.Knowledge.TopK, o.cfg.Knowledge.TokenBudget)
}

// FinalizeReview folds task_responses into a final, scored ReviewResult,
// running the ten finalization steps in order: spec-compliance check,
// parse, dedup, structural/cross-check/historical validation,
// zero-finding devil's-advocate gate, CS scoring, knowledge writing, and
// result assembly.
func (o *Orchestrator) FinalizeReview(ctx context.Context, req model.ReviewRequest, responses []model.TaskResponse, workspaceID string) (model.ReviewResult, error) {
	start := o.now()
	log := logging.Get(logging.CategoryOrchestrator)
	wsDir := filepath.Join(o.workspaceRoot, workspaceID)

	if details, failed := readSpecComplianceFailure(wsDir); failed {
		return model.ReviewResult{
			SchemaVersion: schemaVersion,
			TaskID:        req.TaskID,
			Passed:        false,
			Reason:        "spec_compliance_failed",
			Warnings:      []string{details},
		}, nil
	}

	var warnings []string

	reviewerResponses, advocateResponse := splitResponses(responses)

	findings, parseWarnings := reviewerengine.Parse(reviewerResponses)
	warnings = append(warnings, parseWarnings...)

	if advocateResponse != nil {
		advocateFindings, advocateWarnings := reviewerengine.Parse([]model.TaskResponse{*advocateResponse})
		findings = append(findings, advocateFindings...)
		warnings = append(warnings, advocateWarnings...)
	}

	reviewerCount := countDistinctReviewers(reviewerResponses)
	clusters := fingerprint.Merge(findings, reviewerCount)

	files := o.buildFileIndex(req.Files)

	validated, validatorWarnings := validator.Classify(clusters, files, o.verifier, o.history)
	warnings = append(warnings, validatorWarnings...)

	// Zero-finding devil's-advocate gate only applies to the first pass
	// (advocate findings already folded in never re-trigger it, per §4.F
	// step 5: "the flag is not re-checked on the second pass").
	if advocateResponse == nil && len(clusters) == 0 {
		if spec, ok := o.devilsAdvocateGate(req, reviewerResponses); ok {
			return model.ReviewResult{
				SchemaVersion:    schemaVersion,
				TaskID:           req.TaskID,
				ReviewerCount:    reviewerCount,
				Warnings:         warnings,
				NeedsAdvocate:    true,
				AdvocateTaskSpec: &spec,
			}, nil
		}
	}

	result := consensus.Score(validated, reviewerCount)

	written, writeWarnings := o.writePromoted(ctx, validated)
	warnings = append(warnings, writeWarnings...)

	reported := make([]model.ReportedCluster, 0, len(validated))
	for _, c := range validated {
		reported = append(reported, toReportedCluster(c))
	}

	finalizeMS := o.now().Sub(start).Milliseconds()
	log.Info("finalized task=%s cs=%.2f tier=%s clusters=%d", req.TaskID, result.CS, result.Tier, len(validated))

	return model.ReviewResult{
		SchemaVersion:   schemaVersion,
		TaskID:          req.TaskID,
		CS:              result.CS,
		Tier:            result.Tier,
		Passed:          result.Passed,
		MPRApplied:      result.MPRApplied,
		ReviewerCount:   result.ReviewerCount,
		ClusterCount:    result.ClusterCount,
		Clusters:        reported,
		Timings:         model.Timings{FinalizeMS: finalizeMS},
		KnowledgeWrites: written,
		Warnings:        warnings,
	}, nil
}

func (o *Orchestrator) writePromoted(ctx context.Context, validated []model.ValidatedCluster) (int, []string) {
	if o.writer == nil {
		return 0, nil
	}
	return o.writer.WritePromoted(ctx, validated)
}

// devilsAdvocateGate checks the zero-finding trigger condition and, if met,
// builds the adversarial re-prompt task spec containing only the diff.
func (o *Orchestrator) devilsAdvocateGate(req model.ReviewRequest, responses []model.TaskResponse) (model.TaskSpec, bool) {
	highScoring := 0
	for _, r := range responses {
		if !r.ReviewerID.Valid() || !reviewerengine.Relevant(r.ReviewerID, req.Files) {
			continue
		}
		if selfScoreOf(r.Text) >= devilsAdvocateMinScore {
			highScoring++
		}
	}
	if highScoring < devilsAdvocateMinReviewers {
		return model.TaskSpec{}, false
	}

	prompt := "Find what the others missed. Review the following diff adversarially; " +
		"returning an empty list is a valid answer only after genuine effort.\n\nDiff:\n" + req.Diff
	return model.TaskSpec{
		// Attributed to Correctness for clustering/CS purposes: the
		// advocate reviews generally rather than through one of the five
		// specialized lenses, and Correctness is the most neutral,
		// non-minority-protected attribution available in the closed
		// reviewer set.
		ReviewerID: reviewid.Correctness,
		Kind:       kindAdvocate,
		Prompt:     prompt,
		Relevant:   true,
		SchemaHint: reviewerengine.SchemaHint(),
	}, true
}

// selfScoreOf is a best-effort extraction of a reviewer's self-reported
// confidence when it returned zero findings. Responses carrying no parsable
// self-score are treated as 0 (never trigger the gate), since the gate must
// never fire on ambiguous input (§4.F step 5 requires individual scores
// explicitly ≥ 8.0, not an absence of signal).
func selfScoreOf(text string) float64 {
	const marker = "self_score:"
	idx := strings.Index(strings.ToLower(text), marker)
	if idx < 0 {
		return 0
	}
	rest := strings.TrimSpace(text[idx+len(marker):])
	var score float64
	if _, err := fmt.Sscanf(rest, "%f", &score); err != nil {
		return 0
	}
	return score
}

func splitResponses(responses []model.TaskResponse) (reviewers []model.TaskResponse, advocate *model.TaskResponse) {
	for _, r := range responses {
		if r.Kind == kindAdvocate {
			if advocate == nil {
				a := r
				advocate = &a
			}
			continue
		}
		if r.ReviewerID.Valid() {
			reviewers = append(reviewers, r)
		}
	}
	return reviewers, advocate
}

func countDistinctReviewers(responses []model.TaskResponse) int {
	seen := make(map[reviewid.ReviewerID]bool)
	for _, r := range responses {
		if r.ReviewerID.Valid() {
			seen[r.ReviewerID] = true
		}
	}
	return len(seen)
}

// buildFileIndex reads each changed file from disk to get its real line
// count for the structural validator layer. A file that cannot be read is
// simply omitted from the index: the structural layer already treats a
// finding against an unindexed (non-empty) file path as DISPUTED, which is
// the correct fail-safe outcome when a referenced file doesn't exist.
func (o *Orchestrator) buildFileIndex(files []string) []validator.FileInfo {
	index := make([]validator.FileInfo, 0, len(files))
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		index = append(index, validator.FileInfo{Path: path, LineCount: bytes.Count(data, []byte("\n")) + 1})
	}
	return index
}

func toReportedCluster(c model.ValidatedCluster) model.ReportedCluster {
	contributors := make([]string, 0, len(c.ContributingReviewers))
	for _, r := range c.ContributingReviewers {
		contributors = append(contributors, r.String())
	}
	return model.ReportedCluster{
		Fingerprint:           c.Fingerprint,
		File:                  c.File,
		LineRange:             c.LineRange,
		Severity:              c.Severity,
		Confidence:            c.Confidence,
		Agreement:             c.Agreement,
		Verdict:               c.Verdict,
		Weight:                c.Weight,
		EffectiveR:            c.EffectiveR,
		ContributingReviewers: contributors,
		Description:           c.Description,
		Remediation:           c.Remediation,
	}
}

func writeWorkspaceMeta(wsDir string, meta workspaceMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("orchestrator: marshaling workspace metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(wsDir, workspaceMetaFile), data, 0644); err != nil {
		return fmt.Errorf("orchestrator: writing workspace metadata: %w", err)
	}
	return nil
}

func writeSpecComplianceFailure(wsDir, details string) error {
	data, err := json.Marshal(map[string]string{"details": details})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(wsDir, specComplianceFailureFile), data, 0644)
}

func readSpecComplianceFailure(wsDir string) (details string, failed bool) {
	data, err := os.ReadFile(filepath.Join(wsDir, specComplianceFailureFile))
	if err != nil {
		return "", false
	}
	var payload map[string]string
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", true
	}
	return payload["details"], true
}

// PrefetchKnowledge retrieves knowledge for every reviewer concurrently,
// bounded by errgroup, ahead of building task specs. Exposed separately from
// PrepareReview's sequential retrieval loop for callers that want to warm
// the embedding cache before a batch of requests; PrepareReview itself
// retrieves inline per-reviewer since the per-request retrieval volume (at
// most 5 calls) does not justify the concurrency overhead on the hot path.
func (o *Orchestrator) PrefetchKnowledge(ctx context.Context, files []string, diff string) (map[reviewid.ReviewerID][]knowledge.Entry, error) {
	if o.retriever == nil {
		return nil, nil
	}
	query := embedding.BuildQuery(files, diff)

	results := make(map[reviewid.ReviewerID][]knowledge.Entry, len(reviewid.All))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range reviewid.All {
		id := id
		g.Go(func() error {
			entries, _ := o.retriever.Retrieve(gctx, id, query, o.cfg.Knowledge.TopK, o.cfg.Knowledge.TokenBudget)
			mu.Lock()
			results[id] = entries
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
