// Package model defines the shared data types that flow between the
// deduplicator, validator, consensus engine, knowledge store, and
// orchestrator: raw findings, clusters, verdicts, and the final review
// result.
package model

import "github.com/sam-fakhreddine/consensus-review/internal/reviewid"

// LineRange is an inclusive [Lo, Hi] line span. The zero value [0,0] means
// "no specific line attached".
type LineRange struct {
	Lo int `json:"lo"`
	Hi int `json:"hi"`
}

// ReviewRequest carries everything the host passes in for one invocation.
type ReviewRequest struct {
	TaskID       string
	Files        []string
	Diff         string
	TaskSpec     string // optional prior task specification for spec-compliance gating
	DiffTruncated bool
}

// RawFinding is one reviewer's untouched output, after parsing and clamping
// but before deduplication.
type RawFinding struct {
	ReviewerID   reviewid.ReviewerID `json:"reviewer_id"`
	Severity     float64             `json:"severity"`
	Confidence   float64             `json:"confidence"`
	File         string              `json:"file"`
	LineRange    LineRange           `json:"line_range"`
	Description  string              `json:"description"`
	Remediation  string              `json:"remediation,omitempty"`
	Category     string              `json:"category,omitempty"`
}

// Verdict is the outcome of the three-layer validator.
type Verdict string

const (
	VerdictVerified            Verdict = "VERIFIED"
	VerdictUnverified          Verdict = "UNVERIFIED"
	VerdictDisputed            Verdict = "DISPUTED"
	VerdictHistoricallyRejected Verdict = "HISTORICALLY_REJECTED"
)

// Weight returns the verdict's multiplicative weight on effective_r.
func (v Verdict) Weight() float64 {
	switch v {
	case VerdictVerified:
		return 1.0
	case VerdictUnverified:
		return 0.5
	case VerdictDisputed:
		return 0.2
	case VerdictHistoricallyRejected:
		return 0.0
	default:
		return 0.5
	}
}

// Cluster groups raw findings judged to describe the same defect.
type Cluster struct {
	Fingerprint           string
	File                  string
	LineRange             LineRange
	Severity              float64
	Confidence            float64
	Agreement             int
	Description           string
	Remediation           string
	ContributingReviewers []reviewid.ReviewerID
	// OriginReviewer is the reviewer whose raw finding anchored the cluster,
	// used for knowledge auto-append attribution. It is the first
	// contributing reviewer in deterministic merge order.
	OriginReviewer reviewid.ReviewerID
}

// ValidatedCluster is a Cluster after the three-layer validator has run.
type ValidatedCluster struct {
	Cluster
	Verdict     Verdict
	Weight      float64
	EffectiveR  float64
}

// Tier is the discrete severity label derived from CS.
type Tier string

const (
	TierInformational Tier = "informational"
	TierModerate      Tier = "moderate"
	TierImportant     Tier = "important"
	TierCritical      Tier = "critical"
)

// ConsensusResult is the output of the CS engine.
type ConsensusResult struct {
	CS           float64
	Tier         Tier
	Passed       bool
	MPRApplied   bool
	ReviewerCount int
	ClusterCount int
}

// ReportedCluster is the wire-format rendering of a ValidatedCluster inside
// ReviewResult.
type ReportedCluster struct {
	Fingerprint           string    `json:"fingerprint"`
	File                  string    `json:"file"`
	LineRange             LineRange `json:"line_range"`
	Severity              float64   `json:"severity"`
	Confidence            float64   `json:"confidence"`
	Agreement             int       `json:"agreement"`
	Verdict               Verdict   `json:"verdict"`
	Weight                float64   `json:"weight"`
	EffectiveR            float64   `json:"effective_r"`
	ContributingReviewers []string  `json:"contributing_reviewers"`
	Description           string    `json:"description"`
	Remediation           string    `json:"remediation,omitempty"`
}

// Timings records phase durations for the result artifact.
type Timings struct {
	PrepareMS  int64 `json:"prepare_ms"`
	FinalizeMS int64 `json:"finalize_ms"`
}

// ReviewResult is the versioned JSON artifact returned by finalize_review.
type ReviewResult struct {
	SchemaVersion   string            `json:"schema_version"`
	TaskID          string            `json:"task_id"`
	CS              float64           `json:"cs"`
	Tier            Tier              `json:"tier"`
	Passed          bool              `json:"passed"`
	MPRApplied      bool              `json:"mpr_applied"`
	ReviewerCount   int               `json:"reviewer_count"`
	ClusterCount    int               `json:"cluster_count"`
	Clusters        []ReportedCluster `json:"clusters"`
	Timings         Timings           `json:"timings"`
	KnowledgeWrites int               `json:"knowledge_writes"`
	Warnings        []string          `json:"warnings"`

	// NeedsAdvocate signals that the host must re-invoke finalize_review
	// with the devil's-advocate task's response appended. Not part of the
	// spec's minimal result schema, but required by the two-pass contract;
	// a final ReviewResult always has this false.
	NeedsAdvocate    bool      `json:"needs_advocate,omitempty"`
	AdvocateTaskSpec *TaskSpec `json:"advocate_task_spec,omitempty"`

	// Reason carries the explanation when the spec-compliance gate fails
	// the review outright (passed=false, no reviewers invoked).
	Reason string `json:"reason,omitempty"`
}

// TaskSpec is one reviewer task the host must execute in isolation. Kind
// distinguishes the ordinary per-reviewer task ("") from the devil's-
// advocate re-prompt ("advocate"); the host must echo Kind back on the
// corresponding TaskResponse so the orchestrator can tell a second-pass
// advocate response apart from an ordinary reviewer response sharing the
// same ReviewerID attribution.
type TaskSpec struct {
	ReviewerID  reviewid.ReviewerID `json:"reviewer_id"`
	Prompt      string              `json:"prompt"`
	Temperature float64             `json:"temperature"`
	Relevant    bool                `json:"relevant"`
	SchemaHint  string              `json:"schema_hint,omitempty"`
	Kind        string              `json:"kind,omitempty"`
}

// TaskResponse is the host's report of one executed reviewer task.
type TaskResponse struct {
	ReviewerID reviewid.ReviewerID `json:"reviewer_id"`
	Text       string              `json:"text"`
	TokenCount int                 `json:"token_count,omitempty"`
	Kind       string              `json:"kind,omitempty"`
}

// PrepareResult is returned by prepare_review.
type PrepareResult struct {
	TaskSpecs   []TaskSpec `json:"task_specs"`
	WorkspaceID string     `json:"workspace_id"`
}

// Complexity classifies a request by file and diff-line count (§4.F step 7).
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityStandard Complexity = "standard"
	ComplexityComplex  Complexity = "complex"
)
