// Package reviewerengine implements the Reviewer Engine (component E):
// building per-reviewer task specs with injected knowledge and a truncated
// diff, and parsing host-returned task responses back into raw findings
// with multi-layer, always-observable JSON extraction.
package reviewerengine

import (
	"fmt"
	"strings"

	"github.com/sam-fakhreddine/consensus-review/internal/knowledge"
	"github.com/sam-fakhreddine/consensus-review/internal/model"
	"github.com/sam-fakhreddine/consensus-review/internal/reviewid"
)

// charsPerToken approximates token count as len(prompt)/4, per §4.E.
const charsPerToken = 4

// RelevancePredicate decides whether a reviewer should run at all, based on
// the changed files' extensions.
type RelevancePredicate func(files []string) bool

// sourceExtensions is the set of source-file extensions that make every
// reviewer relevant. Relevant additionally lets maintainability run on
// markdown/config files, since style and structure rules apply there too.
var sourceExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".java": true,
	".rb": true, ".rs": true, ".c": true, ".cpp": true, ".cs": true,
}

// Relevant reports whether reviewer should run against files, using the
// default relevance predicates. maintainability additionally covers
// markdown and config files; the other four require at least one source
// file extension.
func Relevant(reviewer reviewid.ReviewerID, files []string) bool {
	for _, f := range files {
		ext := extOf(f)
		if sourceExtensions[ext] {
			return true
		}
		if reviewer == reviewid.Maintainability && (ext == ".md" || ext == ".yaml" || ext == ".yml" || ext == ".json" || ext == ".toml") {
			return true
		}
	}
	return false
}

func extOf(path string) string {
	idx := strings.LastIndexByte(path, '.')
	if idx < 0 {
		return ""
	}
	return strings.ToLower(path[idx:])
}

// promptTemplates holds each reviewer's base instruction text. These are
// intentionally terse; the detailed contract lives in the schema hint.
var promptTemplates = map[reviewid.ReviewerID]string{
	reviewid.Security:        "You are the security reviewer. Find vulnerabilities, injection risks, auth/authz gaps, and unsafe handling of untrusted input.",
	reviewid.Correctness:     "You are the correctness reviewer. Find logic errors, incorrect edge-case handling, and behavior that diverges from the apparent intent.",
	reviewid.Performance:     "You are the performance reviewer. Find inefficient algorithms, unnecessary allocations, and blocking operations on hot paths.",
	reviewid.Maintainability: "You are the maintainability reviewer. Find unclear naming, excessive complexity, and structure that will be costly to change later.",
	reviewid.Reliability:     "You are the reliability reviewer. Find missing error handling, resource leaks, and failure modes that could take the system down.",
}

const schemaHint = `Output must be a JSON array. Each element: ` +
	`{"severity":number 0-10,"confidence":number 0-10,"file":string,"line_range":[int,int],` +
	`"description":string,"remediation":string (optional),"category":string (optional)}. ` +
	`Return [] if there is nothing to report.`

// SchemaHint exposes the reviewer response schema description for callers
// outside this package that build their own task specs (e.g. the
// orchestrator's devil's-advocate re-prompt).
func SchemaHint() string {
	return schemaHint
}

const defaultTemperature = 0.3

// truncationLimit is the diff character cap before truncation (§3).
const truncationLimit = 50_000

// BuildTaskSpec produces the task spec for one reviewer, injecting retrieved
// knowledge entries into the prompt ahead of the diff. relevant is decided
// by the caller (typically Relevant) so orchestrator-level overrides (e.g.
// Complex-tier forcing) can short-circuit the predicate.
func BuildTaskSpec(reviewerID reviewid.ReviewerID, req model.ReviewRequest, knowledgeEntries []knowledge.Entry, relevant bool) model.TaskSpec {
	if !relevant {
		return model.TaskSpec{ReviewerID: reviewerID, Relevant: false}
	}

	var b strings.Builder
	b.WriteString(promptTemplates[reviewerID])
	b.WriteString("\n\n")

	if len(knowledgeEntries) > 0 {
		b.WriteString("Prior knowledge for this codebase:\n")
		for _, e := range knowledgeEntries {
			fmt.Fprintf(&b, "- %s\n", e.Text)
		}
		b.WriteString("\n")
	}

	diff := req.Diff
	if len(diff) > truncationLimit {
		diff = diff[:truncationLimit] + "\n...[diff truncated]"
	}
	b.WriteString("Diff:\n")
	b.WriteString(diff)
	b.WriteString("\n\n")
	b.WriteString(schemaHint)

	prompt := b.String()

	return model.TaskSpec{
		ReviewerID:  reviewerID,
		Prompt:      prompt,
		Temperature: defaultTemperature,
		Relevant:    true,
		SchemaHint:  schemaHint,
	}
}

// EstimateTokens approximates prompt token count as len(prompt)/charsPerToken.
func EstimateTokens(prompt string) int {
	return len(prompt) / charsPerToken
}

// BuildCorrectionTaskSpec produces the single allowed retry prompt when
// parsing returned an empty result for a non-empty response (§4.E "Agentic
// re-prompt").
func BuildCorrectionTaskSpec(original model.TaskSpec) model.TaskSpec {
	corrected := original
	corrected.Prompt = original.Prompt + "\n\noutput must be valid JSON matching: " + original.SchemaHint
	return corrected
}
