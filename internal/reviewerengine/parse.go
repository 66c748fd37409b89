package reviewerengine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sam-fakhreddine/consensus-review/internal/model"
	"github.com/sam-fakhreddine/consensus-review/internal/reviewid"
)

// reCodeFence matches a markdown code fence, optionally tagged "json". Lifted
// from the same multi-layer extraction idea as jsonutil.Extract: fences are
// tried before brace matching since they are the most reliable signal.
var reCodeFence = regexp.MustCompile("(?s)```(?:json)?[ \\t]*\n(.*?)\n```")

// rawJSONFinding mirrors the reviewer response schema (§6) for unmarshaling
// before clamping and converting to model.RawFinding.
type rawJSONFinding struct {
	Severity    float64 `json:"severity"`
	Confidence  float64 `json:"confidence"`
	File        string  `json:"file"`
	LineRange   [2]int  `json:"line_range"`
	Description string  `json:"description"`
	Remediation string  `json:"remediation"`
	Category    string  `json:"category"`
}

// Parse runs the four-layer JSON extraction against every task response, in
// ascending reviewer-id order (§5 ordering guarantee), and returns the
// combined raw findings plus any warnings accumulated along the way. Parsing
// never fails the whole batch: a single reviewer's malformed output
// contributes zero findings and a warning (§7).
func Parse(responses []model.TaskResponse) (findings []model.RawFinding, warnings []string) {
	sorted := make([]model.TaskResponse, len(responses))
	copy(sorted, responses)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ReviewerID.String() < sorted[j].ReviewerID.String()
	})

	for _, resp := range sorted {
		parsed, warning := parseOne(resp)
		findings = append(findings, parsed...)
		if warning != "" {
			warnings = append(warnings, warning)
		}
	}
	return findings, warnings
}

func parseOne(resp model.TaskResponse) ([]model.RawFinding, string) {
	if !resp.ReviewerID.Valid() {
		return nil, "reviewerengine: response from unknown reviewer identity dropped"
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return nil, ""
	}

	raw, layer, err := extractJSONArray(text)
	if err != nil {
		return nil, fmt.Sprintf("reviewerengine: %s: all JSON extraction layers failed, returning empty findings", resp.ReviewerID)
	}

	findings, convErr := toRawFindings(raw, resp.ReviewerID)
	if convErr != nil {
		return nil, fmt.Sprintf("reviewerengine: %s: %v", resp.ReviewerID, convErr)
	}

	if layer != layerRawParse {
		return findings, fmt.Sprintf("reviewerengine: %s: JSON recovered via %s fallback, not raw parse", resp.ReviewerID, layer)
	}
	return findings, ""
}

type extractionLayer string

const (
	layerRawParse     extractionLayer = "raw-parse"
	layerBracketRegex extractionLayer = "bracket-regex"
	layerCodeFence    extractionLayer = "code-fence"
	layerSingleObject extractionLayer = "single-object-wrap"
)

// extractJSONArray tries, in order: a direct parse of the whole text as a
// JSON array; a regex-extracted top-level [...] block; a markdown code
// fence; and finally a single JSON object wrapped into a one-element array.
// This mirrors the multi-layer strategy of jsonutil.Extract, specialized to
// always want an array and to report which layer succeeded so callers can
// always surface a fallback warning (§9 "silent fallback becomes
// observable").
func extractJSONArray(text string) (json.RawMessage, extractionLayer, error) {
	if json.Valid([]byte(text)) {
		trimmed := strings.TrimSpace(text)
		if strings.HasPrefix(trimmed, "[") {
			return json.RawMessage(trimmed), layerRawParse, nil
		}
	}

	if loc := findBracketSpan(text); loc != nil {
		candidate := text[loc[0]:loc[1]]
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), layerBracketRegex, nil
		}
	}

	if m := reCodeFence.FindStringSubmatch(text); m != nil {
		inner := strings.TrimSpace(m[1])
		if json.Valid([]byte(inner)) {
			if strings.HasPrefix(inner, "[") {
				return json.RawMessage(inner), layerCodeFence, nil
			}
			return json.RawMessage("[" + inner + "]"), layerCodeFence, nil
		}
	}

	if loc := findBraceSpan(text); loc != nil {
		candidate := text[loc[0]:loc[1]]
		if json.Valid([]byte(candidate)) {
			return json.RawMessage("[" + candidate + "]"), layerSingleObject, nil
		}
	}

	return nil, "", fmt.Errorf("no valid JSON found in response")
}

// findBracketSpan locates the first top-level balanced [ ... ] span, honoring
// string/escape-aware depth tracking so brackets inside description strings
// don't break matching.
func findBracketSpan(text string) []int {
	return findBalancedSpan(text, '[', ']')
}

// findBraceSpan locates the first top-level balanced { ... } span.
func findBraceSpan(text string) []int {
	return findBalancedSpan(text, '{', '}')
}

func findBalancedSpan(text string, open, close byte) []int {
	start := strings.IndexByte(text, open)
	if start < 0 {
		return nil
	}
	depth := 0
	inString := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch ch {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return []int{start, i + 1}
			}
		}
	}
	return nil
}

func toRawFindings(raw json.RawMessage, reviewer reviewid.ReviewerID) ([]model.RawFinding, error) {
	var parsed []rawJSONFinding
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	findings := make([]model.RawFinding, 0, len(parsed))
	for _, p := range parsed {
		findings = append(findings, model.RawFinding{
			ReviewerID:  reviewer,
			Severity:    clamp(p.Severity, 0, 10),
			Confidence:  clamp(p.Confidence, 0, 10),
			File:        p.File,
			LineRange:   model.LineRange{Lo: p.LineRange[0], Hi: p.LineRange[1]},
			Description: p.Description,
			Remediation: p.Remediation,
			Category:    p.Category,
		})
	}
	return findings, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
