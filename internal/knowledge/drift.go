package knowledge

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sam-fakhreddine/consensus-review/internal/reviewid"
)

// DriftReport is the four on-demand signals computed over one reviewer's
// knowledge file (§4.D drift detector). Detection never mutates state.
type DriftReport struct {
	Reviewer        reviewid.ReviewerID
	Tier            Tier
	Stale           bool
	Bloated         bool
	Contradictions  []string
	OrphanedEntries []string
	Recommendations []string
}

// DriftConfig bounds the staleness and bloat thresholds.
type DriftConfig struct {
	StalenessDays int
	BloatEntries  int
}

// DetectDrift computes a DriftReport for one reviewer/tier pair. fileExists
// is injected so tests and orphan-detection don't depend on the real
// filesystem beyond the knowledge store itself.
func DetectDrift(ctx context.Context, store *Store, reviewer reviewid.ReviewerID, tier Tier, cfg DriftConfig, fileExists func(string) bool) (DriftReport, error) {
	report := DriftReport{Reviewer: reviewer, Tier: tier}

	sections, err := store.Read(ctx, reviewer, tier)
	if err != nil {
		return report, fmt.Errorf("knowledge: drift detection read failed: %w", err)
	}

	var all []Entry
	total := 0
	staleCutoff := time.Now().AddDate(0, 0, -cfg.StalenessDays)
	for _, entries := range sections {
		total += len(entries)
		all = append(all, entries...)
		for _, e := range entries {
			if e.Date.Before(staleCutoff) {
				report.Stale = true
			}
		}
	}

	if total > cfg.BloatEntries {
		report.Bloated = true
	}

	report.Contradictions = findContradictions(all)
	report.OrphanedEntries = findOrphans(all, fileExists)

	if report.Stale {
		report.Recommendations = append(report.Recommendations, "prune entries older than the staleness window")
	}
	if report.Bloated {
		report.Recommendations = append(report.Recommendations, "consolidate or archive low-value entries")
	}
	if len(report.Contradictions) > 0 {
		report.Recommendations = append(report.Recommendations, "resolve contradictory entries before next retrieval")
	}
	if len(report.OrphanedEntries) > 0 {
		report.Recommendations = append(report.Recommendations, "remove entries referencing files that no longer exist")
	}

	return report, nil
}

// findContradictions flags pairs of entries whose text is the same once a
// negation marker is removed but which have opposite polarity ("not"/"never"
// vs. affirmative),
// a coarse heuristic sufficient for a reporting-only signal.
func findContradictions(entries []Entry) []string {
	negators := []string{"not ", "never ", "no longer ", "isn't ", "doesn't "}
	seen := make(map[string]bool)
	var out []string
	for i, a := range entries {
		aNeg := hasAny(a.Text, negators)
		for j := i + 1; j < len(entries); j++ {
			b := entries[j]
			if normalizeCore(a.Text) != normalizeCore(b.Text) {
				continue
			}
			bNeg := hasAny(b.Text, negators)
			if aNeg == bNeg {
				continue
			}
			key := a.Text + "|" + b.Text
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, fmt.Sprintf("%q contradicts %q", a.Text, b.Text))
		}
	}
	return out
}

func hasAny(s string, substrs []string) bool {
	for _, sub := range substrs {
		if contains(s, sub) {
			return true
		}
	}
	return false
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func normalizeCore(text string) string {
	for _, neg := range []string{"not ", "never ", "no longer ", "isn't ", "doesn't "} {
		for i := 0; i+len(neg) <= len(text); i++ {
			if text[i:i+len(neg)] == neg {
				return text[:i] + text[i+len(neg):]
			}
		}
	}
	return text
}

// findOrphans returns entries that reference a file path no longer present,
// by a simple heuristic: text containing a token that looks like a path
// (has a '.' and '/' or a known source extension) which fileExists rejects.
func findOrphans(entries []Entry, fileExists func(string) bool) []string {
	if fileExists == nil {
		fileExists = func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		}
	}
	var out []string
	for _, e := range entries {
		path := extractPathLike(e.Text)
		if path == "" {
			continue
		}
		if !fileExists(path) {
			out = append(out, e.Text)
		}
	}
	return out
}

func extractPathLike(text string) string {
	for _, word := range splitWords(text) {
		if len(word) > 3 && contains(word, ".") && (contains(word, "/") || hasCodeExtension(word)) {
			return word
		}
	}
	return ""
}

func splitWords(s string) []string {
	var words []string
	start := -1
	for i, r := range s {
		if r == ' ' || r == '\t' || r == '\n' {
			if start >= 0 {
				words = append(words, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		words = append(words, s[start:])
	}
	return words
}

func hasCodeExtension(word string) bool {
	for _, ext := range []string{".go", ".py", ".js", ".ts", ".java", ".rb", ".rs", ".c", ".cpp", ".md"} {
		if len(word) >= len(ext) && word[len(word)-len(ext):] == ext {
			return true
		}
	}
	return false
}
