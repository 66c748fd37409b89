// Package fingerprint implements the deduplicator (component A): it
// collapses near-duplicate findings emitted by multiple reviewers into
// agreement-annotated clusters using a deterministic fingerprint plus a
// bounded fuzzy-merge pass.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"

	"github.com/sam-fakhreddine/consensus-review/internal/logging"
	"github.com/sam-fakhreddine/consensus-review/internal/model"
	"github.com/sam-fakhreddine/consensus-review/internal/reviewid"
)

// lineBucketDivisor controls fingerprint line-coarsening: lo/3.
const lineBucketDivisor = 3

// lineTolerance is the ±N line window used by the fuzzy merge rule.
const lineTolerance = 3

// jaccardMergeThreshold is the maximum token-Jaccard distance (1 - similarity)
// at which two descriptions on the same file are considered the same defect.
const jaccardMergeThreshold = 0.15

var punctuation = regexp.MustCompile(`[^\w\s]`)
var whitespaceRun = regexp.MustCompile(`\s+`)

// NormalizeDescription lowercases, strips punctuation, and collapses
// whitespace runs. This is the pinned scheme for the "normalized
// description" referenced by the fuzzy-merge rule; it must never change
// across runs without also updating stored fingerprints.
func NormalizeDescription(desc string) string {
	lower := strings.ToLower(desc)
	noPunct := punctuation.ReplaceAllString(lower, "")
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(noPunct, " "))
}

// Fingerprint computes the deterministic SHA-256 clustering key over
// (file, normalized_description, floor(lo/3)).
func Fingerprint(file string, description string, lo int) string {
	bucket := lo / lineBucketDivisor
	normalized := NormalizeDescription(description)
	h := sha256.New()
	h.Write([]byte(file))
	h.Write([]byte{0})
	h.Write([]byte(normalized))
	h.Write([]byte{0})
	h.Write([]byte{byte(bucket), byte(bucket >> 8), byte(bucket >> 16), byte(bucket >> 24)})
	return hex.EncodeToString(h.Sum(nil))
}

// tokenJaccardDistance returns 1 - |A∩B|/|A∪B| over whitespace tokens of the
// two normalized descriptions. Two empty token sets are distance 0 (identical).
func tokenJaccardDistance(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}
	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return 1 - float64(intersection)/float64(union)
}

func tokenSet(s string) map[string]bool {
	tokens := strings.Fields(s)
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

func overlapsOrNear(a, b model.LineRange, tolerance int) bool {
	if a == (model.LineRange{}) || b == (model.LineRange{}) {
		return true // no line info on one side; don't let it block a file+text match
	}
	if a.Lo <= b.Hi+tolerance && b.Lo <= a.Hi+tolerance {
		return true
	}
	return false
}

// working is a cluster under construction, carrying its raw members so the
// greedy merge pass can compare new findings against every prior member of
// the cluster (not just the first).
type working struct {
	members []model.RawFinding
}

// Merge clusters raw findings into agreement-annotated clusters, in
// deterministic left-to-right order. reviewerCount clamps the reported
// agreement so it can never exceed the number of reviewers that actually
// ran, even if upstream parsing somehow duplicated a reviewer's output.
func Merge(findings []model.RawFinding, reviewerCount int) []model.Cluster {
	log := logging.Get(logging.CategoryDedup)
	timer := logging.StartTimer(logging.CategoryDedup, "merge")
	defer timer.Stop()

	var kept []model.RawFinding
	for _, f := range findings {
		if f.File == "" && strings.TrimSpace(f.Description) == "" {
			log.Warn("dropping finding with no file and no description (reviewer=%s)", f.ReviewerID)
			continue
		}
		kept = append(kept, f)
	}
	if len(kept) == 0 {
		return nil
	}

	var fingerprints []string
	normalized := make([]string, len(kept))
	for i, f := range kept {
		normalized[i] = NormalizeDescription(f.Description)
		fingerprints = append(fingerprints, Fingerprint(f.File, f.Description, f.LineRange.Lo))
	}

	var groups []*working
	fpToGroup := make(map[string]int)

	for i, f := range kept {
		fp := fingerprints[i]
		if idx, ok := fpToGroup[fp]; ok {
			groups[idx].members = append(groups[idx].members, f)
			continue
		}

		merged := false
		for gi, g := range groups {
			for _, m := range g.members {
				if m.File != f.File {
					continue
				}
				if tokenJaccardDistance(NormalizeDescription(m.Description), normalized[i]) > jaccardMergeThreshold {
					continue
				}
				if !overlapsOrNear(m.LineRange, f.LineRange, lineTolerance) {
					continue
				}
				merged = true
				break
			}
			if merged {
				g.members = append(g.members, f)
				fpToGroup[fp] = gi
				break
			}
		}
		if merged {
			continue
		}

		groups = append(groups, &working{members: []model.RawFinding{f}})
		fpToGroup[fp] = len(groups) - 1
	}

	clusters := make([]model.Cluster, 0, len(groups))
	for _, g := range groups {
		clusters = append(clusters, buildCluster(g.members, reviewerCount))
	}

	log.Debug("merged %d findings into %d clusters", len(kept), len(clusters))
	return clusters
}

func buildCluster(members []model.RawFinding, reviewerCount int) model.Cluster {
	first := members[0]
	rep := first
	severity, confidence := first.Severity, first.Confidence
	remediation := first.Remediation

	reviewerSeen := make(map[reviewid.ReviewerID]bool)
	var contributing []reviewid.ReviewerID

	for _, m := range members {
		if m.Severity > severity {
			severity = m.Severity
		}
		if m.Confidence > confidence {
			confidence = m.Confidence
		}
		if len(m.Description) > len(rep.Description) {
			rep = m
		}
		if remediation == "" && m.Remediation != "" {
			remediation = m.Remediation
		}
		if !reviewerSeen[m.ReviewerID] {
			reviewerSeen[m.ReviewerID] = true
			contributing = append(contributing, m.ReviewerID)
		}
	}

	sort.Slice(contributing, func(i, j int) bool {
		return contributing[i].String() < contributing[j].String()
	})

	agreement := len(contributing)
	if reviewerCount > 0 && agreement > reviewerCount {
		agreement = reviewerCount
	}

	return model.Cluster{
		Fingerprint:           Fingerprint(rep.File, rep.Description, rep.LineRange.Lo),
		File:                  rep.File,
		LineRange:             rep.LineRange,
		Severity:              severity,
		Confidence:            confidence,
		Agreement:             agreement,
		Description:           rep.Description,
		Remediation:           remediation,
		ContributingReviewers: contributing,
		OriginReviewer:        first.ReviewerID,
	}
}
