// Package consensus implements the Consensus Score engine (component B): it
// aggregates validated clusters into a single bounded score, applies the
// Minority Protection Rule, and maps the result to a discrete tier.
package consensus

import (
	"sort"

	"github.com/sam-fakhreddine/consensus-review/internal/logging"
	"github.com/sam-fakhreddine/consensus-review/internal/model"
	"github.com/sam-fakhreddine/consensus-review/internal/reviewid"
)

// mprThreshold is the effective_r level that, on a security/reliability
// cluster, triggers the Minority Protection Rule override.
const mprThreshold = 8.5

// mprWeight and mprOffset define the MPR override formula:
// CS ← max(CS, mprWeight·R_max + mprOffset).
const (
	mprWeight = 0.7
	mprOffset = 2.0
)

// Core formula weights: CS = rbarWeight·R̄ + agreementWeight·R̄·(k̄/n) + maxWeight·R_max.
const (
	rbarWeight      = 0.5
	agreementWeight = 0.3
	maxWeight       = 0.2
)

func isMinorityProtected(id reviewid.ReviewerID) bool {
	return id == reviewid.Security || id == reviewid.Reliability
}

// hasMinorityProtectedContributor reports whether any of the cluster's
// contributing reviewers is security or reliability. Checked against the
// full contributor list, not just the (arbitrary, first-member) origin
// reviewer, matching the validator's own cross-check gate (needsCrossCheck).
func hasMinorityProtectedContributor(c model.ValidatedCluster) bool {
	for _, r := range c.ContributingReviewers {
		if isMinorityProtected(r) {
			return true
		}
	}
	return false
}

// Score computes the consensus result over validated clusters for a review
// that ran reviewerCount distinct reviewers. Clusters are sorted by
// fingerprint before aggregation so floating-point summation order never
// depends on arrival order (§5 ordering guarantee, §8 property 7).
func Score(clusters []model.ValidatedCluster, reviewerCount int) model.ConsensusResult {
	log := logging.Get(logging.CategoryConsensus)

	if len(clusters) == 0 {
		return model.ConsensusResult{
			CS:            0,
			Tier:          model.TierInformational,
			Passed:        true,
			MPRApplied:    false,
			ReviewerCount: reviewerCount,
			ClusterCount:  0,
		}
	}

	sorted := make([]model.ValidatedCluster, len(clusters))
	copy(sorted, clusters)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Fingerprint < sorted[j].Fingerprint
	})

	var sumR, maxR float64
	var sumK int
	maxRIdx := -1
	for i, c := range sorted {
		r := (c.Severity * c.Confidence / 10.0) * c.Weight
		sorted[i].EffectiveR = clamp(r, 0, 10)
		sumR += sorted[i].EffectiveR
		sumK += c.Agreement
		if sorted[i].EffectiveR > maxR {
			maxR = sorted[i].EffectiveR
			maxRIdx = i
		}
	}

	n := float64(reviewerCount)
	rbar := sumR / float64(len(sorted))
	kbar := float64(sumK) / float64(len(sorted))

	cs := rbarWeight*rbar + agreementWeight*rbar*safeDiv(kbar, n) + maxWeight*maxR
	cs = clamp(cs, 0, 10)

	mprApplied := false
	if maxRIdx >= 0 {
		for _, c := range sorted {
			r := (c.Severity * c.Confidence / 10.0) * c.Weight
			if r >= mprThreshold && hasMinorityProtectedContributor(c) {
				override := mprWeight*maxR + mprOffset
				if override > cs {
					cs = override
				}
				mprApplied = true
			}
		}
	}
	cs = clamp(cs, 0, 10)

	tier, passed := Tier(cs)

	log.Debug("scored %d clusters: cs=%.4f tier=%s passed=%v mpr=%v", len(sorted), cs, tier, passed, mprApplied)

	return model.ConsensusResult{
		CS:            cs,
		Tier:          tier,
		Passed:        passed,
		MPRApplied:    mprApplied,
		ReviewerCount: reviewerCount,
		ClusterCount:  len(sorted),
	}
}

// Tier maps a CS value to its discrete tier and pass/fail verdict. Ranges
// are half-open [lo, hi); a value exactly on a boundary belongs to the
// higher of the two tiers (3.0 is moderate, 5.0 important, 7.0 critical).
func Tier(cs float64) (model.Tier, bool) {
	switch {
	case cs < 3.0:
		return model.TierInformational, true
	case cs < 5.0:
		return model.TierModerate, true
	case cs < 7.0:
		return model.TierImportant, false
	default:
		return model.TierCritical, false
	}
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

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
