// Package validator implements the three-layer finding validator
// (component C): structural location check, cross-check via chain-of-
// verification, and historical false-positive matching. The worst verdict
// across the three layers wins.
package validator

import (
	"fmt"

	"github.com/sam-fakhreddine/consensus-review/internal/logging"
	"github.com/sam-fakhreddine/consensus-review/internal/model"
	"github.com/sam-fakhreddine/consensus-review/internal/reviewid"
)

// crossCheckSeverityThreshold is the severity at or above which a
// security/reliability cluster requires a Chain-of-Verification sub-task.
const crossCheckSeverityThreshold = 8.0

// FileInfo describes one changed file's known line count, used by the
// structural layer to check that a finding's line range is plausible.
type FileInfo struct {
	Path      string
	LineCount int
}

// Verifier resolves a Chain-of-Verification sub-task for one cluster. A real
// orchestrator backs this with a host round-trip or a recursive in-process
// call (§9 open question: either is compliant); tests use a stub.
type Verifier interface {
	// Verify returns true if the claim is confirmed, false if refuted.
	Verify(cluster model.Cluster) (confirmed bool, err error)
}

// HistoryChecker reports whether a fingerprint exactly matches a prior
// false_positives entry for the given reviewer, per the knowledge store.
type HistoryChecker interface {
	IsFalsePositive(reviewer reviewid.ReviewerID, fingerprint string) (bool, error)
}

func needsCrossCheck(c model.Cluster) bool {
	if c.Severity < crossCheckSeverityThreshold {
		return false
	}
	for _, r := range c.ContributingReviewers {
		if r == reviewid.Security || r == reviewid.Reliability {
			return true
		}
	}
	return false
}

func worseVerdict(a, b model.Verdict) model.Verdict {
	if a.Weight() <= b.Weight() {
		return a
	}
	return b
}

// Classify runs the three-layer validator over clusters, consulting files
// for structural checks, verifier for cross-checks, and history for the
// historical layer. Any layer's internal exception is recovered and demotes
// that cluster to UNVERIFIED; it never aborts the batch. warnings accumulates
// human-readable notices for the result's warnings[] field.
func Classify(clusters []model.Cluster, files []FileInfo, verifier Verifier, history HistoryChecker) (validated []model.ValidatedCluster, warnings []string) {
	log := logging.Get(logging.CategoryValidator)
	fileIndex := make(map[string]FileInfo, len(files))
	for _, f := range files {
		fileIndex[f.Path] = f
	}

	validated = make([]model.ValidatedCluster, 0, len(clusters))
	for _, c := range clusters {
		verdict, warn := classifyOne(c, fileIndex, verifier, history, log)
		if warn != "" {
			warnings = append(warnings, warn)
		}
		weight := verdict.Weight()
		validated = append(validated, model.ValidatedCluster{
			Cluster: c,
			Verdict: verdict,
			Weight:  weight,
		})
	}
	return validated, warnings
}

func classifyOne(c model.Cluster, fileIndex map[string]FileInfo, verifier Verifier, history HistoryChecker, log *logging.Logger) (verdict model.Verdict, warning string) {
	verdict = model.VerdictVerified // fold of worst layer; VERIFIED only survives if every layer passes

	// Layer 1: structural. Passing is the VERIFIED baseline; a missing file
	// or out-of-range line range demotes to DISPUTED.
	structural := model.VerdictVerified
	if info, ok := fileIndex[c.File]; ok {
		if c.LineRange.Hi > info.LineCount || c.LineRange.Lo < 0 {
			structural = model.VerdictDisputed
		}
	} else if c.File != "" {
		structural = model.VerdictDisputed
	}
	verdict = worseVerdict(verdict, structural)

	// Layer 2: cross-check, only for high-severity security/reliability
	// clusters. A finding that never undergoes cross-check caps at
	// UNVERIFIED: VERIFIED requires an actual confirmation, not its absence.
	crossCheck := model.VerdictUnverified
	if needsCrossCheck(c) && verifier != nil {
		var err error
		crossCheck, err = safeVerify(verifier, c)
		if err != nil {
			warning = fmt.Sprintf("validator: cross-check failed for cluster %s: %v", c.Fingerprint, err)
			log.Warn("%s", warning)
			crossCheck = model.VerdictUnverified
		}
	}
	verdict = worseVerdict(verdict, crossCheck)

	// Layer 3: historical false-positive match.
	if history != nil {
		for _, reviewer := range c.ContributingReviewers {
			isFP, err := safeHistory(history, reviewer, c.Fingerprint)
			if err != nil {
				w := fmt.Sprintf("validator: history check failed for cluster %s: %v", c.Fingerprint, err)
				log.Warn("%s", w)
				if warning == "" {
					warning = w
				}
				verdict = worseVerdict(verdict, model.VerdictUnverified)
				continue
			}
			if isFP {
				verdict = worseVerdict(verdict, model.VerdictHistoricallyRejected)
				break
			}
		}
	}

	return verdict, warning
}

func safeVerify(v Verifier, c model.Cluster) (verdict model.Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in verifier: %v", r)
		}
	}()
	confirmed, verr := v.Verify(c)
	if verr != nil {
		return model.VerdictUnverified, verr
	}
	if confirmed {
		return model.VerdictVerified, nil
	}
	return model.VerdictDisputed, nil
}

func safeHistory(h HistoryChecker, reviewer reviewid.ReviewerID, fingerprint string) (isFP bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in history checker: %v", r)
		}
	}()
	return h.IsFalsePositive(reviewer, fingerprint)
}
