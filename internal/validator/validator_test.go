package validator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sam-fakhreddine/consensus-review/internal/model"
	"github.com/sam-fakhreddine/consensus-review/internal/reviewid"
)

type stubVerifier struct {
	confirmed bool
	err       error
}

func (s stubVerifier) Verify(model.Cluster) (bool, error) { return s.confirmed, s.err }

type stubHistory struct {
	falsePositives map[string]bool
	err            error
}

func (s stubHistory) IsFalsePositive(_ reviewid.ReviewerID, fingerprint string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.falsePositives[fingerprint], nil
}

func cluster(fp, file string, lo, hi int, sev float64, reviewers ...reviewid.ReviewerID) model.Cluster {
	return model.Cluster{
		Fingerprint:           fp,
		File:                  file,
		LineRange:             model.LineRange{Lo: lo, Hi: hi},
		Severity:              sev,
		ContributingReviewers: reviewers,
	}
}

func TestClassify_StructuralDemotesMissingFile(t *testing.T) {
	clusters := []model.Cluster{cluster("fp1", "missing.py", 1, 5, 5, reviewid.Correctness)}
	validated, warnings := Classify(clusters, nil, nil, nil)
	require.Len(t, validated, 1)
	assert.Equal(t, model.VerdictDisputed, validated[0].Verdict)
	assert.Empty(t, warnings)
}

func TestClassify_StructuralDemotesOutOfRangeLines(t *testing.T) {
	files := []FileInfo{{Path: "a.py", LineCount: 10}}
	clusters := []model.Cluster{cluster("fp1", "a.py", 1, 50, 5, reviewid.Correctness)}
	validated, _ := Classify(clusters, files, nil, nil)
	assert.Equal(t, model.VerdictDisputed, validated[0].Verdict)
}

func TestClassify_NoCrossCheckBelowThresholdStaysUnverified(t *testing.T) {
	files := []FileInfo{{Path: "a.py", LineCount: 100}}
	clusters := []model.Cluster{cluster("fp1", "a.py", 1, 5, 7.9, reviewid.Security)}
	validated, _ := Classify(clusters, files, nil, nil)
	assert.Equal(t, model.VerdictUnverified, validated[0].Verdict)
}

func TestClassify_CrossCheckConfirmsPromotesToVerified(t *testing.T) {
	files := []FileInfo{{Path: "a.py", LineCount: 100}}
	clusters := []model.Cluster{cluster("fp1", "a.py", 1, 5, 9, reviewid.Security)}
	validated, _ := Classify(clusters, files, stubVerifier{confirmed: true}, nil)
	assert.Equal(t, model.VerdictVerified, validated[0].Verdict)
}

func TestClassify_CrossCheckRefutesDemotesToDisputed(t *testing.T) {
	files := []FileInfo{{Path: "a.py", LineCount: 100}}
	clusters := []model.Cluster{cluster("fp1", "a.py", 1, 5, 9, reviewid.Security)}
	validated, _ := Classify(clusters, files, stubVerifier{confirmed: false}, nil)
	assert.Equal(t, model.VerdictDisputed, validated[0].Verdict)
}

func TestClassify_CrossCheckOnlyForSecurityReliability(t *testing.T) {
	files := []FileInfo{{Path: "a.py", LineCount: 100}}
	clusters := []model.Cluster{cluster("fp1", "a.py", 1, 5, 9, reviewid.Performance)}
	validated, _ := Classify(clusters, files, stubVerifier{confirmed: true}, nil)
	assert.Equal(t, model.VerdictUnverified, validated[0].Verdict)
}

func TestClassify_HistoricalExactMatchOverridesAll(t *testing.T) {
	files := []FileInfo{{Path: "a.py", LineCount: 100}}
	clusters := []model.Cluster{cluster("fp1", "a.py", 1, 5, 9, reviewid.Security)}
	history := stubHistory{falsePositives: map[string]bool{"fp1": true}}
	validated, _ := Classify(clusters, files, stubVerifier{confirmed: true}, history)
	assert.Equal(t, model.VerdictHistoricallyRejected, validated[0].Verdict)
	assert.Equal(t, 0.0, validated[0].Weight)
}

func TestClassify_VerifierErrorDemotesToUnverifiedWithWarning(t *testing.T) {
	files := []FileInfo{{Path: "a.py", LineCount: 100}}
	clusters := []model.Cluster{cluster("fp1", "a.py", 1, 5, 9, reviewid.Security)}
	validated, warnings := Classify(clusters, files, stubVerifier{err: errors.New("timeout")}, nil)
	assert.Equal(t, model.VerdictUnverified, validated[0].Verdict)
	assert.NotEmpty(t, warnings)
}

func TestClassify_HistoryErrorDoesNotAbortBatch(t *testing.T) {
	files := []FileInfo{{Path: "a.py", LineCount: 100}}
	clusters := []model.Cluster{cluster("fp1", "a.py", 1, 5, 5, reviewid.Correctness)}
	history := stubHistory{err: errors.New("io error")}
	validated, warnings := Classify(clusters, files, nil, history)
	require.Len(t, validated, 1)
	assert.NotEmpty(t, warnings)
}

func TestClassify_EmptyInputYieldsEmptyOutput(t *testing.T) {
	validated, warnings := Classify(nil, nil, nil, nil)
	assert.Empty(t, validated)
	assert.Empty(t, warnings)
}
