package knowledge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sam-fakhreddine/consensus-review/internal/model"
	"github.com/sam-fakhreddine/consensus-review/internal/reviewid"
)

func fixedNow() time.Time { return time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC) }

func TestWritePromoted_AppendsOnlyVerifiedAboveThreshold(t *testing.T) {
	store := NewStore(t.TempDir(), time.Second)
	w := NewWriter(store, fixedNow)
	ctx := context.Background()

	clusters := []model.ValidatedCluster{
		{Cluster: model.Cluster{Fingerprint: "fp1", Severity: 8, OriginReviewer: reviewid.Security, Description: "d1"}, Verdict: model.VerdictVerified},
		{Cluster: model.Cluster{Fingerprint: "fp2", Severity: 6, OriginReviewer: reviewid.Security, Description: "d2"}, Verdict: model.VerdictVerified},  // below threshold
		{Cluster: model.Cluster{Fingerprint: "fp3", Severity: 9, OriginReviewer: reviewid.Security, Description: "d3"}, Verdict: model.VerdictUnverified}, // not verified
	}

	written, warnings := w.WritePromoted(ctx, clusters)
	assert.Empty(t, warnings)
	assert.Equal(t, 1, written)

	sections, err := store.Read(ctx, reviewid.Security, TierProject)
	require.NoError(t, err)
	require.Len(t, sections[SectionPatternsFound], 1)
	assert.Equal(t, "d1", sections[SectionPatternsFound][0].Text)
}

func TestWritePromoted_AlsoWritesGlobalAboveHigherThreshold(t *testing.T) {
	store := NewStore(t.TempDir(), time.Second)
	w := NewWriter(store, fixedNow)
	ctx := context.Background()

	clusters := []model.ValidatedCluster{
		{Cluster: model.Cluster{Fingerprint: "fp1", Severity: 9.5, Confidence: 9, OriginReviewer: reviewid.Reliability, Description: "critical incident"}, Verdict: model.VerdictVerified},
	}

	written, warnings := w.WritePromoted(ctx, clusters)
	assert.Empty(t, warnings)
	assert.Equal(t, 2, written) // project + global

	global, err := store.Read(ctx, reviewid.Reliability, TierGlobal)
	require.NoError(t, err)
	assert.Len(t, global[SectionPatternsFound], 1)
}

func TestWritePromoted_NoQualifyingClustersWritesNothing(t *testing.T) {
	store := NewStore(t.TempDir(), time.Second)
	w := NewWriter(store, fixedNow)

	written, warnings := w.WritePromoted(context.Background(), []model.ValidatedCluster{
		{Cluster: model.Cluster{Severity: 2}, Verdict: model.VerdictVerified},
	})
	assert.Equal(t, 0, written)
	assert.Empty(t, warnings)
}
