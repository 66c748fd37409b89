package knowledge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sam-fakhreddine/consensus-review/internal/reviewid"
)

func TestDetectDrift_FlagsStaleness(t *testing.T) {
	store := NewStore(t.TempDir(), time.Second)
	ctx := context.Background()

	_, err := store.Append(ctx, reviewid.Security, TierProject, Entry{
		Section: SectionPatternsFound,
		Date:    time.Now().AddDate(0, 0, -120),
		Text:    "old finding",
	})
	require.NoError(t, err)

	report, err := DetectDrift(ctx, store, reviewid.Security, TierProject, DriftConfig{StalenessDays: 90, BloatEntries: 50}, nil)
	require.NoError(t, err)
	assert.True(t, report.Stale)
	assert.False(t, report.Bloated)
	assert.NotEmpty(t, report.Recommendations)
}

func TestDetectDrift_FlagsBloat(t *testing.T) {
	store := NewStore(t.TempDir(), time.Second)
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		_, err := store.Append(ctx, reviewid.Correctness, TierProject, Entry{
			Section: SectionPatternsFound,
			Date:    time.Now(),
			Text:    "entry",
		})
		require.NoError(t, err)
	}

	report, err := DetectDrift(ctx, store, reviewid.Correctness, TierProject, DriftConfig{StalenessDays: 90, BloatEntries: 50}, nil)
	require.NoError(t, err)
	assert.True(t, report.Bloated)
}

func TestDetectDrift_FlagsContradictions(t *testing.T) {
	store := NewStore(t.TempDir(), time.Second)
	ctx := context.Background()

	_, err := store.Append(ctx, reviewid.Performance, TierProject, Entry{
		Section: SectionRepositoryRules,
		Date:    time.Now(),
		Text:    "caching layer is required for this endpoint",
	})
	require.NoError(t, err)
	_, err = store.Append(ctx, reviewid.Performance, TierProject, Entry{
		Section: SectionRepositoryRules,
		Date:    time.Now(),
		Text:    "caching layer is not required for this endpoint",
	})
	require.NoError(t, err)

	report, err := DetectDrift(ctx, store, reviewid.Performance, TierProject, DriftConfig{StalenessDays: 90, BloatEntries: 50}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, report.Contradictions)
}

func TestDetectDrift_FlagsOrphanedFileReferences(t *testing.T) {
	store := NewStore(t.TempDir(), time.Second)
	ctx := context.Background()

	_, err := store.Append(ctx, reviewid.Maintainability, TierProject, Entry{
		Section: SectionCodebaseContext,
		Date:    time.Now(),
		Text:    "see legacy/old_module.go for the pattern",
	})
	require.NoError(t, err)

	report, err := DetectDrift(ctx, store, reviewid.Maintainability, TierProject, DriftConfig{StalenessDays: 90, BloatEntries: 50}, func(string) bool { return false })
	require.NoError(t, err)
	assert.NotEmpty(t, report.OrphanedEntries)
}

func TestDetectDrift_CleanFileReportsNothing(t *testing.T) {
	store := NewStore(t.TempDir(), time.Second)
	report, err := DetectDrift(context.Background(), store, reviewid.Reliability, TierProject, DriftConfig{StalenessDays: 90, BloatEntries: 50}, nil)
	require.NoError(t, err)
	assert.False(t, report.Stale)
	assert.False(t, report.Bloated)
	assert.Empty(t, report.Recommendations)
}
