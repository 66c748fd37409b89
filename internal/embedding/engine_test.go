package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity_IdenticalVectorsIsOne(t *testing.T) {
	a := []float32{1, 2, 3}
	sim, err := CosineSimilarity(a, a)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-9)
}

func TestCosineSimilarity_OrthogonalVectorsIsZero(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	sim, err := CosineSimilarity(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, sim, 1e-9)
}

func TestCosineSimilarity_MismatchedLengthErrors(t *testing.T) {
	_, err := CosineSimilarity([]float32{1}, []float32{1, 2})
	assert.Error(t, err)
}

func TestFindTopK_RanksDescendingAndTruncates(t *testing.T) {
	query := []float32{1, 0}
	corpus := [][]float32{
		{0, 1},
		{1, 0},
		{0.7, 0.7},
	}
	results, err := FindTopK(query, corpus, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 1, results[0].Index)
	assert.Equal(t, 2, results[1].Index)
}

func TestTFIDFEngine_EmbedGrowsVocabularyDeterministically(t *testing.T) {
	e := NewTFIDFEngine()
	ctx := context.Background()

	v1, err := e.Embed(ctx, "null pointer dereference")
	require.NoError(t, err)
	assert.Equal(t, 3, len(v1))

	v2, err := e.Embed(ctx, "sql injection vulnerability")
	require.NoError(t, err)
	assert.Equal(t, 6, len(v2))
}

func TestTFIDFEngine_SimilarTextsScoreHigherThanDissimilar(t *testing.T) {
	e := NewTFIDFEngine()
	ctx := context.Background()

	vecs, err := e.EmbedBatch(ctx, []string{
		"missing null check on input",
		"missing null check on argument",
		"unrelated performance regression in loop",
	})
	require.NoError(t, err)

	simSimilar, _ := CosineSimilarity(vecs[0], vecs[1])
	simDifferent, _ := CosineSimilarity(vecs[0], vecs[2])
	assert.Greater(t, simSimilar, simDifferent)
}

func TestFallbackEngine_FallsBackOnPrimaryError(t *testing.T) {
	primary := &erroringEngine{}
	fallback := NewTFIDFEngine()
	f := NewFallbackEngine(primary, fallback, 5000)

	vec, err := f.Embed(context.Background(), "some text")
	require.NoError(t, err)
	assert.NotNil(t, vec)
}

type erroringEngine struct{}

func (e *erroringEngine) Embed(context.Context, string) ([]float32, error) {
	return nil, assertErr
}
func (e *erroringEngine) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, assertErr
}
func (e *erroringEngine) Dimensions() int { return 0 }
func (e *erroringEngine) Name() string    { return "erroring" }

var assertErr = &simpleErr{"primary failed"}

type simpleErr struct{ msg string }

func (e *simpleErr) Error() string { return e.msg }
