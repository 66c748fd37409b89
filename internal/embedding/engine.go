// Package embedding provides the injectable embedding provider §4.D
// requires for knowledge retrieval scoring, plus the mandatory TF-IDF
// fallback and a content-hash-keyed on-disk cache.
package embedding

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Engine is the injectable embedding provider interface, shaped after the
// teacher's EmbeddingEngine so swapping providers never touches retrieval
// logic.
type Engine interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

// SimilarityResult pairs a corpus index with its similarity score.
type SimilarityResult struct {
	Index      int
	Similarity float64
}

// CosineSimilarity computes the cosine similarity between two equal-length
// embedding vectors.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("embedding: vector length mismatch (%d vs %d)", len(a), len(b))
	}
	if len(a) == 0 {
		return 0, fmt.Errorf("embedding: empty vectors")
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// FindTopK ranks corpus entries against query by cosine similarity and
// returns the k highest-scoring, in descending order.
func FindTopK(query []float32, corpus [][]float32, k int) ([]SimilarityResult, error) {
	results := make([]SimilarityResult, 0, len(corpus))
	for i, vec := range corpus {
		sim, err := CosineSimilarity(query, vec)
		if err != nil {
			continue
		}
		results = append(results, SimilarityResult{Index: i, Similarity: sim})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if k > 0 && k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// FallbackEngine wraps a primary engine with a context deadline and consults
// the fallback whenever the primary exceeds its configured budget or returns
// any error, matching §5's "embedding provider 5s timeout,
// fail-open to TF-IDF" requirement.
type FallbackEngine struct {
	Primary  Engine
	Fallback Engine
	Timeout  func() context.Context
}

// NewFallbackEngine wires primary (e.g. GenAIEngine) with fallback (TFIDFEngine).
func NewFallbackEngine(primary, fallback Engine, timeoutMS int64) *FallbackEngine {
	return &FallbackEngine{
		Primary:  primary,
		Fallback: fallback,
		Timeout: func() context.Context {
			ctx, _ := context.WithTimeout(context.Background(), msToDuration(timeoutMS))
			return ctx
		},
	}
}

func (f *FallbackEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	bound, cancel := withBudget(ctx, f.Timeout)
	defer cancel()
	vec, err := f.Primary.Embed(bound, text)
	if err != nil {
		return f.Fallback.Embed(ctx, text)
	}
	return vec, nil
}

func (f *FallbackEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	bound, cancel := withBudget(ctx, f.Timeout)
	defer cancel()
	vecs, err := f.Primary.EmbedBatch(bound, texts)
	if err != nil {
		return f.Fallback.EmbedBatch(ctx, texts)
	}
	return vecs, nil
}

func (f *FallbackEngine) Dimensions() int { return f.Fallback.Dimensions() }
func (f *FallbackEngine) Name() string    { return fmt.Sprintf("fallback(%s->%s)", f.Primary.Name(), f.Fallback.Name()) }

func withBudget(parent context.Context, timeoutCtx func() context.Context) (context.Context, context.CancelFunc) {
	bound := timeoutCtx()
	if deadline, ok := bound.Deadline(); ok {
		return context.WithDeadline(parent, deadline)
	}
	return context.WithCancel(parent)
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// BuildQuery derives the retrieval query text from (file basenames, diff
// excerpt, file extensions), per §4.D.
func BuildQuery(files []string, diffExcerpt string) string {
	var b strings.Builder
	exts := make(map[string]bool)
	for _, f := range files {
		base := f
		if idx := strings.LastIndexByte(f, '/'); idx >= 0 {
			base = f[idx+1:]
		}
		b.WriteString(base)
		b.WriteByte(' ')
		if idx := strings.LastIndexByte(base, '.'); idx >= 0 {
			exts[base[idx+1:]] = true
		}
	}
	for ext := range exts {
		b.WriteString(ext)
		b.WriteByte(' ')
	}
	b.WriteString(diffExcerpt)
	return b.String()
}
