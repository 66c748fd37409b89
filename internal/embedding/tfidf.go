package embedding

import (
	"context"
	"math"
	"regexp"
	"strings"
	"sync"
)

var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9_]+`)

func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// TFIDFEngine is the mandatory stdlib-only embedding fallback (§4.D). It
// maintains a corpus-wide document-frequency table and renders each text as
// a dense vector over the vocabulary observed so far, so cosine similarity
// from engine.go works unchanged against it.
type TFIDFEngine struct {
	mu         sync.Mutex
	vocabulary map[string]int // token -> vocabulary index
	docFreq    map[string]int // token -> number of documents containing it
	docCount   int
}

// NewTFIDFEngine returns an empty TF-IDF engine; vocabulary grows as texts
// are embedded.
func NewTFIDFEngine() *TFIDFEngine {
	return &TFIDFEngine{
		vocabulary: make(map[string]int),
		docFreq:    make(map[string]int),
	}
}

func (e *TFIDFEngine) Name() string { return "tfidf" }

func (e *TFIDFEngine) Dimensions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.vocabulary)
}

// observe registers text's tokens into the vocabulary and document-frequency
// table, returning the term-frequency counts for this document.
func (e *TFIDFEngine) observe(text string) map[string]int {
	tokens := tokenize(text)
	tf := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.docCount++
	for tok := range tf {
		if _, ok := e.vocabulary[tok]; !ok {
			e.vocabulary[tok] = len(e.vocabulary)
		}
		e.docFreq[tok]++
	}
	return tf
}

// vectorize renders tf counts into a dense vector sized to the current
// vocabulary, using idf weighting. Must be called after observe so the
// vocabulary already contains every token in tf.
func (e *TFIDFEngine) vectorize(tf map[string]int) []float32 {
	e.mu.Lock()
	dim := len(e.vocabulary)
	vocab := e.vocabulary
	docFreq := e.docFreq
	docCount := e.docCount
	e.mu.Unlock()

	vec := make([]float32, dim)
	for tok, count := range tf {
		idx, ok := vocab[tok]
		if !ok {
			continue
		}
		idf := math.Log(float64(docCount+1)/float64(docFreq[tok]+1)) + 1.0
		vec[idx] = float32(float64(count) * idf)
	}
	return vec
}

// Embed tokenizes text, folds it into the running vocabulary, and returns
// its TF-IDF vector at the vocabulary's current dimensionality.
func (e *TFIDFEngine) Embed(_ context.Context, text string) ([]float32, error) {
	tf := e.observe(text)
	return e.vectorize(tf), nil
}

// EmbedBatch observes every text first so all vectors share one final
// vocabulary dimensionality, then vectorizes each.
func (e *TFIDFEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	tfs := make([]map[string]int, len(texts))
	for i, t := range texts {
		tfs[i] = e.observe(t)
	}
	out := make([][]float32, len(texts))
	for i, tf := range tfs {
		out[i] = e.vectorize(tf)
	}
	return out, nil
}

// Resize pads a vector embedded against an older, smaller vocabulary up to
// the current dimensionality, so historical cache entries remain comparable
// after the vocabulary has grown.
func (e *TFIDFEngine) Resize(vec []float32) []float32 {
	dim := e.Dimensions()
	if len(vec) >= dim {
		return vec
	}
	resized := make([]float32, dim)
	copy(resized, vec)
	return resized
}
