package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// genaiDimensions is the output size of the configured embedding model
// (text-embedding-004 and compatible models emit 768-dimensional vectors).
const genaiDimensions = 768

// GenAIEngine wraps google.golang.org/genai as the injectable cloud
// embedding provider §4.D calls for. It is never consulted directly by
// retrieval code; callers wrap it in a FallbackEngine so a slow or failing
// call degrades to TFIDFEngine.
type GenAIEngine struct {
	client *genai.Client
	model  string
}

// NewGenAIEngine constructs a GenAIEngine against an already-configured
// genai client (API key / ADC resolution is the host's responsibility, per
// §1's "LLM invocation mechanics are out of scope").
func NewGenAIEngine(client *genai.Client, model string) *GenAIEngine {
	if model == "" {
		model = "text-embedding-004"
	}
	return &GenAIEngine{client: client, model: model}
}

func (g *GenAIEngine) Name() string     { return "genai:" + g.model }
func (g *GenAIEngine) Dimensions() int { return genaiDimensions }

func (g *GenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embedding: genai returned no embeddings for input")
	}
	return vecs[0], nil
}

func (g *GenAIEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if g.client == nil {
		return nil, fmt.Errorf("embedding: genai client not configured")
	}

	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, genai.NewContentFromText(t, genai.RoleUser))
	}

	resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("embedding: genai EmbedContent: %w", err)
	}

	out := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		out = append(out, e.Values)
	}
	if len(out) != len(texts) {
		return nil, fmt.Errorf("embedding: genai returned %d embeddings for %d inputs", len(out), len(texts))
	}
	return out, nil
}
