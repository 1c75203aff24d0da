package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/aarii/internal/errdefs"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini embeds with Google's embedding models. text-embedding-004 produces
// 768 dimensions, so the configured dimension has to match.
type Gemini struct {
	client *genai.Client
	model  string
	dim    int
}

func NewGemini(ctx context.Context, apiKey, model string, dim int) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("API key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	if model == "" {
		model = "text-embedding-004"
	}
	return &Gemini{client: client, model: model, dim: dim}, nil
}

func (e *Gemini) Dimensions() int {
	return e.dim
}

func (e *Gemini) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	em := e.client.EmbeddingModel(e.model)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, &errdefs.ProviderError{Provider: "gemini", Op: "embed", Err: err}
	}

	out := make([][]float32, 0, len(res.Embeddings))
	for _, emb := range res.Embeddings {
		if emb == nil {
			return nil, &errdefs.ProviderError{Provider: "gemini", Op: "embed", Err: errors.New("no embedding returned")}
		}
		out = append(out, emb.Values)
	}
	return out, nil
}

func (e *Gemini) Close() error {
	return e.client.Close()
}
