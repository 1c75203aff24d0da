package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/aarii/internal/errdefs"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAI embeds through any OpenAI-compatible /embeddings endpoint.
type OpenAI struct {
	client *openai.Client
	model  string
	dim    int
}

func NewOpenAI(apiKey, baseURL, model string, dim int) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("API key is required")
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	if dim <= 0 {
		dim = DefaultDimensions
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(config),
		model:  model,
		dim:    dim,
	}, nil
}

func (e *OpenAI) Dimensions() int {
	return e.dim
}

func (e *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: e.dim,
	})
	if err != nil {
		return nil, &errdefs.ProviderError{Provider: "openai", Op: "embed", Err: err}
	}
	if len(resp.Data) != len(texts) {
		return nil, &errdefs.ProviderError{
			Provider: "openai",
			Op:       "embed",
			Err:      fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(texts)),
		}
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, &errdefs.ProviderError{Provider: "openai", Op: "embed", Err: fmt.Errorf("embedding index %d out of range", d.Index)}
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
