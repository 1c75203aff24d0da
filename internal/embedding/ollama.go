package embedding

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/felixgeelhaar/aarii/internal/errdefs"
	"github.com/ollama/ollama/api"
)

// Ollama embeds with a locally served model such as all-minilm.
type Ollama struct {
	client *api.Client
	model  string
	dim    int
}

// NewOllama connects to host, falling back to OLLAMA_HOST and then the
// default local address.
func NewOllama(host, model string, dim int) (*Ollama, error) {
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = "http://localhost:11434"
	}
	uri, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	if model == "" {
		model = "all-minilm"
	}
	if dim <= 0 {
		dim = DefaultDimensions
	}

	return &Ollama{
		client: api.NewClient(uri, http.DefaultClient),
		model:  model,
		dim:    dim,
	}, nil
}

func (e *Ollama) Dimensions() int {
	return e.dim
}

func (e *Ollama) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.Embed(ctx, &api.EmbedRequest{
		Model: e.model,
		Input: texts,
	})
	if err != nil {
		return nil, &errdefs.ProviderError{Provider: "ollama", Op: "embed", Err: err}
	}
	return resp.Embeddings, nil
}
