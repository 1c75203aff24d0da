// Package embedding turns text into fixed-dimension vectors.
//
// The concrete backends (hashing, OpenAI-compatible, Ollama, Gemini, plugin)
// are wrapped by Lazy, which loads the backend on first use, caches the
// outcome for the process lifetime and checks every vector it returns.
package embedding

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/felixgeelhaar/aarii/internal/errdefs"
)

// DefaultDimensions matches the all-MiniLM family used by local models.
const DefaultDimensions = 384

// Embedder converts texts to vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Loader constructs the underlying embedder.
type Loader func(ctx context.Context) (Embedder, error)

// Lazy initializes its embedder at most once, on the first call to Embed.
// A failed load is remembered and returned on every subsequent call.
type Lazy struct {
	dim  int
	load Loader

	once  sync.Once
	emb   Embedder
	err   error
	ready atomic.Bool
}

// NewLazy returns a Lazy embedder of fixed dimension dim backed by load.
func NewLazy(dim int, load Loader) *Lazy {
	return &Lazy{dim: dim, load: load}
}

var (
	sharedOnce sync.Once
	shared     *Lazy
)

// Shared returns the process-wide embedder. Only the first call's arguments
// are used; later calls return the same instance.
func Shared(dim int, load Loader) *Lazy {
	sharedOnce.Do(func() {
		shared = NewLazy(dim, load)
	})
	return shared
}

func (l *Lazy) Dimensions() int {
	return l.dim
}

// Loaded reports whether the backend has been initialized successfully.
func (l *Lazy) Loaded() bool {
	return l.ready.Load()
}

func (l *Lazy) init(ctx context.Context) error {
	l.once.Do(func() {
		emb, err := l.load(context.WithoutCancel(ctx))
		switch {
		case err != nil:
			l.err = &errdefs.InitializationError{Component: "embedding", Err: err}
		case emb == nil:
			l.err = &errdefs.InitializationError{Component: "embedding", Err: fmt.Errorf("loader returned no embedder")}
		case emb.Dimensions() != l.dim:
			l.err = &errdefs.InitializationError{
				Component: "embedding",
				Err:       fmt.Errorf("embedder produces %d dimensions, configured %d", emb.Dimensions(), l.dim),
			}
		default:
			l.emb = emb
			l.ready.Store(true)
		}
	})
	return l.err
}

// Embed returns one vector per text. Empty strings map to the zero vector
// without reaching the backend.
func (l *Lazy) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := l.init(ctx); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	var (
		pending []string
		pos     []int
	)
	for i, t := range texts {
		if t == "" {
			out[i] = make([]float32, l.dim)
			continue
		}
		pending = append(pending, t)
		pos = append(pos, i)
	}
	if len(pending) == 0 {
		return out, nil
	}

	vecs, err := l.emb.Embed(ctx, pending)
	if err != nil {
		if errdefs.IsProvider(err) {
			return nil, err
		}
		return nil, &errdefs.ProviderError{Provider: "embedding", Op: "embed", Err: err}
	}
	if len(vecs) != len(pending) {
		return nil, &errdefs.ProviderError{
			Provider: "embedding",
			Op:       "embed",
			Err:      fmt.Errorf("got %d vectors for %d texts", len(vecs), len(pending)),
		}
	}
	for j, v := range vecs {
		if len(v) != l.dim {
			return nil, &errdefs.ProviderError{
				Provider: "embedding",
				Op:       "embed",
				Err:      fmt.Errorf("vector %d has %d dimensions, want %d", j, len(v), l.dim),
			}
		}
		out[pos[j]] = v
	}
	return out, nil
}

// EmbedOne is a convenience for a single text.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 vector, got %d", len(vecs))
	}
	return vecs[0], nil
}
