package embedding

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/felixgeelhaar/aarii/internal/errdefs"
)

type countingEmbedder struct {
	dim   int
	calls atomic.Int32
	texts []string
	mu    sync.Mutex
}

func (c *countingEmbedder) Dimensions() int { return c.dim }

func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(1)
	c.mu.Lock()
	c.texts = append(c.texts, texts...)
	c.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, c.dim)
		v[len(t)%c.dim] = 1
		out[i] = v
	}
	return out, nil
}

func TestLazy_LoadsOnce(t *testing.T) {
	var loads atomic.Int32
	inner := &countingEmbedder{dim: 4}
	l := NewLazy(4, func(ctx context.Context) (Embedder, error) {
		loads.Add(1)
		return inner, nil
	})

	if l.Loaded() {
		t.Fatal("expected lazy embedder to start unloaded")
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Embed(context.Background(), []string{"hello"}); err != nil {
				t.Errorf("embed failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if loads.Load() != 1 {
		t.Errorf("expected loader to run once, ran %d times", loads.Load())
	}
	if !l.Loaded() {
		t.Error("expected embedder to be loaded")
	}
}

func TestLazy_LoadFailureIsSticky(t *testing.T) {
	var loads atomic.Int32
	l := NewLazy(4, func(ctx context.Context) (Embedder, error) {
		loads.Add(1)
		return nil, errors.New("model file missing")
	})

	for i := 0; i < 3; i++ {
		_, err := l.Embed(context.Background(), []string{"x"})
		if !errdefs.IsInitialization(err) {
			t.Fatalf("expected initialization error, got %v", err)
		}
	}
	if loads.Load() != 1 {
		t.Errorf("expected a single load attempt, got %d", loads.Load())
	}
}

func TestLazy_DimensionMismatch(t *testing.T) {
	l := NewLazy(8, func(ctx context.Context) (Embedder, error) {
		return &countingEmbedder{dim: 4}, nil
	})
	_, err := l.Embed(context.Background(), []string{"x"})
	if !errdefs.IsInitialization(err) {
		t.Fatalf("expected initialization error, got %v", err)
	}
}

func TestLazy_EmptyTextSkipsBackend(t *testing.T) {
	inner := &countingEmbedder{dim: 3}
	l := NewLazy(3, func(ctx context.Context) (Embedder, error) { return inner, nil })

	vecs, err := l.Embed(context.Background(), []string{"", "abc", ""})
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vecs))
	}
	for _, i := range []int{0, 2} {
		for _, f := range vecs[i] {
			if f != 0 {
				t.Errorf("expected zero vector at %d, got %v", i, vecs[i])
			}
		}
	}
	if len(inner.texts) != 1 || inner.texts[0] != "abc" {
		t.Errorf("expected backend to see only non-empty text, saw %v", inner.texts)
	}
}

type shortEmbedder struct{}

func (shortEmbedder) Dimensions() int { return 4 }
func (shortEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return [][]float32{{1, 2}}, nil
}

func TestLazy_BadVectorIsProviderError(t *testing.T) {
	l := NewLazy(4, func(ctx context.Context) (Embedder, error) { return shortEmbedder{}, nil })
	_, err := l.Embed(context.Background(), []string{"a"})
	if !errdefs.IsProvider(err) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestHash(t *testing.T) {
	h := NewHash(64)
	ctx := context.Background()

	vecs, err := h.Embed(ctx, []string{"I like cats", "I like cats", "", strings.Repeat("long text ", 5000)})
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	if len(vecs[0]) != 64 {
		t.Fatalf("expected 64 dimensions, got %d", len(vecs[0]))
	}
	for i := range vecs[0] {
		if vecs[0][i] != vecs[1][i] {
			t.Fatal("expected deterministic output")
		}
	}
	for _, f := range vecs[2] {
		if f != 0 {
			t.Fatal("expected zero vector for empty text")
		}
	}
}

func TestOpenAI_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"object": "list",
			"data": [
				{"object": "embedding", "index": 1, "embedding": [0, 1, 0]},
				{"object": "embedding", "index": 0, "embedding": [1, 0, 0]}
			],
			"model": "text-embedding-3-small"
		}`))
	}))
	defer server.Close()

	e, err := NewOpenAI("test-key", server.URL, "", 3)
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	vecs, err := e.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	if vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Errorf("expected results ordered by index, got %v", vecs)
	}
}

func TestOpenAI_Init(t *testing.T) {
	if _, err := NewOpenAI("", "", "", 0); err == nil {
		t.Error("expected error for empty key")
	}
}

func TestOllama_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model": "all-minilm", "embeddings": [[0.5, 0.5], [1, 0]]}`))
	}))
	defer server.Close()

	e, err := NewOllama(server.URL, "all-minilm", 2)
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	if len(vecs) != 2 || vecs[1][0] != 1 {
		t.Errorf("unexpected vectors %v", vecs)
	}
}

func TestOllama_ErrorIsProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "model not loaded"}`))
	}))
	defer server.Close()

	e, _ := NewOllama(server.URL, "all-minilm", 2)
	_, err := e.Embed(context.Background(), []string{"a"})
	if !errdefs.IsProvider(err) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestCached(t *testing.T) {
	inner := &countingEmbedder{dim: 4}
	c, err := NewCached(inner, 100)
	if err != nil {
		t.Fatalf("cache init failed: %v", err)
	}
	defer c.Close()

	first, err := c.Embed(context.Background(), []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	second, err := c.Embed(context.Background(), []string{"beta", "alpha"})
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}

	for i := range first[0] {
		if first[0][i] != second[1][i] || first[1][i] != second[0][i] {
			t.Fatal("expected cached vectors to match originals")
		}
	}
	if inner.calls.Load() > 2 {
		t.Errorf("expected at most 2 backend calls, got %d", inner.calls.Load())
	}
	if c.Dimensions() != 4 {
		t.Errorf("expected 4 dimensions, got %d", c.Dimensions())
	}
}
