package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// Hash is an offline embedder based on feature hashing of word tokens and
// character trigrams. It needs no model files, which makes it the default
// when no remote or plugin backend is configured.
type Hash struct {
	dim int
}

func NewHash(dim int) *Hash {
	if dim <= 0 {
		dim = DefaultDimensions
	}
	return &Hash{dim: dim}
}

func (h *Hash) Dimensions() int {
	return h.dim
}

func (h *Hash) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(t)
	}
	return out, nil
}

func (h *Hash) vector(text string) []float32 {
	vec := make([]float32, h.dim)
	for _, tok := range tokenize(text) {
		h.add(vec, "w:"+tok, 1.0)
		padded := "^" + tok + "$"
		runes := []rune(padded)
		for i := 0; i+3 <= len(runes); i++ {
			h.add(vec, "c:"+string(runes[i:i+3]), 0.35)
		}
	}
	return vec
}

// add folds a feature into its bucket with a hash-derived sign so that
// collisions tend to cancel instead of accumulate.
func (h *Hash) add(vec []float32, feature string, weight float32) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dim))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
