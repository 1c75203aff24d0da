// Package vectorindex implements a flat, exact inner-product index over
// fixed-dimension vectors. Slots are assigned in insertion order and never
// reused; the index only grows (Truncate exists to undo a failed append).
package vectorindex

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

// ErrInvalidK is returned when Search is called with k <= 0.
var ErrInvalidK = errors.New("k must be positive")

// Hit is a single search result.
type Hit struct {
	Slot  int
	Score float32
}

// Index stores vectors row-major in a single slice.
type Index struct {
	mu   sync.RWMutex
	dim  int
	data []float32
}

// New returns an empty index of the given dimension.
func New(dim int) *Index {
	return &Index{dim: dim}
}

// Dim returns the fixed vector dimension.
func (x *Index) Dim() int {
	return x.dim
}

// Len returns the number of stored vectors.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.len()
}

func (x *Index) len() int {
	if x.dim == 0 {
		return 0
	}
	return len(x.data) / x.dim
}

// Add appends vec and returns its slot, which equals the size of the index
// before the insert.
func (x *Index) Add(vec []float32) (int, error) {
	if len(vec) != x.dim {
		return 0, fmt.Errorf("vector has dimension %d, index expects %d", len(vec), x.dim)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	slot := x.len()
	x.data = append(x.data, vec...)
	return slot, nil
}

// Vector returns a copy of the vector stored at slot.
func (x *Index) Vector(slot int) ([]float32, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if slot < 0 || slot >= x.len() {
		return nil, false
	}
	out := make([]float32, x.dim)
	copy(out, x.data[slot*x.dim:(slot+1)*x.dim])
	return out, true
}

// Truncate drops every slot >= n. It is a no-op if n >= Len.
func (x *Index) Truncate(n int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if n < 0 {
		n = 0
	}
	if n >= x.len() {
		return
	}
	x.data = x.data[:n*x.dim]
}

// Search returns up to k hits by descending inner product. Equal scores are
// ordered by ascending slot.
func (x *Index) Search(q []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}
	if len(q) != x.dim {
		return nil, fmt.Errorf("query has dimension %d, index expects %d", len(q), x.dim)
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	n := x.len()
	if n == 0 {
		return []Hit{}, nil
	}
	if k > n {
		k = n
	}

	h := make(minHeap, 0, k)
	for slot := 0; slot < n; slot++ {
		row := x.data[slot*x.dim : (slot+1)*x.dim]
		hit := Hit{Slot: slot, Score: dot(q, row)}
		if len(h) < k {
			heap.Push(&h, hit)
			continue
		}
		if better(hit, h[0]) {
			h[0] = hit
			heap.Fix(&h, 0)
		}
	}

	hits := []Hit(h)
	sort.Slice(hits, func(i, j int) bool { return better(hits[i], hits[j]) })
	return hits, nil
}

// Normalize returns v scaled to unit L2 norm. The zero vector is returned
// unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	out := make([]float32, len(v))
	copy(out, v)
	if sum == 0 {
		return out
	}
	norm := float32(math.Sqrt(sum))
	for i := range out {
		out[i] /= norm
	}
	return out
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// better reports whether a ranks ahead of b.
func better(a, b Hit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Slot < b.Slot
}

// minHeap keeps the worst retained hit at the root.
type minHeap []Hit

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return better(h[j], h[i]) }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(v any)        { *h = append(*h, v.(Hit)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}
